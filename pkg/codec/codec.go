// Package codec defines the pluggable object <-> byte-buffer mapper used
// to serialize Envelope bodies, and provides a JSON-backed default
// implementation.
package codec

import "encoding/json"

// Codec maps Go values to and from wire bytes. Transports never interpret
// the body themselves; they hand raw bytes to a Codec on the way in and
// out.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is the default Codec, backed by encoding/json. It favors
// debuggability over throughput; a binary codec can be substituted
// without any caller changes.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
