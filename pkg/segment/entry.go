// Package segment implements the segmented, append-only on-disk log
// described in spec §4.2: fixed-size segment descriptors, per-segment
// offset indexes (ordered while the segment is active, searchable once
// compacted), and a Manager that tiles segments across the index space
// and drives rotation, truncation, the commit/lock cascade and
// compaction.
package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/copycat/copycat/pkg/types"
)

// entryHeaderSize is the fixed portion of an encoded entry preceding its
// variable-length key: u32 length + u8 kind + u64 term + u64 timestamp.
const entryHeaderSize = 4 + 1 + 8 + 8

// maxVarintLen64 bounds the space reserved for the key-length varint.
const maxVarintLen64 = binary.MaxVarintLen64

// encodedLen returns the total on-disk size of e, length prefix included.
func encodedLen(e types.Entry) int {
	keyLen := len(e.Key)
	return entryHeaderSize + uvarintLen(uint64(keyLen)) + keyLen + len(e.Payload)
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// encodeEntry serializes e as `{u32 length, u8 kind, u64 term, u64 timestamp,
// varint keyLen, key, payload}`. length counts the entire record, including
// itself, so a reader recovering from a torn write can skip-scan forward by
// re-reading length prefixes (§4.2 recovery).
func encodeEntry(e types.Entry) []byte {
	total := encodedLen(e)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[5:13], e.Term)
	binary.BigEndian.PutUint64(buf[13:21], e.Timestamp)
	n := binary.PutUvarint(buf[21:], uint64(len(e.Key)))
	off := 21 + n
	off += copy(buf[off:], e.Key)
	copy(buf[off:], e.Payload)
	return buf
}

// decodeLength reads just the leading length prefix, e.g. to size a read
// buffer before decodeEntry.
func decodeLength(prefix []byte) (uint32, error) {
	if len(prefix) < 4 {
		return 0, fmt.Errorf("segment: short length prefix (%d bytes)", len(prefix))
	}
	return binary.BigEndian.Uint32(prefix[0:4]), nil
}

// decodeEntry parses a full record (length prefix included) produced by
// encodeEntry. The returned Entry's Index is left zero; callers derive it
// from the segment's first index and the record's offset.
func decodeEntry(buf []byte) (types.Entry, error) {
	if len(buf) < entryHeaderSize {
		return types.Entry{}, fmt.Errorf("segment: record shorter than header (%d bytes)", len(buf))
	}
	total := binary.BigEndian.Uint32(buf[0:4])
	if int(total) != len(buf) {
		return types.Entry{}, fmt.Errorf("segment: record length mismatch: header says %d, got %d", total, len(buf))
	}
	var e types.Entry
	e.Kind = types.EntryKind(buf[4])
	e.Term = binary.BigEndian.Uint64(buf[5:13])
	e.Timestamp = binary.BigEndian.Uint64(buf[13:21])
	keyLen, n := binary.Uvarint(buf[21:])
	if n <= 0 {
		return types.Entry{}, fmt.Errorf("segment: invalid key-length varint")
	}
	off := 21 + n
	end := off + int(keyLen)
	if end > len(buf) {
		return types.Entry{}, fmt.Errorf("segment: key length %d exceeds record", keyLen)
	}
	if keyLen > 0 {
		e.Key = append([]byte(nil), buf[off:end]...)
	}
	if payload := buf[end:]; len(payload) > 0 {
		e.Payload = append([]byte(nil), payload...)
	}
	return e, nil
}
