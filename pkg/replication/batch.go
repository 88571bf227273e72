package replication

import "github.com/copycat/copycat/pkg/types"

// DefaultMaxBatchBytes and DefaultMaxBatchEntries bound one append RPC's
// payload (§4.4: "batches up to 1 MiB or maxBatchEntries per RPC,
// whichever limit is reached first").
const (
	DefaultMaxBatchBytes   = 1 << 20
	DefaultMaxBatchEntries = 1024
)

// LogReader is the slice of segment.Manager a batcher needs: fetching one
// entry at a time keeps this package decoupled from the segment package's
// concrete types.
type LogReader interface {
	Get(index uint64) (types.Entry, error)
}

// BatchEntries collects entries starting at fromIndex (inclusive) up to
// and including lastIndex, stopping early once maxBytes or maxEntries is
// reached. maxBytes/maxEntries <= 0 fall back to the package defaults.
// An empty result with a nil error means fromIndex > lastIndex: there is
// nothing new to send, and the caller should issue a heartbeat-only
// append instead.
func BatchEntries(log LogReader, fromIndex, lastIndex uint64, maxBytes int, maxEntries int) ([]types.Entry, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxBatchEntries
	}
	if fromIndex > lastIndex {
		return nil, nil
	}

	var batch []types.Entry
	size := 0
	for idx := fromIndex; idx <= lastIndex; idx++ {
		e, err := log.Get(idx)
		if err != nil {
			return nil, err
		}
		entryBytes := len(e.Key) + len(e.Payload) + 32
		if len(batch) > 0 && size+entryBytes > maxBytes {
			break
		}
		batch = append(batch, e)
		size += entryBytes
		if len(batch) >= maxEntries {
			break
		}
	}
	return batch, nil
}
