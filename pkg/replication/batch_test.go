package replication

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/types"
)

type fakeLog struct {
	entries map[uint64]types.Entry
}

func (f *fakeLog) Get(index uint64) (types.Entry, error) {
	e, ok := f.entries[index]
	if !ok {
		return types.Entry{}, fmt.Errorf("no entry at %d", index)
	}
	return e, nil
}

func newFakeLog(n int) *fakeLog {
	f := &fakeLog{entries: make(map[uint64]types.Entry)}
	for i := 1; i <= n; i++ {
		f.entries[uint64(i)] = types.Entry{Index: uint64(i), Term: 1, Payload: make([]byte, 100)}
	}
	return f
}

func TestBatchEntriesReturnsNilWhenCaughtUp(t *testing.T) {
	log := newFakeLog(5)
	batch, err := BatchEntries(log, 6, 5, 0, 0)
	require.NoError(t, err)
	require.Nil(t, batch)
}

func TestBatchEntriesRespectsMaxEntries(t *testing.T) {
	log := newFakeLog(10)
	batch, err := BatchEntries(log, 1, 10, 0, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, uint64(1), batch[0].Index)
	require.Equal(t, uint64(3), batch[2].Index)
}

func TestBatchEntriesRespectsMaxBytesButAlwaysSendsOne(t *testing.T) {
	log := newFakeLog(10)
	batch, err := BatchEntries(log, 1, 10, 50, 0)
	require.NoError(t, err)
	require.Len(t, batch, 1, "must send at least one entry even if it exceeds maxBytes alone")
}

func TestBatchEntriesStopsAtLastIndex(t *testing.T) {
	log := newFakeLog(10)
	batch, err := BatchEntries(log, 8, 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, batch, 3)
}
