package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/types"
)

func openManager(t *testing.T, dir string, cfg Config) *Manager {
	t.Helper()
	cfg.Directory = dir
	m, err := Open(cfg)
	require.NoError(t, err)
	return m
}

func TestManagerAppendGetAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	small := encodedLen(types.Entry{Payload: []byte("x")})
	m := openManager(t, dir, Config{Name: "wal", MaxSegmentSize: uint64(descriptorSize + small)})

	var indices []uint64
	for i := 0; i < 5; i++ {
		idx, err := m.Append(types.Entry{Term: 1, Payload: []byte("x")})
		require.NoError(t, err)
		indices = append(indices, idx)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, indices)
	require.Len(t, m.Segments(), 5, "one entry per segment at this size limit")

	for _, idx := range indices {
		e, err := m.Get(idx)
		require.NoError(t, err)
		require.Equal(t, []byte("x"), e.Payload)
	}
	require.NoError(t, m.Close())
}

func TestManagerTruncateDeletesTrailingSegments(t *testing.T) {
	dir := t.TempDir()
	small := encodedLen(types.Entry{Payload: []byte("x")})
	m := openManager(t, dir, Config{Name: "wal", MaxSegmentSize: uint64(descriptorSize + small)})

	for i := 0; i < 5; i++ {
		_, err := m.Append(types.Entry{Payload: []byte("x")})
		require.NoError(t, err)
	}
	require.NoError(t, m.Truncate(2))
	require.Equal(t, uint64(2), m.LastIndex())
	require.False(t, m.ContainsIndex(3))
	require.True(t, m.ContainsIndex(2))

	idx, err := m.Append(types.Entry{Payload: []byte("y")})
	require.NoError(t, err)
	require.Equal(t, uint64(3), idx)
}

func TestManagerSkipRecordsGap(t *testing.T) {
	dir := t.TempDir()
	m := openManager(t, dir, Config{Name: "wal"})

	idx, err := m.Append(types.Entry{Payload: []byte("a")})
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	require.NoError(t, m.Skip(3))

	idx, err = m.Append(types.Entry{Payload: []byte("b")})
	require.NoError(t, err)
	require.Equal(t, uint64(5), idx)
	require.False(t, m.ContainsIndex(2))
	require.False(t, m.ContainsIndex(4))
}

func TestManagerCommitCascadesLockAcrossSegments(t *testing.T) {
	dir := t.TempDir()
	small := encodedLen(types.Entry{Payload: []byte("x")})
	m := openManager(t, dir, Config{Name: "wal", MaxSegmentSize: uint64(descriptorSize + small)})

	for i := 0; i < 3; i++ {
		_, err := m.Append(types.Entry{Payload: []byte("x")})
		require.NoError(t, err)
	}
	segs := m.Segments()
	require.Len(t, segs, 3)
	for _, s := range segs {
		require.False(t, s.Locked())
	}

	require.NoError(t, m.Commit(2))
	segs = m.Segments()
	require.True(t, segs[0].Locked())
	require.True(t, segs[1].Locked())
	require.False(t, segs[2].Locked())
}

func TestManagerCompactDropsEntries(t *testing.T) {
	dir := t.TempDir()
	m := openManager(t, dir, Config{Name: "wal"})

	for i := 0; i < 4; i++ {
		_, err := m.Append(types.Entry{Term: 1, Key: []byte{byte(i)}, Payload: []byte("v")})
		require.NoError(t, err)
	}
	require.NoError(t, m.Commit(4))

	segs := m.Segments()
	require.Len(t, segs, 1)
	id := segs[0].ID()

	// Drop every entry with an even key, keeping the range intact.
	require.NoError(t, m.Compact(id, func(e types.Entry) bool {
		return len(e.Key) > 0 && e.Key[0]%2 == 1
	}))

	require.False(t, m.ContainsIndex(1)) // key 0, dropped
	require.True(t, m.ContainsIndex(2))  // key 1, retained
	require.False(t, m.ContainsIndex(3)) // key 2, dropped
	require.True(t, m.ContainsIndex(4))  // key 3, retained

	e, err := m.Get(2)
	require.NoError(t, err)
	require.Equal(t, byte(1), e.Key[0])
}

func TestManagerRecoveryPrefersLockedHigherVersion(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "wal"}.withDefaults()

	seg, err := createSegment(dir, cfg.Name, 1, 1, 1, cfg)
	require.NoError(t, err)
	_, err = seg.Append(types.Entry{Payload: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, seg.setLocked(true))
	require.NoError(t, seg.sync())
	require.NoError(t, seg.close())

	// A higher version exists (as if compaction wrote it) and is locked:
	// recovery should keep it and discard the original.
	seg2, err := createSegment(dir, cfg.Name, 1, 2, 1, cfg)
	require.NoError(t, err)
	_, err = seg2.Append(types.Entry{Payload: []byte("a-compacted")})
	require.NoError(t, err)
	require.NoError(t, seg2.setLocked(true))
	require.NoError(t, seg2.sync())
	require.NoError(t, seg2.close())

	m, err := Open(cfg)
	require.NoError(t, err)
	segs := m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(2), segs[0].Version())
}

func TestManagerRecoveryDiscardsIncompleteCompaction(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Directory: dir, Name: "wal"}.withDefaults()

	seg, err := createSegment(dir, cfg.Name, 1, 1, 1, cfg)
	require.NoError(t, err)
	_, err = seg.Append(types.Entry{Payload: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, seg.setLocked(true))
	require.NoError(t, seg.sync())
	require.NoError(t, seg.close())

	// A higher, unlocked version: compaction started but crashed before
	// finishing. Recovery must discard it and keep the original.
	seg2, err := createSegment(dir, cfg.Name, 1, 2, 1, cfg)
	require.NoError(t, err)
	require.NoError(t, seg2.close())

	m, err := Open(cfg)
	require.NoError(t, err)
	segs := m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(1), segs[0].Version())
}
