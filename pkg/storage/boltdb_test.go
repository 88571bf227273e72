package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/types"
)

func TestBoltStoreLoadStateEmpty(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	term, votedFor, hasVote, err := store.LoadState()
	require.NoError(t, err)
	require.Zero(t, term)
	require.Zero(t, votedFor)
	require.False(t, hasVote)
}

func TestBoltStoreSaveVoteRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveVote(5, 2))
	term, votedFor, hasVote, err := store.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(5), term)
	require.Equal(t, uint32(2), votedFor)
	require.True(t, hasVote)
}

func TestBoltStoreSaveTermClearsVote(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveVote(5, 2))
	require.NoError(t, store.SaveTerm(6))

	term, _, hasVote, err := store.LoadState()
	require.NoError(t, err)
	require.Equal(t, uint64(6), term)
	require.False(t, hasVote)
}

func TestBoltStoreMembershipRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	members := []types.Member{
		{ID: 1, Type: types.MemberActive, Address: "127.0.0.1:9001"},
		{ID: 2, Type: types.MemberPassive, Address: "127.0.0.1:9002"},
	}
	require.NoError(t, store.SaveMembership(members))

	got, err := store.LoadMembership()
	require.NoError(t, err)
	require.Equal(t, members, got)
}
