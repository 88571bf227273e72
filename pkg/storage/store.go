package storage

import "github.com/copycat/copycat/pkg/types"

// Store is the stable store a Raft context depends on for the state that
// must survive a restart without loss: currentTerm, votedFor and the last
// known membership snapshot. The vote-per-term invariant (§3) requires
// term and vote to be written together, so SaveVote takes both.
type Store interface {
	// LoadState returns the persisted term and vote, or zero values if
	// none has ever been saved (a brand-new node).
	LoadState() (term uint64, votedFor uint32, hasVote bool, err error)

	// SaveVote persists term and votedFor atomically together.
	SaveVote(term uint64, votedFor uint32) error

	// SaveTerm persists a term change with no accompanying vote (e.g. on
	// observing a higher term in an RPC before voting in it).
	SaveTerm(term uint64) error

	// SaveMembership persists the full membership snapshot, overwriting
	// any previous one.
	SaveMembership(members []types.Member) error

	// LoadMembership returns the last persisted membership snapshot, or
	// an empty slice if none has ever been saved.
	LoadMembership() ([]types.Member, error)

	Close() error
}
