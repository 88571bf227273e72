/*
Package storage provides bbolt-backed persistence for the small amount of
state a Raft context must never lose across a restart: currentTerm,
votedFor, and the last known membership snapshot.

Term and vote are written in a single bbolt transaction (SaveVote) so a
crash between the two writes can never leave them observably
inconsistent, which would risk violating the vote-per-term invariant.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	term, votedFor, hasVote, err := store.LoadState()
	err = store.SaveVote(term, candidateID)
	err = store.SaveMembership(members)
*/
package storage
