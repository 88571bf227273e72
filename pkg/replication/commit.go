package replication

import "sort"

// TermAt resolves the term an index was written at, so AdvanceCommit can
// enforce the leader-completeness commit rule.
type TermAt func(index uint64) (term uint64, ok bool)

// AdvanceCommit computes the highest index the leader may commit, given
// the current matchIndex of every voting member (including the leader's
// own, which callers should include as lastIndex), a quorum size, the
// leader's current term, and the previous commitIndex.
//
// Raft only allows a leader to commit an entry from a prior term by
// committing an entry from its own current term alongside it (§4.3
// Leader, the "leader only commits entries from its own term directly"
// rule) — so the returned index never advances past one whose term
// differs from currentTerm unless a current-term index also has quorum.
func AdvanceCommit(matchIndices []uint64, quorum int, currentTerm uint64, termAt TermAt, commitIndex uint64) uint64 {
	if len(matchIndices) == 0 || quorum <= 0 {
		return commitIndex
	}
	sorted := append([]uint64(nil), matchIndices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if quorum > len(sorted) {
		return commitIndex
	}
	// The quorum-th highest value (0-indexed quorum-1) is the highest
	// index replicated to at least `quorum` members.
	candidate := sorted[quorum-1]

	best := commitIndex
	for candidate > best {
		term, ok := termAt(candidate)
		if ok && term == currentTerm {
			best = candidate
			break
		}
		candidate--
	}
	return best
}
