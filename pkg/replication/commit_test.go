package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceCommitRequiresCurrentTermEntry(t *testing.T) {
	termAt := func(index uint64) (uint64, bool) {
		if index <= 5 {
			return 1, true
		}
		return 2, true
	}
	// Three voters, quorum 2. matchIndex = [10, 10, 3] -> sorted desc
	// [10,10,3], quorum-th (2nd) highest is 10. Term at 10 is 2 ==
	// currentTerm 2, so commit advances all the way to 10.
	got := AdvanceCommit([]uint64{10, 10, 3}, 2, 2, termAt, 0)
	require.Equal(t, uint64(10), got)
}

func TestAdvanceCommitRefusesPriorTermEntryAlone(t *testing.T) {
	termAt := func(index uint64) (uint64, bool) {
		return 1, true // every index is from term 1
	}
	// currentTerm is 2, so no index can be committed directly since none
	// is from the current term.
	got := AdvanceCommit([]uint64{10, 10, 3}, 2, 2, termAt, 0)
	require.Equal(t, uint64(0), got)
}

func TestAdvanceCommitNeverRegresses(t *testing.T) {
	termAt := func(index uint64) (uint64, bool) { return 1, true }
	got := AdvanceCommit([]uint64{2, 2, 1}, 2, 1, termAt, 5)
	require.Equal(t, uint64(5), got)
}

func TestAdvanceCommitInsufficientVotersReturnsUnchanged(t *testing.T) {
	termAt := func(index uint64) (uint64, bool) { return 1, true }
	got := AdvanceCommit([]uint64{10}, 2, 1, termAt, 3)
	require.Equal(t, uint64(3), got)
}
