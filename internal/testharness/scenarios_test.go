package testharness

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/types"
)

// S1: a single-node cluster commits and applies every submitted operation.
func TestSingleNodeCommits(t *testing.T) {
	c := New(t, 1)
	leader := c.Leader(2 * time.Second)
	require.NotNil(t, leader)

	resp, err := c.Submit(leader.Address, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, resp.Status)
	require.Equal(t, []byte("hello"), resp.Result)

	require.True(t, c.WaitForCommit(1, 2*time.Second))
	require.Equal(t, [][]byte{[]byte("hello")}, leader.Applied())
}

// S2: a three-node cluster elects a single leader and every member
// converges on the same applied log after a batch of commands.
func TestThreeNodeHappyPath(t *testing.T) {
	c := New(t, 3)
	leader := c.Leader(3 * time.Second)
	require.NotNil(t, leader)

	const n = 100
	for i := 0; i < n; i++ {
		resp, err := c.Submit(leader.Address, []byte(fmt.Sprintf("cmd-%d", i)))
		require.NoError(t, err)
		require.Equal(t, types.StatusOK, resp.Status, "command %d", i)
	}

	require.True(t, c.WaitForCommit(uint64(n), 5*time.Second))

	want := c.ByID(1).Applied()
	for _, node := range c.Nodes {
		require.Eventually(t, func() bool {
			return len(node.Applied()) == n
		}, 3*time.Second, 20*time.Millisecond, "node %d never applied all commands", node.ID)
		require.Equal(t, want, node.Applied(), "node %d diverged from node 1", node.ID)
	}
}

// S3: once the leader steps away (simulated by submitting directly to a
// follower), Submit against the non-leader fails with NO_LEADER_ERROR
// instead of silently accepting the write.
func TestSubmitAgainstFollowerFails(t *testing.T) {
	c := New(t, 3)
	leader := c.Leader(3 * time.Second)
	require.NotNil(t, leader)

	var follower *Node
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	resp, err := c.Submit(follower.Address, []byte("op"))
	require.NoError(t, err)
	require.Equal(t, types.StatusError, resp.Status)
	require.Equal(t, types.ErrNoLeader, resp.Error)
}

// S5: a passive member, which never receives direct replication from the
// leader, eventually catches up on committed entries purely through
// anti-entropy gossip.
func TestPassiveMemberCatchesUpViaGossip(t *testing.T) {
	c := New(t, 4, WithPassive(4))
	leader := c.Leader(3 * time.Second)
	require.NotNil(t, leader)
	require.NotEqual(t, uint32(4), leader.ID)

	for i := 0; i < 10; i++ {
		resp, err := c.Submit(leader.Address, []byte(fmt.Sprintf("cmd-%d", i)))
		require.NoError(t, err)
		require.Equal(t, types.StatusOK, resp.Status)
	}

	passive := c.ByID(4)
	require.Eventually(t, func() bool {
		return passive.Ctx.CommitIndex() >= 10
	}, 5*time.Second, 50*time.Millisecond, "passive member never caught up via gossip")
}
