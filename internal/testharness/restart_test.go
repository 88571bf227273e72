package testharness

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/copycat/copycat/pkg/codec"
	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/raft"
	"github.com/copycat/copycat/pkg/segment"
	"github.com/copycat/copycat/pkg/storage"
	"github.com/copycat/copycat/pkg/transport"
	"github.com/copycat/copycat/pkg/types"
)

// S4: a leader cut off from the rest of the cluster by a network
// partition loses leadership to the majority side; once the partition
// heals, the old leader's divergent (or merely stale) suffix is
// reconciled and the cluster converges back to one leader and one log.
func TestPartitionedLeaderStepsDownAndHeals(t *testing.T) {
	c := New(t, 3, WithTiming(150*time.Millisecond, 30*time.Millisecond))
	leader := c.Leader(3 * time.Second)
	require.NotNil(t, leader)

	resp, err := c.Submit(leader.Address, []byte("before-partition"))
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, resp.Status)
	require.True(t, c.WaitForCommit(1, 2*time.Second))

	c.Registry.Partition(leader.Address)
	t.Cleanup(func() { c.Registry.Heal(leader.Address) })

	// The majority side (the other two nodes) must elect a new leader
	// once the old leader's heartbeats stop arriving.
	var newLeader *Node
	require.Eventually(t, func() bool {
		for _, n := range c.Nodes {
			if n.ID == leader.ID {
				continue
			}
			term, leaderID, hasLeader := n.Ctx.Status()
			if hasLeader && leaderID == n.ID && term > 0 {
				newLeader = n
				return true
			}
		}
		return false
	}, 3*time.Second, 30*time.Millisecond, "majority side never elected a new leader")
	require.NotEqual(t, leader.ID, newLeader.ID)

	resp, err = c.Submit(newLeader.Address, []byte("during-partition"))
	require.NoError(t, err)
	require.Equal(t, types.StatusOK, resp.Status)
	require.True(t, c.WaitForCommitExcept(2, leader.ID, 3*time.Second))

	c.Registry.Heal(leader.Address)

	// The old leader must step down to the new term and adopt the
	// majority side's log once it can hear from the cluster again.
	require.Eventually(t, func() bool {
		return leader.Ctx.CommitIndex() >= 2
	}, 3*time.Second, 30*time.Millisecond, "old leader never caught up after healing")

	for _, n := range c.Nodes {
		require.Eventually(t, func() bool {
			return len(n.Applied()) == 2
		}, 3*time.Second, 30*time.Millisecond, "node %d never applied both commands", n.ID)
	}
	require.Equal(t, newLeader.Applied(), leader.Applied())
}

// S6: a node's segmented log and stable store survive a close/reopen
// cycle, so a restarted single-node cluster recovers every previously
// committed command instead of starting from an empty state machine.
func TestNodeRecoversCommittedLogAfterRestart(t *testing.T) {
	logDir := t.TempDir()
	storeDir := t.TempDir()
	addr := "node-1"
	member := types.Member{ID: 1, Address: addr, Type: types.MemberActive}
	electionTimeout := 150 * time.Millisecond
	heartbeatInterval := 30 * time.Millisecond

	registry := transport.NewRegistry()

	open := func(applied *[][]byte) *raft.Context {
		segLog, err := segment.Open(segment.Config{Directory: logDir, Name: "copycat"})
		require.NoError(t, err)
		store, err := storage.NewBoltStore(storeDir)
		require.NoError(t, err)
		trans, err := transport.NewChannelTransport(registry, addr)
		require.NoError(t, err)
		broker := events.NewBroker()
		broker.Start()
		t.Cleanup(broker.Stop)

		ctx, err := raft.Open(raft.Config{
			ID:                1,
			Address:           addr,
			MemberType:        types.MemberActive,
			ElectionTimeout:   electionTimeout,
			HeartbeatInterval: heartbeatInterval,
			Members:           []types.Member{member},
			Log:               segLog,
			Store:             store,
			Transport:         trans,
			Codec:             codec.JSONCodec{},
			Broker:            broker,
			Apply: func(e types.Entry) ([]byte, error) {
				*applied = append(*applied, e.Payload)
				return e.Payload, nil
			},
		})
		require.NoError(t, err)
		return ctx
	}

	var clientSeq int
	submit := func(addr string, operation []byte) types.SubmitResponse {
		clientSeq++
		clientAddr := fmt.Sprintf("client-%d", clientSeq)
		client, err := transport.NewChannelTransport(registry, clientAddr)
		require.NoError(t, err)
		defer client.Close()

		cdc := codec.JSONCodec{}
		body, err := cdc.Encode(types.SubmitRequest{Operation: operation})
		require.NoError(t, err)
		env := types.Envelope{Type: types.FrameSubmitRequest, Body: body}
		respEnv, err := client.Send(context.Background(), addr, env)
		require.NoError(t, err)
		var resp types.SubmitResponse
		require.NoError(t, cdc.Decode(respEnv.Body, &resp))
		return resp
	}

	var applied [][]byte
	ctx := open(&applied)

	require.Eventually(t, func() bool {
		_, leaderID, hasLeader := ctx.Status()
		return hasLeader && leaderID == 1
	}, 2*time.Second, 20*time.Millisecond)

	var want [][]byte
	for i := 0; i < 5; i++ {
		payload := []byte(fmt.Sprintf("cmd-%d", i))
		want = append(want, payload)
		resp := submit(addr, payload)
		require.Equal(t, types.StatusOK, resp.Status)
	}
	require.Eventually(t, func() bool {
		return ctx.CommitIndex() >= 5
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, want, applied)

	require.NoError(t, ctx.Close())

	var recovered [][]byte
	ctx2 := open(&recovered)
	t.Cleanup(func() { ctx2.Close() })

	require.Eventually(t, func() bool {
		_, leaderID, hasLeader := ctx2.Status()
		return hasLeader && leaderID == 1
	}, 2*time.Second, 20*time.Millisecond, "restarted node never re-elected itself leader")

	require.Eventually(t, func() bool {
		return len(recovered) == 5
	}, 2*time.Second, 20*time.Millisecond, "restarted node never replayed its committed log")
	require.Equal(t, want, recovered)
}
