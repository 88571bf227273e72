// Package testharness wires several in-process raft.Context instances
// together over a shared transport.Registry so integration tests can drive
// a whole cluster without a network, the way the teacher's own test suite
// stands up an in-memory scheduler/reconciler pair.
package testharness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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

// Node bundles one cluster member's raft.Context with the applied commands
// its state machine has recorded, for assertions.
type Node struct {
	ID      uint32
	Address string
	Ctx     *raft.Context

	mu      sync.Mutex
	applied [][]byte
}

func (n *Node) recordApply(entry types.Entry) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applied = append(n.applied, entry.Payload)
	return entry.Payload, nil
}

// Applied returns a snapshot of the commands this node's state machine has
// applied, in commit order.
func (n *Node) Applied() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.applied))
	copy(out, n.applied)
	return out
}

// Cluster is a set of cooperating Nodes sharing one in-process registry.
type Cluster struct {
	t        *testing.T
	Registry *transport.Registry
	Nodes    []*Node

	electionTimeout   time.Duration
	heartbeatInterval time.Duration

	clientSeq atomic.Uint64
}

// Option configures a Cluster at New time.
type Option func(*clusterConfig)

type clusterConfig struct {
	electionTimeout   time.Duration
	heartbeatInterval time.Duration
	passiveIDs        map[uint32]bool
}

// WithTiming overrides the default fast test timing.
func WithTiming(election, heartbeat time.Duration) Option {
	return func(c *clusterConfig) {
		c.electionTimeout = election
		c.heartbeatInterval = heartbeat
	}
}

// WithPassive marks the given member IDs as passive (non-voting) members.
func WithPassive(ids ...uint32) Option {
	return func(c *clusterConfig) {
		for _, id := range ids {
			c.passiveIDs[id] = true
		}
	}
}

// New stands up a Cluster of n active/passive members, fully wired and
// already running (each Context's executor started), with cleanup
// registered against t.
func New(t *testing.T, n int, opts ...Option) *Cluster {
	t.Helper()

	cfg := clusterConfig{
		electionTimeout:   200 * time.Millisecond,
		heartbeatInterval: 40 * time.Millisecond,
		passiveIDs:        make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := transport.NewRegistry()
	members := make([]types.Member, 0, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		id := uint32(i + 1)
		addr := fmt.Sprintf("node-%d", id)
		addrs[i] = addr
		mt := types.MemberActive
		if cfg.passiveIDs[id] {
			mt = types.MemberPassive
		}
		members = append(members, types.Member{ID: id, Address: addr, Type: mt})
	}

	c := &Cluster{t: t, Registry: registry, electionTimeout: cfg.electionTimeout, heartbeatInterval: cfg.heartbeatInterval}

	for i := 0; i < n; i++ {
		id := members[i].ID
		addr := addrs[i]

		segLog, err := segment.Open(segment.Config{Directory: t.TempDir(), Name: "copycat"})
		require.NoError(t, err)

		store, err := storage.NewBoltStore(t.TempDir())
		require.NoError(t, err)

		trans, err := transport.NewChannelTransport(registry, addr)
		require.NoError(t, err)

		broker := events.NewBroker()
		broker.Start()

		node := &Node{ID: id, Address: addr}

		ctx, err := raft.Open(raft.Config{
			ID:                id,
			Address:           addr,
			MemberType:        members[i].Type,
			ElectionTimeout:   cfg.electionTimeout,
			HeartbeatInterval: cfg.heartbeatInterval,
			Members:           members,
			Log:               segLog,
			Store:             store,
			Transport:         trans,
			Codec:             codec.JSONCodec{},
			Broker:            broker,
			Apply:             node.recordApply,
		})
		require.NoError(t, err)

		node.Ctx = ctx
		c.Nodes = append(c.Nodes, node)

		t.Cleanup(func() {
			ctx.Close()
			broker.Stop()
		})
	}

	return c
}

// Leader polls the cluster until at least one node believes itself leader
// and returns the one with the highest term, or nil once the deadline
// passes. It does not check that no other node also claims leadership.
func (c *Cluster) Leader(timeout time.Duration) *Node {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var best *Node
		var bestTerm uint64
		for _, n := range c.Nodes {
			term, leaderID, hasLeader := n.Ctx.Status()
			if hasLeader && leaderID == n.ID && term >= bestTerm {
				best = n
				bestTerm = term
			}
		}
		if best != nil {
			return best
		}
		time.Sleep(c.heartbeatInterval)
	}
	return nil
}

// ByID returns the node with the given member ID.
func (c *Cluster) ByID(id uint32) *Node {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Submit sends operation to addr as a client would, over a throwaway
// ChannelTransport registered in the same registry, and decodes the
// SubmitResponse.
func (c *Cluster) Submit(addr string, operation []byte) (types.SubmitResponse, error) {
	clientAddr := fmt.Sprintf("client-%d", c.clientSeq.Add(1))
	client, err := transport.NewChannelTransport(c.Registry, clientAddr)
	if err != nil {
		return types.SubmitResponse{}, err
	}
	defer client.Close()

	cdc := codec.JSONCodec{}
	body, err := cdc.Encode(types.SubmitRequest{Operation: operation})
	if err != nil {
		return types.SubmitResponse{}, err
	}
	env := types.Envelope{Type: types.FrameSubmitRequest, Body: body}

	respEnv, err := client.Send(context.Background(), addr, env)
	if err != nil {
		return types.SubmitResponse{}, err
	}
	var resp types.SubmitResponse
	if err := cdc.Decode(respEnv.Body, &resp); err != nil {
		return types.SubmitResponse{}, err
	}
	return resp, nil
}

// WaitForCommit blocks until every node's commit index (passive members
// included) reaches at least index, or the deadline passes, returning false on timeout.
func (c *Cluster) WaitForCommit(index uint64, timeout time.Duration) bool {
	return c.WaitForCommitExcept(index, 0, timeout)
}

// WaitForCommitExcept is WaitForCommit but skips the node with the given
// ID, for assertions made while that node is deliberately partitioned off.
func (c *Cluster) WaitForCommitExcept(index uint64, exceptID uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allCaughtUp := true
		for _, n := range c.Nodes {
			if n.ID == exceptID {
				continue
			}
			if n.Ctx.CommitIndex() < index {
				allCaughtUp = false
				break
			}
		}
		if allCaughtUp {
			return true
		}
		time.Sleep(c.heartbeatInterval)
	}
	return false
}
