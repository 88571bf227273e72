// Package raft implements the Raft state machine (§4.3): role transitions,
// the per-role RPC handler contracts, the submit pipeline, and passive
// gossip catch-up, all driven through a single-threaded Executor per the
// concurrency model in §5.
package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/copycat/copycat/pkg/codec"
	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/log"
	"github.com/copycat/copycat/pkg/replication"
	"github.com/copycat/copycat/pkg/segment"
	"github.com/copycat/copycat/pkg/storage"
	"github.com/copycat/copycat/pkg/transport"
	"github.com/copycat/copycat/pkg/types"
)

// ApplyFunc is the commit callback (§4.3 Submit pipeline step 3), invoked
// in index order with each committed command entry; its returned bytes
// (or error) are the result handed back to the submitter.
type ApplyFunc func(entry types.Entry) ([]byte, error)

// Config bundles everything needed to start a Raft context.
type Config struct {
	ID                uint32
	Address           string
	MemberType        types.MemberType
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
	Members           []types.Member // seed membership, including self

	Log       *segment.Manager
	Store     storage.Store
	Transport transport.Transport
	Codec     codec.Codec
	Broker    *events.Broker
	Apply     ApplyFunc
}

func (c Config) withDefaults() Config {
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = 150 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.ElectionTimeout / 3
	}
	if c.Apply == nil {
		c.Apply = func(types.Entry) ([]byte, error) { return nil, nil }
	}
	return c
}

// Context is the per-node Raft state machine. Every field below is only
// ever mutated on the executor goroutine; readers from other goroutines
// go through the copy-on-write membership view or the accessor methods
// that hop onto the executor via SubmitSync.
type Context struct {
	cfg Config

	id         uint32
	selfAddr   string
	memberType types.MemberType

	executor *Executor

	log       *segment.Manager
	store     storage.Store
	transport transport.Transport
	codec     codec.Codec
	broker    *events.Broker
	apply     ApplyFunc

	electionTimeout   time.Duration
	heartbeatInterval time.Duration
	rng               *rand.Rand

	role Role

	currentTerm uint64
	votedFor    uint32
	hasVoted    bool
	leaderID    uint32
	hasLeader   bool

	commitIndex uint64
	lastApplied uint64
	leaseUntil  time.Time
	leaseRound  *leaseRound

	membership *membershipView

	drivers         map[uint32]*replication.Driver
	waiters         *replication.Waiters
	pendingResults  map[uint64]applyResult

	readRoundSeq uint64
	readRounds   map[uint64]*readRound

	logger func() zerolog.Logger

	timerGen   uint64 // invalidates stale timer callbacks across role changes
	timerMu    sync.Mutex
	closed     bool
	closeOnce  sync.Once
	closedCh   chan struct{}
}

// Open creates a Context, restores term/vote/membership from the stable
// store, and transitions it into Follower (or Passive, if memberType is
// PASSIVE) once seed membership is known.
func Open(cfg Config) (*Context, error) {
	cfg = cfg.withDefaults()
	if cfg.Log == nil || cfg.Store == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("raft: Log, Store and Transport are required")
	}
	codecImpl := cfg.Codec
	if codecImpl == nil {
		codecImpl = codec.JSONCodec{}
	}

	term, votedFor, hasVote, err := cfg.Store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("raft: load stable state: %w", err)
	}

	members, err := cfg.Store.LoadMembership()
	if err != nil {
		return nil, fmt.Errorf("raft: load membership: %w", err)
	}
	if len(members) == 0 {
		members = cfg.Members
	}

	rc := &Context{
		cfg:               cfg,
		id:                cfg.ID,
		selfAddr:          cfg.Address,
		memberType:        cfg.MemberType,
		executor:          NewExecutor(256),
		log:               cfg.Log,
		store:             cfg.Store,
		transport:         cfg.Transport,
		codec:             codecImpl,
		broker:            cfg.Broker,
		apply:             cfg.Apply,
		electionTimeout:   cfg.ElectionTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID))),
		role:              RoleStart,
		currentTerm:       term,
		votedFor:          votedFor,
		hasVoted:          hasVote,
		membership:        newMembershipView(),
		drivers:           make(map[uint32]*replication.Driver),
		waiters:           replication.NewWaiters(),
		pendingResults:    make(map[uint64]applyResult),
		readRounds:        make(map[uint64]*readRound),
		closedCh:          make(chan struct{}),
	}
	rc.logger = func() zerolog.Logger { return log.WithRaftState(rc.id, rc.currentTerm, rc.role.String()) }

	for _, m := range members {
		rc.membership = rc.membership.with(m)
	}

	go func() {
		_ = rc.transport.Serve(context.Background(), rc.handleEnvelope)
	}()

	rc.executor.Submit(func() { rc.start() })
	return rc, nil
}

func (rc *Context) start() {
	if rc.memberType == types.MemberPassive {
		rc.becomePassive()
	} else {
		rc.becomeFollower(rc.currentTerm, 0, false)
	}
	// Anti-entropy gossip runs alongside the main role state machine
	// regardless of role, so passive members (which never receive an
	// AppendRequest) still catch up (§4.3 Passive).
	rc.scheduleGossip()
}

// --- StatsSource (pkg/metrics) ---

func (rc *Context) CurrentTerm() uint64 { return rc.snapshotTerm() }
func (rc *Context) CommitIndex() uint64 { return rc.snapshotCommitIndex() }
func (rc *Context) LastApplied() uint64 { return rc.snapshotLastApplied() }
func (rc *Context) SegmentCount() int   { return len(rc.log.Segments()) }
func (rc *Context) CurrentRole() string { return rc.snapshotRole() }

func (rc *Context) snapshotRole() string {
	var r Role
	rc.executor.SubmitSync(func() { r = rc.role })
	return r.String()
}

// snapshotTerm/snapshotCommitIndex/snapshotLastApplied are read off the
// executor thread (by the metrics collector, status RPC encoding, etc.),
// so they hop onto the executor to avoid a data race with mutations.
func (rc *Context) snapshotTerm() uint64 {
	var t uint64
	rc.executor.SubmitSync(func() { t = rc.currentTerm })
	return t
}

func (rc *Context) snapshotCommitIndex() uint64 {
	var v uint64
	rc.executor.SubmitSync(func() { v = rc.commitIndex })
	return v
}

func (rc *Context) snapshotLastApplied() uint64 {
	var v uint64
	rc.executor.SubmitSync(func() { v = rc.lastApplied })
	return v
}

// Status returns a snapshot suitable for answering a StatusResponse RPC.
func (rc *Context) Status() (term uint64, leader uint32, hasLeader bool) {
	rc.executor.SubmitSync(func() {
		term = rc.currentTerm
		leader = rc.leaderID
		hasLeader = rc.hasLeader
	})
	return
}

// Close tears the context down: timers are cancelled, the transport
// stopped, and the executor drained.
func (rc *Context) Close() error {
	rc.closeOnce.Do(func() {
		rc.executor.SubmitSync(func() {
			rc.closed = true
			rc.bumpTimerGen()
			rc.waiters.Cancel()
		})
		close(rc.closedCh)
		rc.executor.Close()
		_ = rc.transport.Close()
		_ = rc.log.Close()
		_ = rc.store.Close()
	})
	return nil
}

func (rc *Context) bumpTimerGen() uint64 {
	rc.timerMu.Lock()
	rc.timerGen++
	gen := rc.timerGen
	rc.timerMu.Unlock()
	return gen
}

func (rc *Context) currentTimerGen() uint64 {
	rc.timerMu.Lock()
	defer rc.timerMu.Unlock()
	return rc.timerGen
}

// publish emits a lifecycle event if a broker is configured.
func (rc *Context) publish(t events.EventType, msg string) {
	if rc.broker == nil {
		return
	}
	rc.broker.Publish(&events.Event{Type: t, Message: msg})
}

// sendCtx bounds outbound RPCs so a dead peer's goroutine cannot leak
// forever; the driver's own backoff handles retry, so the timeout here is
// generous.
func (rc *Context) sendCtx() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), 5*time.Second) //nolint:lostcancel
	return ctx
}

func (rc *Context) randomizedElectionTimeout() time.Duration {
	// Uniform in [T, 2T) per §4.3 Follower: "randomized in [T, 2T]".
	jitter := time.Duration(rc.rng.Int63n(int64(rc.electionTimeout)))
	return rc.electionTimeout + jitter
}
