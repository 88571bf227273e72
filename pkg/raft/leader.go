package raft

import (
	"time"

	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/replication"
	"github.com/copycat/copycat/pkg/types"
)

// leaseRound tracks quorum confirmation for one heartbeat tick's worth of
// AppendResponses, so LINEARIZABLE_LEASE reads only trust a lease that a
// majority of peers actually renewed, not just the single round at
// election (§4.3 Leader: "served by leader if its heartbeat lease has not
// expired", renewed each round a quorum of heartbeats succeeds).
type leaseRound struct {
	term    uint64
	needed  int
	acked   map[uint32]bool
	renewed bool
}

// readRound tracks quorum confirmation for one LINEARIZABLE_STRICT read
// (§4.3 Query: "leader first exchanges a round of heartbeats with a
// quorum, then answers").
type readRound struct {
	term   uint64
	needed int
	acked  map[uint32]bool
	done   chan struct{}
}

// becomeLeader implements Leader on-entry (§4.3): append a no-op entry at
// the new term so prior-term entries can be committed by quorum, seed a
// Driver per peer, and start the heartbeat timer.
func (rc *Context) becomeLeader() {
	rc.executor.AssertOnExecutor()
	if rc.role != RoleLeader {
		rc.publish(events.EventRoleChanged, rc.role.String()+" -> leader")
	}
	rc.role = RoleLeader
	rc.leaderID = rc.id
	rc.hasLeader = true
	// Grace period until the first heartbeat round confirms the lease by
	// quorum; scheduleHeartbeat renews it from there.
	rc.leaseUntil = time.Now().Add(rc.heartbeatInterval)

	if _, err := rc.log.Append(types.Entry{Term: rc.currentTerm, Kind: types.EntryNoOp, Timestamp: uint64(time.Now().UnixNano())}); err != nil {
		rc.logger().Error().Err(err).Msg("leader no-op append failed")
	}

	lastIndex := rc.log.LastIndex()
	rc.drivers = make(map[uint32]*replication.Driver)
	for _, m := range rc.membership.voters() {
		if m.ID == rc.id {
			continue
		}
		rc.drivers[m.ID] = replication.NewDriver(m.ID, lastIndex+1, rc.heartbeatInterval)
	}

	rc.scheduleHeartbeat()
}

// scheduleHeartbeat arms a repeating heartbeat tick (§4.3 Leader: "H <
// T/2"). Each tick replicates to every ready driver and, at the same
// time, acts as the retry mechanism for peers in Backoff.
func (rc *Context) scheduleHeartbeat() {
	gen := rc.bumpTimerGen()
	var tick func()
	tick = func() {
		rc.executor.Submit(func() {
			if rc.closed || rc.currentTimerGen() != gen || rc.role != RoleLeader {
				return
			}
			rc.beginLeaseRound()
			rc.replicateToAllPeers()
			time.AfterFunc(rc.heartbeatInterval, tick)
		})
	}
	time.AfterFunc(rc.heartbeatInterval, tick)
}

// beginLeaseRound arms a fresh leaseRound for the upcoming heartbeat tick.
// A cluster with no voting peers (quorum of self alone) renews
// immediately, since there is no one else to hear back from.
func (rc *Context) beginLeaseRound() {
	needed := rc.membership.quorum() - 1
	if needed <= 0 {
		rc.leaseRound = nil
		rc.leaseUntil = time.Now().Add(rc.heartbeatInterval)
		return
	}
	rc.leaseRound = &leaseRound{term: rc.currentTerm, needed: needed, acked: make(map[uint32]bool)}
}

// beginReadRound registers quorum-ack tracking for one LINEARIZABLE_STRICT
// read and returns its id (for later cancellation) and a channel that
// closes once a quorum of peers has acknowledged term. A cluster with no
// voting peers closes the channel immediately.
func (rc *Context) beginReadRound(term uint64) (uint64, <-chan struct{}) {
	needed := rc.membership.quorum() - 1
	done := make(chan struct{})
	if needed <= 0 {
		close(done)
		return 0, done
	}
	rc.readRoundSeq++
	id := rc.readRoundSeq
	rc.readRounds[id] = &readRound{term: term, needed: needed, acked: make(map[uint32]bool), done: done}
	return id, done
}

// cancelReadRound forgets a pending read round, used once its waiter has
// timed out or the context is shutting down.
func (rc *Context) cancelReadRound(id uint64) {
	delete(rc.readRounds, id)
}

// creditQuorumAck records a successful heartbeat response from peerID at
// term toward both the current lease round and any outstanding read
// rounds for that term, renewing the lease or releasing read waiters once
// enough peers have acknowledged.
func (rc *Context) creditQuorumAck(peerID uint32, term uint64) {
	if rc.leaseRound != nil && rc.leaseRound.term == term && !rc.leaseRound.renewed {
		rc.leaseRound.acked[peerID] = true
		if len(rc.leaseRound.acked) >= rc.leaseRound.needed {
			rc.leaseRound.renewed = true
			rc.leaseUntil = time.Now().Add(rc.heartbeatInterval)
		}
	}
	for id, r := range rc.readRounds {
		if r.term != term || r.acked[peerID] {
			continue
		}
		r.acked[peerID] = true
		if len(r.acked) >= r.needed {
			close(r.done)
			delete(rc.readRounds, id)
		}
	}
}

func (rc *Context) replicateToAllPeers() {
	now := time.Now()
	term := rc.currentTerm
	for peerID, driver := range rc.drivers {
		if !driver.Ready(now) {
			continue
		}
		var addr string
		if m, ok := rc.membership.get(peerID); ok {
			addr = m.Address
		} else {
			continue
		}
		rc.replicateToPeer(term, peerID, addr, driver)
	}
}

func (rc *Context) replicateToPeer(term uint64, peerID uint32, addr string, driver *replication.Driver) {
	lastIndex := rc.log.LastIndex()
	entries, err := replication.BatchEntries(rc.log, driver.NextIndex(), lastIndex, 0, 0)
	if err != nil {
		rc.logger().Error().Err(err).Uint32("peer", peerID).Msg("batch entries failed")
		return
	}

	var prevTerm uint64
	prevIndex := driver.NextIndex() - 1
	if prevIndex > 0 {
		if e, err := rc.log.Get(prevIndex); err == nil {
			prevTerm = e.Term
		}
	}

	req := types.AppendRequest{
		Term: term, Leader: rc.id,
		PrevLogIndex: prevIndex, PrevLogTerm: prevTerm,
		Entries: entries, CommitIndex: rc.commitIndex,
	}
	lastSent := prevIndex
	if len(entries) > 0 {
		lastSent = entries[len(entries)-1].Index
	}

	driver.MarkInFlight()
	go func() {
		var resp types.AppendResponse
		err := rc.send(addr, types.FrameAppendRequest, req, types.FrameAppendResponse, &resp)
		rc.executor.Submit(func() {
			if rc.role != RoleLeader || rc.currentTerm != term {
				return
			}
			if err != nil {
				driver.OnError(time.Now())
				return
			}
			if resp.Term > rc.currentTerm {
				rc.becomeFollower(resp.Term, 0, false)
				return
			}
			if !resp.Success {
				driver.OnLogMismatch(resp.LogIndex)
				return
			}
			driver.OnSuccess(lastSent)
			rc.creditQuorumAck(peerID, term)
			rc.tryAdvanceCommit()
		})
	}()
}

// tryAdvanceCommit implements the leader commit rule (§4.3 Leader):
// advance commitIndex to the highest N with quorum matchIndex >= N and
// entry[N].term == currentTerm.
func (rc *Context) tryAdvanceCommit() {
	matchIndices := []uint64{rc.log.LastIndex()} // leader's own log always matches itself
	for _, d := range rc.drivers {
		matchIndices = append(matchIndices, d.MatchIndex())
	}
	termAt := func(index uint64) (uint64, bool) {
		e, err := rc.log.Get(index)
		if err != nil {
			return 0, false
		}
		return e.Term, true
	}
	newCommit := replication.AdvanceCommit(matchIndices, rc.membership.quorum(), rc.currentTerm, termAt, rc.commitIndex)
	rc.advanceCommitIndex(newCommit)
}
