package raft

import (
	"time"

	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/types"
)

// becomeFollower transitions into Follower at term, optionally adopting
// leaderID, and resets the election timer. Called for the initial
// Start->Follower transition, on stepdown from Candidate/Leader, and
// whenever a higher term is observed.
func (rc *Context) becomeFollower(term uint64, leaderID uint32, hasLeader bool) {
	rc.executor.AssertOnExecutor()
	if rc.role != RoleFollower {
		rc.publish(events.EventRoleChanged, rc.role.String()+" -> follower")
	}
	rc.role = RoleFollower
	if term > rc.currentTerm {
		rc.setTerm(term)
	}
	if hasLeader {
		rc.leaderID = leaderID
		rc.hasLeader = true
	}
	rc.waiters.Cancel()
	rc.leaseRound = nil
	for id, r := range rc.readRounds {
		close(r.done)
		delete(rc.readRounds, id)
	}
	rc.scheduleElectionTimer()
}

func (rc *Context) setTerm(term uint64) {
	rc.currentTerm = term
	rc.hasVoted = false
	rc.hasLeader = false
	if err := rc.store.SaveTerm(term); err != nil {
		rc.logger().Error().Err(err).Msg("persist term failed")
	}
	rc.publish(events.EventTermChanged, "")
}

// scheduleElectionTimer arms a one-shot timer that fires startElection
// after a randomized [T, 2T) delay, unless superseded by a later call
// (tracked via timerGen) or the context closes first.
func (rc *Context) scheduleElectionTimer() {
	if rc.memberType == types.MemberPassive {
		return
	}
	gen := rc.bumpTimerGen()
	delay := rc.randomizedElectionTimeout()
	time.AfterFunc(delay, func() {
		rc.executor.Submit(func() {
			if rc.closed || rc.currentTimerGen() != gen {
				return
			}
			rc.startElection()
		})
	})
}

// handleAppend implements the Follower AppendRequest contract (§4.3).
func (rc *Context) handleAppend(req types.AppendRequest) types.AppendResponse {
	rc.executor.AssertOnExecutor()

	if rc.memberType == types.MemberPassive {
		return types.AppendResponse{Status: types.StatusError, Error: types.ErrIllegalMemberState, Term: rc.currentTerm}
	}
	if req.Term < rc.currentTerm {
		return types.AppendResponse{Status: types.StatusOK, Term: rc.currentTerm, Success: false}
	}

	rc.becomeFollower(req.Term, req.Leader, true)

	if req.PrevLogIndex > 0 {
		if !rc.log.ContainsIndex(req.PrevLogIndex) {
			return types.AppendResponse{Status: types.StatusOK, Term: rc.currentTerm, Success: false, LogIndex: rc.log.LastIndex()}
		}
		prev, err := rc.log.Get(req.PrevLogIndex)
		if err != nil || prev.Term != req.PrevLogTerm {
			return types.AppendResponse{Status: types.StatusOK, Term: rc.currentTerm, Success: false, LogIndex: req.PrevLogIndex}
		}
	}

	for _, entry := range req.Entries {
		if rc.log.ContainsIndex(entry.Index) {
			existing, err := rc.log.Get(entry.Index)
			if err == nil && existing.Term == entry.Term {
				continue
			}
			if err := rc.log.Truncate(entry.Index - 1); err != nil {
				rc.logger().Error().Err(err).Msg("truncate divergent suffix failed")
				return types.AppendResponse{Status: types.StatusError, Error: types.ErrWrite, Term: rc.currentTerm}
			}
		}
		if _, err := rc.log.Append(entry); err != nil {
			rc.logger().Error().Err(err).Msg("append failed")
			return types.AppendResponse{Status: types.StatusError, Error: types.ErrWrite, Term: rc.currentTerm}
		}
	}

	if req.CommitIndex > rc.commitIndex {
		last := rc.log.LastIndex()
		newCommit := req.CommitIndex
		if newCommit > last {
			newCommit = last
		}
		rc.advanceCommitIndex(newCommit)
	}

	return types.AppendResponse{Status: types.StatusOK, Term: rc.currentTerm, Success: true, LogIndex: rc.log.LastIndex()}
}

// handleVote implements the shared Vote/Poll predicate (§4.3 Follower):
// binding==false for a Poll (pre-vote) never mutates state.
func (rc *Context) handleVote(req types.VoteRequest, binding bool) types.VoteResponse {
	rc.executor.AssertOnExecutor()

	if rc.memberType == types.MemberPassive {
		return types.VoteResponse{Status: types.StatusError, Error: types.ErrIllegalMemberState, Term: rc.currentTerm}
	}
	if req.Term < rc.currentTerm {
		return types.VoteResponse{Status: types.StatusOK, Term: rc.currentTerm, VoteGranted: false}
	}
	if binding && req.Term > rc.currentTerm {
		rc.becomeFollower(req.Term, 0, false)
	}

	alreadyVoted := rc.hasVoted && req.Term == rc.currentTerm
	if alreadyVoted && rc.votedFor != req.Candidate {
		return types.VoteResponse{Status: types.StatusOK, Term: rc.currentTerm, VoteGranted: false}
	}

	upToDate := rc.candidateLogUpToDate(req.LastLogTerm, req.LastLogIndex)
	if !upToDate {
		return types.VoteResponse{Status: types.StatusOK, Term: rc.currentTerm, VoteGranted: false}
	}
	if alreadyVoted && rc.votedFor == req.Candidate {
		return types.VoteResponse{Status: types.StatusOK, Term: rc.currentTerm, VoteGranted: true}
	}

	if binding {
		rc.votedFor = req.Candidate
		rc.hasVoted = true
		if err := rc.store.SaveVote(rc.currentTerm, req.Candidate); err != nil {
			rc.logger().Error().Err(err).Msg("persist vote failed")
		}
		rc.scheduleElectionTimer()
	}
	return types.VoteResponse{Status: types.StatusOK, Term: rc.currentTerm, VoteGranted: true}
}

// candidateLogUpToDate implements the log-completeness comparison shared
// by Vote and Poll: higher last-entry term wins outright; on a tie, the
// longer log wins.
func (rc *Context) candidateLogUpToDate(lastLogTerm, lastLogIndex uint64) bool {
	myLastIndex := rc.log.LastIndex()
	var myLastTerm uint64
	if myLastIndex > 0 {
		if e, err := rc.log.Get(myLastIndex); err == nil {
			myLastTerm = e.Term
		}
	}
	if lastLogTerm != myLastTerm {
		return lastLogTerm > myLastTerm
	}
	return lastLogIndex >= myLastIndex
}

// applyResult is the outcome of invoking the commit callback for one
// entry, stashed for handleSubmit to pick up once its waiter fires.
type applyResult struct {
	out []byte
	err error
}

// advanceCommitIndex bumps commitIndex forward, applies newly-committed
// entries in order, and notifies waiters — used by both the follower path
// (commitIndex = min(leaderCommit, lastIndex)) and the leader's own commit
// rule.
func (rc *Context) advanceCommitIndex(newCommit uint64) {
	if newCommit <= rc.commitIndex {
		return
	}
	rc.commitIndex = newCommit
	rc.publish(events.EventCommitAdvanced, "")

	for rc.lastApplied < rc.commitIndex {
		idx := rc.lastApplied + 1
		entry, err := rc.log.Get(idx)
		if err != nil {
			rc.logger().Error().Err(err).Uint64("index", idx).Msg("apply: missing committed entry")
			break
		}
		if entry.Kind == types.EntryCommand {
			out, err := rc.apply(entry)
			if err != nil {
				rc.logger().Warn().Err(err).Uint64("index", idx).Msg("application error")
			}
			if rc.role == RoleLeader {
				// Recorded for a pending handleSubmit to pick up; a
				// follower never has a local waiter for this index.
				rc.pendingResults[idx] = applyResult{out: out, err: err}
			}
		}
		rc.lastApplied = idx
	}
	rc.waiters.NotifyUpTo(rc.commitIndex)
}
