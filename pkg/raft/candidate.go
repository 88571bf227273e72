package raft

import (
	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/types"
)

// startElection implements Candidate on-entry (§4.3): increment term,
// vote for self, reset the election timer, and broadcast VoteRequest to
// every other voter.
func (rc *Context) startElection() {
	rc.executor.AssertOnExecutor()
	if rc.closed || rc.memberType == types.MemberPassive {
		return
	}
	rc.publish(events.EventRoleChanged, rc.role.String()+" -> candidate")
	rc.role = RoleCandidate
	rc.setTerm(rc.currentTerm + 1)
	rc.votedFor = rc.id
	rc.hasVoted = true
	if err := rc.store.SaveVote(rc.currentTerm, rc.id); err != nil {
		rc.logger().Error().Err(err).Msg("persist self-vote failed")
	}
	rc.scheduleElectionTimer()

	term := rc.currentTerm
	lastIndex := rc.log.LastIndex()
	var lastTerm uint64
	if lastIndex > 0 {
		if e, err := rc.log.Get(lastIndex); err == nil {
			lastTerm = e.Term
		}
	}
	req := types.VoteRequest{Term: term, Candidate: rc.id, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	peers := rc.peerAddrs()
	granted := 1 // voted for self
	quorum := rc.membership.quorum()
	if granted >= quorum {
		rc.becomeLeader()
		return
	}

	type result struct {
		resp types.VoteResponse
		err  error
	}
	results := make(chan result, len(peers))
	for _, addr := range peers {
		addr := addr
		go func() {
			var resp types.VoteResponse
			err := rc.send(addr, types.FrameVoteRequest, req, types.FrameVoteResponse, &resp)
			results <- result{resp, err}
		}()
	}

	go func() {
		votes := 1
		for i := 0; i < len(peers); i++ {
			r := <-results
			if r.err != nil {
				continue
			}
			rc.executor.Submit(func() {
				if rc.role != RoleCandidate || rc.currentTerm != term {
					return
				}
				if r.resp.Term > rc.currentTerm {
					rc.becomeFollower(r.resp.Term, 0, false)
					return
				}
				if r.resp.VoteGranted {
					votes++
					if votes >= quorum {
						rc.becomeLeader()
					}
				}
			})
		}
	}()
}

func (rc *Context) peerAddrs() []string {
	var addrs []string
	for _, m := range rc.membership.voters() {
		if m.ID == rc.id {
			continue
		}
		addrs = append(addrs, m.Address)
	}
	return addrs
}
