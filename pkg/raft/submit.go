package raft

import (
	"time"

	"github.com/copycat/copycat/pkg/types"
)

// handleSubmit implements the Submit pipeline (§4.3 Submit pipeline). A
// non-leader rejects with the known leader id so the client library can
// redirect. It runs on the calling (transport) goroutine, not the
// executor: steps 1 and 3 hop onto the executor briefly, but the wait for
// quorum replication in step 2 must not block the executor thread, or no
// other Raft progress could happen while a submit is outstanding.
func (rc *Context) handleSubmit(req types.SubmitRequest) types.SubmitResponse {
	type submitted struct {
		index   uint64
		term    uint64
		waitCh  <-chan struct{}
		errResp types.SubmitResponse
		ok      bool
	}

	var s submitted
	rc.executor.SubmitSync(func() {
		if rc.role != RoleLeader {
			s.errResp = types.SubmitResponse{Status: types.StatusError, Error: types.ErrNoLeader, Leader: rc.leaderID}
			return
		}
		index, err := rc.log.Append(types.Entry{
			Term: rc.currentTerm, Kind: types.EntryCommand,
			Payload: req.Operation, Timestamp: uint64(time.Now().UnixNano()),
		})
		if err != nil {
			s.errResp = types.SubmitResponse{Status: types.StatusError, Error: types.ErrWrite}
			return
		}
		s.index = index
		s.term = rc.currentTerm
		s.waitCh = rc.waiters.Wait(index)
		s.ok = true
		rc.replicateToAllPeers()
	})
	if !s.ok {
		return s.errResp
	}

	<-s.waitCh // closed either by commit notification or by a cancelled-on-stepdown sweep

	var resp types.SubmitResponse
	rc.executor.SubmitSync(func() {
		if rc.currentTerm != s.term || rc.lastApplied < s.index {
			resp = types.SubmitResponse{Status: types.StatusError, Error: types.ErrNoLeader, Leader: rc.leaderID}
			return
		}
		result, ok := rc.pendingResults[s.index]
		delete(rc.pendingResults, s.index)
		if !ok {
			resp = types.SubmitResponse{Status: types.StatusError, Error: types.ErrApplication}
			return
		}
		if result.err != nil {
			resp = types.SubmitResponse{Status: types.StatusError, Error: types.ErrApplication}
			return
		}
		resp = types.SubmitResponse{Status: types.StatusOK, Result: result.out}
	})
	return resp
}

// Query answers a read at the requested consistency level (§4.3 Query
// semantics).
func (rc *Context) Query(consistency types.QueryConsistency, read func() ([]byte, error)) ([]byte, error) {
	done := make(chan struct {
		out []byte
		err error
	}, 1)

	switch consistency {
	case types.Serializable:
		rc.executor.Submit(func() {
			out, err := read()
			done <- struct {
				out []byte
				err error
			}{out, err}
		})
	case types.LinearizableLease:
		rc.executor.Submit(func() {
			if rc.role != RoleLeader || time.Now().After(rc.leaseUntil) {
				done <- struct {
					out []byte
					err error
				}{nil, types.ErrNoLeader}
				return
			}
			out, err := read()
			done <- struct {
				out []byte
				err error
			}{out, err}
		})
	case types.LinearizableStrict:
		rc.executor.Submit(func() {
			if rc.role != RoleLeader {
				done <- struct {
					out []byte
					err error
				}{nil, types.ErrNoLeader}
				return
			}
			term := rc.currentTerm
			id, ackCh := rc.beginReadRound(term)
			rc.replicateToAllPeers()
			timeout := 2 * rc.heartbeatInterval
			go func() {
				select {
				case <-ackCh:
				case <-time.After(timeout):
				case <-rc.closedCh:
				}
				rc.executor.Submit(func() {
					rc.cancelReadRound(id)
					quorumAcked := false
					select {
					case <-ackCh:
						quorumAcked = true
					default:
					}
					if !quorumAcked || rc.role != RoleLeader || rc.currentTerm != term {
						done <- struct {
							out []byte
							err error
						}{nil, types.ErrNoLeader}
						return
					}
					out, err := read()
					done <- struct {
						out []byte
						err error
					}{out, err}
				})
			}()
		})
	}

	r := <-done
	return r.out, r.err
}
