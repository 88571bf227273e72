package raft

import "github.com/copycat/copycat/pkg/types"

// handleEnvelope is installed as the transport's Handler. It runs on a
// transport goroutine, decodes the body, hops onto the executor to
// process the RPC against Raft state, and returns the encoded response.
// This is the re-dispatch point §5 requires: "completions are
// re-dispatched onto the context thread before touching state".
func (rc *Context) handleEnvelope(env types.Envelope) types.Envelope {
	switch env.Type {
	case types.FrameAppendRequest:
		var req types.AppendRequest
		if err := rc.codec.Decode(env.Body, &req); err != nil {
			return rc.errorEnvelope(types.FrameAppendResponse, env.CorrelationID, types.ErrApplication)
		}
		var resp types.AppendResponse
		rc.executor.SubmitSync(func() { resp = rc.handleAppend(req) })
		return rc.encodeEnvelope(types.FrameAppendResponse, env.CorrelationID, resp)

	case types.FrameVoteRequest:
		var req types.VoteRequest
		if err := rc.codec.Decode(env.Body, &req); err != nil {
			return rc.errorEnvelope(types.FrameVoteResponse, env.CorrelationID, types.ErrApplication)
		}
		var resp types.VoteResponse
		rc.executor.SubmitSync(func() { resp = rc.handleVote(req, true) })
		return rc.encodeEnvelope(types.FrameVoteResponse, env.CorrelationID, resp)

	case types.FramePollRequest:
		var req types.PollRequest
		if err := rc.codec.Decode(env.Body, &req); err != nil {
			return rc.errorEnvelope(types.FramePollResponse, env.CorrelationID, types.ErrApplication)
		}
		var resp types.PollResponse
		rc.executor.SubmitSync(func() { resp = rc.handleVote(req, false) })
		return rc.encodeEnvelope(types.FramePollResponse, env.CorrelationID, resp)

	case types.FrameSyncRequest:
		var req types.SyncRequest
		if err := rc.codec.Decode(env.Body, &req); err != nil {
			return rc.errorEnvelope(types.FrameSyncResponse, env.CorrelationID, types.ErrApplication)
		}
		var resp types.SyncResponse
		rc.executor.SubmitSync(func() { resp = rc.handleSync(req) })
		return rc.encodeEnvelope(types.FrameSyncResponse, env.CorrelationID, resp)

	case types.FrameSubmitRequest:
		var req types.SubmitRequest
		if err := rc.codec.Decode(env.Body, &req); err != nil {
			return rc.errorEnvelope(types.FrameSubmitResponse, env.CorrelationID, types.ErrApplication)
		}
		resp := rc.handleSubmit(req)
		return rc.encodeEnvelope(types.FrameSubmitResponse, env.CorrelationID, resp)

	case types.FrameStatusResponse:
		term, leader, _ := rc.Status()
		return rc.encodeEnvelope(types.FrameStatusResponse, env.CorrelationID, types.StatusResponse{
			Status: types.StatusOK, Term: term, Leader: leader,
		})

	default:
		return types.Envelope{Type: env.Type, CorrelationID: env.CorrelationID}
	}
}

func (rc *Context) encodeEnvelope(t types.FrameType, correlation uint64, v any) types.Envelope {
	body, err := rc.codec.Encode(v)
	if err != nil {
		return rc.errorEnvelope(t, correlation, types.ErrApplication)
	}
	return types.Envelope{Type: t, CorrelationID: correlation, Body: body}
}

func (rc *Context) errorEnvelope(t types.FrameType, correlation uint64, code types.ErrorCode) types.Envelope {
	var body []byte
	switch t {
	case types.FrameAppendResponse:
		body, _ = rc.codec.Encode(types.AppendResponse{Status: types.StatusError, Error: code})
	case types.FrameVoteResponse, types.FramePollResponse:
		body, _ = rc.codec.Encode(types.VoteResponse{Status: types.StatusError, Error: code})
	case types.FrameSyncResponse:
		body, _ = rc.codec.Encode(types.SyncResponse{Status: types.StatusError, Error: code})
	case types.FrameSubmitResponse:
		body, _ = rc.codec.Encode(types.SubmitResponse{Status: types.StatusError, Error: code})
	}
	return types.Envelope{Type: t, CorrelationID: correlation, Body: body}
}

// send performs a request/response round trip to addr, decoding the
// response into out.
func (rc *Context) send(addr string, frame types.FrameType, req any, respFrame types.FrameType, out any) error {
	body, err := rc.codec.Encode(req)
	if err != nil {
		return err
	}
	resp, err := rc.transport.Send(rc.sendCtx(), addr, types.Envelope{Type: frame, Body: body})
	if err != nil {
		return err
	}
	return rc.codec.Decode(resp.Body, out)
}
