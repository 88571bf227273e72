package raft

import (
	"time"

	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/types"
)

// becomePassive puts the context into the gossip-only Passive role (§4.3
// Passive): it never votes or counts toward quorum. Catch-up happens
// through the anti-entropy gossip loop started once for every role in
// Context.start, not through AppendRequest (which it rejects).
func (rc *Context) becomePassive() {
	rc.executor.AssertOnExecutor()
	rc.publish(events.EventRoleChanged, rc.role.String()+" -> passive")
	rc.role = RolePassive
}

// maxSyncPeers bounds a single gossip round to three peers (§4.3
// Passive: "selects up to three random peers").
const maxSyncPeers = 3

// maxSyncEntryBytes caps a single SyncRequest's committed-entry payload
// (§4.3 Passive: "1MB_of_entries").
const maxSyncEntryBytes = 1 << 20

// scheduleGossip arms the repeating anti-entropy tick. Every member, not
// only passive ones, runs this: a follower or leader with a fresher log
// than some peer's last-known commitIndex (tracked in the membership
// view) also pushes forward, which is how entries eventually reach a
// passive member that no leader directly replicates to. The chain is
// started once and re-arms itself; it does not use timerGen, so election
// and heartbeat timer resets neither stop it nor are stopped by it.
func (rc *Context) scheduleGossip() {
	time.AfterFunc(rc.heartbeatInterval, func() {
		rc.executor.Submit(func() {
			if rc.closed {
				return
			}
			rc.gossipRound()
			rc.scheduleGossip()
		})
	})
}

// gossipRound samples peers without replacement (resolving the open
// question of with- vs without-replacement sampling: without replacement
// gives broader coverage per round and avoids wasting a sync on a peer
// already contacted this round) and pushes each the committed entries it
// is known to be missing, plus the full membership view.
func (rc *Context) gossipRound() {
	rc.updateSelfMembership()

	candidates := rc.membership.all()
	var peers []types.Member
	for _, m := range candidates {
		if m.ID != rc.id {
			peers = append(peers, m)
		}
	}
	rc.rng.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > maxSyncPeers {
		peers = peers[:maxSyncPeers]
	}

	members := rc.membership.all()
	for _, peer := range peers {
		entries := rc.entriesSince(peer.CommitIndex)
		req := types.SyncRequest{
			Term: rc.currentTerm, Leader: rc.leaderID,
			LogIndex: rc.commitIndex, Members: members, Entries: entries,
		}
		addr := peer.Address
		go func() {
			var resp types.SyncResponse
			if err := rc.send(addr, types.FrameSyncRequest, req, types.FrameSyncResponse, &resp); err != nil {
				return
			}
			rc.executor.Submit(func() {
				rc.membership = rc.membership.mergeVersioned(resp.Members)
				rc.persistMembership()
			})
		}()
	}
}

// entriesSince collects committed entries from fromCommit+1 up to this
// node's own commitIndex, capped at maxSyncEntryBytes.
func (rc *Context) entriesSince(fromCommit uint64) []types.Entry {
	if fromCommit >= rc.commitIndex {
		return nil
	}
	var entries []types.Entry
	size := 0
	for idx := fromCommit + 1; idx <= rc.commitIndex; idx++ {
		e, err := rc.log.Get(idx)
		if err != nil {
			break // compacted away; the peer will need a snapshot mechanism, out of scope here
		}
		entryBytes := len(e.Key) + len(e.Payload) + 32
		if len(entries) > 0 && size+entryBytes > maxSyncEntryBytes {
			break
		}
		entries = append(entries, e)
		size += entryBytes
	}
	return entries
}

// updateSelfMembership refreshes this node's own Member entry in the
// membership view with its current commitIndex so peers gossiping to it
// know how far behind it is.
func (rc *Context) updateSelfMembership() {
	self, ok := rc.membership.get(rc.id)
	if !ok {
		self = types.Member{ID: rc.id, Type: rc.memberType, Address: rc.selfAddr}
	}
	if self.CommitIndex == rc.commitIndex {
		return
	}
	self.CommitIndex = rc.commitIndex
	self.Version++
	rc.membership = rc.membership.with(self)
	rc.persistMembership()
}

// persistMembership snapshots the current membership view to the stable
// store (§4.6: membership is one of the three fields a Raft context must
// never forget across a restart). Called on every membership mutation;
// gossip only ticks once per heartbeatInterval; so the extra write is not
// a hot path.
func (rc *Context) persistMembership() {
	if err := rc.store.SaveMembership(rc.membership.all()); err != nil {
		rc.logger().Error().Err(err).Msg("persist membership failed")
	}
}

// handleSync implements the recipient side of anti-entropy gossip (§4.3
// Passive): append missing committed entries, apply them, and merge
// membership views by version.
func (rc *Context) handleSync(req types.SyncRequest) types.SyncResponse {
	rc.executor.AssertOnExecutor()

	if req.Term > rc.currentTerm {
		rc.setTerm(req.Term)
	}
	for _, entry := range req.Entries {
		if !rc.log.ContainsIndex(entry.Index) {
			if _, err := rc.log.Append(entry); err != nil {
				rc.logger().Error().Err(err).Msg("gossip append failed")
				break
			}
		}
	}
	if last := rc.log.LastIndex(); last > rc.commitIndex {
		rc.advanceCommitIndex(last)
	}
	rc.membership = rc.membership.mergeVersioned(req.Members)
	rc.persistMembership()
	rc.updateSelfMembership()

	return types.SyncResponse{Status: types.StatusOK, Members: rc.membership.all()}
}
