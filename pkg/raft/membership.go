package raft

import (
	"github.com/benbjohnson/immutable"

	"github.com/copycat/copycat/pkg/types"
)

// membershipView is the copy-on-write cluster membership snapshot (§5:
// "Membership view is copy-on-write: updates produce a new map and swap
// it in"). Readers hold a *immutable.SortedMap and never observe a
// partially-updated view, even while the executor thread installs a new
// one concurrently with readers on other goroutines (replication drivers,
// status RPC handlers).
type membershipView struct {
	members *immutable.SortedMap[uint32, types.Member]
}

func newMembershipView() *membershipView {
	return &membershipView{members: &immutable.SortedMap[uint32, types.Member]{}}
}

// with returns a new view with member upserted, leaving the receiver
// untouched.
func (v *membershipView) with(member types.Member) *membershipView {
	return &membershipView{members: v.members.Set(member.ID, member)}
}

// without returns a new view with id removed, leaving the receiver
// untouched.
func (v *membershipView) without(id uint32) *membershipView {
	return &membershipView{members: v.members.Delete(id)}
}

func (v *membershipView) get(id uint32) (types.Member, bool) {
	return v.members.Get(id)
}

// all returns every member in ID order.
func (v *membershipView) all() []types.Member {
	out := make([]types.Member, 0, v.members.Len())
	itr := v.members.Iterator()
	for !itr.Done() {
		_, m, ok := itr.Next()
		if ok {
			out = append(out, m)
		}
	}
	return out
}

// voters returns the ACTIVE members participating in elections and
// quorum counting (§3: a PASSIVE or REMOTE member never counts).
func (v *membershipView) voters() []types.Member {
	var out []types.Member
	itr := v.members.Iterator()
	for !itr.Done() {
		_, m, ok := itr.Next()
		if ok && m.Type == types.MemberActive {
			out = append(out, m)
		}
	}
	return out
}

// quorum is the majority size over the current voter set, including self.
func (v *membershipView) quorum() int {
	return len(v.voters())/2 + 1
}

// mergeVersioned merges other into the receiver using last-writer-wins by
// Member.Version (§4.3 Passive: "merges the membership view via per-member
// version numbers"), returning a new view.
func (v *membershipView) mergeVersioned(other []types.Member) *membershipView {
	next := v
	for _, incoming := range other {
		existing, ok := next.get(incoming.ID)
		if !ok || incoming.Version > existing.Version {
			next = next.with(incoming)
		}
	}
	return next
}
