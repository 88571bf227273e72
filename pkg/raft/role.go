package raft

import "fmt"

// Role is a Raft context's current position in the role state machine
// (§4.3: Start -> Follower -> Candidate -> Leader, with Passive
// orthogonal to the rest).
type Role uint8

const (
	RoleStart Role = iota
	RoleFollower
	RoleCandidate
	RoleLeader
	RolePassive
)

func (r Role) String() string {
	switch r {
	case RoleStart:
		return "start"
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RolePassive:
		return "passive"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}
