// Package replication implements the per-peer replication driver and
// commit-index advancement engine owned by the leader role (§4.4): a
// small state machine per peer that batches append RPCs, backs off on
// error, and tracks the watermarks the leader uses to advance the commit
// index.
package replication

import "time"

// State is a peer driver's current phase.
type State uint8

const (
	Idle State = iota
	InFlight
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Driver tracks one peer's nextIndex/matchIndex and in-flight/backoff
// state. A Driver has at most one RPC in flight at a time (§5: "the
// driver keeps at most one in flight per peer").
type Driver struct {
	peerID uint32

	state State

	nextIndex  uint64
	matchIndex uint64

	backoff     time.Duration
	maxBackoff  time.Duration
	nextAttempt time.Time
}

// NewDriver creates a Driver for peerID, seeded with nextIndex (typically
// leader.lastIndex+1 at the moment the leader role is entered).
func NewDriver(peerID uint32, nextIndex uint64, maxBackoff time.Duration) *Driver {
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	return &Driver{peerID: peerID, nextIndex: nextIndex, maxBackoff: maxBackoff, state: Idle}
}

// PeerID reports which peer this driver tracks.
func (d *Driver) PeerID() uint32 { return d.peerID }

// State reports the driver's current phase.
func (d *Driver) State() State { return d.state }

// NextIndex reports the index of the next entry to send this peer.
func (d *Driver) NextIndex() uint64 { return d.nextIndex }

// MatchIndex reports the highest index known to be replicated to this
// peer.
func (d *Driver) MatchIndex() uint64 { return d.matchIndex }

// Ready reports whether the driver may start a new RPC: it must not
// already have one in flight, and any backoff delay must have elapsed.
func (d *Driver) Ready(now time.Time) bool {
	if d.state == InFlight {
		return false
	}
	return !now.Before(d.nextAttempt)
}

// MarkInFlight transitions the driver to InFlight immediately before
// issuing an RPC.
func (d *Driver) MarkInFlight() { d.state = InFlight }

// OnSuccess records a successful append RPC: matchIndex advances to the
// index of the last entry sent, nextIndex follows it, backoff resets, and
// the driver returns to Idle.
func (d *Driver) OnSuccess(lastSentIndex uint64) {
	if lastSentIndex > d.matchIndex {
		d.matchIndex = lastSentIndex
	}
	d.nextIndex = lastSentIndex + 1
	d.backoff = 0
	d.state = Idle
}

// OnLogMismatch records a rejected append RPC carrying a backtrack hint:
// nextIndex decrements (never below 1, never past the hint) so the next
// attempt probes further back in the log, per the leader's backtracking
// protocol (§4.3 Leader: "on log-match failure, decrement nextIndex and
// retry").
func (d *Driver) OnLogMismatch(hintIndex uint64) {
	next := d.nextIndex
	if next > 1 {
		next--
	}
	if hintIndex > 0 && hintIndex < next {
		next = hintIndex
	}
	if next < 1 {
		next = 1
	}
	d.nextIndex = next
	d.state = Idle
}

// OnError records a transport failure: the driver enters Backoff with an
// exponentially growing delay capped at maxBackoff (heartbeat interval by
// convention), and is retried on the next heartbeat tick once nextAttempt
// has passed.
func (d *Driver) OnError(now time.Time) {
	if d.backoff == 0 {
		d.backoff = 50 * time.Millisecond
	} else {
		d.backoff *= 2
	}
	if d.backoff > d.maxBackoff {
		d.backoff = d.maxBackoff
	}
	d.nextAttempt = now.Add(d.backoff)
	d.state = Backoff
}
