// Package types holds the data model shared across the log, consensus and
// replication layers: log entries, cluster membership, and the wire
// vocabulary used by the RPC handlers. Keeping these in one leaf package
// lets pkg/segment, pkg/raft, pkg/replication and pkg/transport all depend
// on it without creating import cycles.
package types

import "fmt"

// EntryKind distinguishes the payload carried by a log Entry.
type EntryKind uint8

const (
	// EntryCommand is a user-submitted state machine command.
	EntryCommand EntryKind = iota
	// EntryNoOp is the entry a new leader appends at the start of its term
	// so that prior-term entries can be committed by quorum (§4.3 Leader).
	EntryNoOp
	// EntryConfiguration records a membership change.
	EntryConfiguration
)

func (k EntryKind) String() string {
	switch k {
	case EntryCommand:
		return "command"
	case EntryNoOp:
		return "noop"
	case EntryConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is a single record in the replicated log. Index is 1-based and
// strictly increasing with no gaps (§3 Index monotonicity).
type Entry struct {
	Index     uint64
	Term      uint64
	Kind      EntryKind
	Key       []byte
	Payload   []byte
	Timestamp uint64
}

// Clone returns a deep copy so callers can mutate Key/Payload without
// aliasing a segment's backing buffer.
func (e Entry) Clone() Entry {
	c := e
	if e.Key != nil {
		c.Key = append([]byte(nil), e.Key...)
	}
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return c
}

// MemberType classifies a cluster member's participation in consensus.
type MemberType uint8

const (
	// MemberActive participates in elections and quorum counting.
	MemberActive MemberType = iota
	// MemberPassive gossips but never votes or counts toward quorum.
	MemberPassive
	// MemberRemote is a non-Raft observer (e.g. a client-facing proxy).
	MemberRemote
)

func (t MemberType) String() string {
	switch t {
	case MemberActive:
		return "ACTIVE"
	case MemberPassive:
		return "PASSIVE"
	case MemberRemote:
		return "REMOTE"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// MemberStatus tracks liveness as observed by gossip/heartbeat.
type MemberStatus uint8

const (
	MemberAvailable MemberStatus = iota
	MemberInactive
)

// Member is one entry in the Raft context's membership view. Version is
// used for last-writer-wins merges during passive-member gossip (§4.3
// Passive).
type Member struct {
	ID           uint32
	Type         MemberType
	Address      string
	Status       MemberStatus
	CommitIndex  uint64
	RecycleIndex uint64
	Version      uint64
}

// Clone returns a value copy; Member has no reference fields but Clone is
// provided so call sites can be explicit about copy-on-write semantics.
func (m Member) Clone() Member { return m }

// QueryConsistency selects the linearizability level of a read (§4.3
// Query semantics).
type QueryConsistency uint8

const (
	Serializable QueryConsistency = iota
	LinearizableLease
	LinearizableStrict
)

// Status is the top-level outcome of a wire response.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

// ErrorCode enumerates the taxonomy from §7.
type ErrorCode uint8

const (
	ErrNone ErrorCode = iota
	ErrNoLeader
	ErrRead
	ErrWrite
	ErrIllegalMemberState
	ErrUnknownSession
	ErrApplication
)

func (c ErrorCode) Error() string {
	switch c {
	case ErrNone:
		return ""
	case ErrNoLeader:
		return "NO_LEADER_ERROR"
	case ErrRead:
		return "READ_ERROR"
	case ErrWrite:
		return "WRITE_ERROR"
	case ErrIllegalMemberState:
		return "ILLEGAL_MEMBER_STATE_ERROR"
	case ErrUnknownSession:
		return "UNKNOWN_SESSION_ERROR"
	case ErrApplication:
		return "APPLICATION_ERROR"
	default:
		return fmt.Sprintf("error(%d)", uint8(c))
	}
}

// --- Wire RPCs (§6) ---

type AppendRequest struct {
	Term         uint64
	Leader       uint32
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	CommitIndex  uint64
}

type AppendResponse struct {
	Status   Status
	Error    ErrorCode
	Term     uint64
	Success  bool
	LogIndex uint64
}

type VoteRequest struct {
	Term         uint64
	Candidate    uint32
	LastLogIndex uint64
	LastLogTerm  uint64
}

type VoteResponse struct {
	Status      Status
	Error       ErrorCode
	Term        uint64
	VoteGranted bool
}

// PollRequest carries the same shape as VoteRequest (§6).
type PollRequest = VoteRequest

// PollResponse carries the same shape as VoteResponse (§6).
type PollResponse = VoteResponse

type SyncRequest struct {
	Term     uint64
	Leader   uint32
	LogIndex uint64
	Members  []Member
	Entries  []Entry
}

type SyncResponse struct {
	Status  Status
	Error   ErrorCode
	Members []Member
}

type SubmitRequest struct {
	Operation []byte
}

type SubmitResponse struct {
	Status Status
	Error  ErrorCode
	Result []byte
	Leader uint32
}

type StatusResponse struct {
	Status Status
	Error  ErrorCode
	Term   uint64
	Leader uint32
}

// FrameType identifies the body carried by an Envelope (§6).
type FrameType uint8

const (
	FrameAppendRequest FrameType = iota + 1
	FrameAppendResponse
	FrameVoteRequest
	FrameVoteResponse
	FramePollRequest
	FramePollResponse
	FrameSyncRequest
	FrameSyncResponse
	FrameSubmitRequest
	FrameSubmitResponse
	FrameStatusResponse
)

// Envelope is the framed message unit carried by the transport (§6):
// `{ u8 type, u64 correlationId, body }`. Body encoding is delegated to a
// pluggable Codec; the transport itself never interprets it.
type Envelope struct {
	Type          FrameType
	CorrelationID uint64
	Body          []byte
}
