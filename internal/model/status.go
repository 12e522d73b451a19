package model

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusInvited    Status = "invited"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusInvited, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusInvited || s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// ErrorCode is the last failure recorded for a recipient and kind.
type ErrorCode string

const (
	CodeNone        ErrorCode = ""
	CodeGetEntity   ErrorCode = "GET_ENTITY"
	CodePeerResolve ErrorCode = "PEER_RESOLVE"
	CodePrivacy     ErrorCode = "PRIVACY"
	CodeFloodWait   ErrorCode = "FLOOD_WAIT"
	CodeRPCError    ErrorCode = "RPC_ERROR"
	CodeUnknown     ErrorCode = "UNKNOWN"
)

func (c ErrorCode) String() string { return string(c) }
