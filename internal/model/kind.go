package model

import (
	"errors"
	"strings"
)

// Kind is the outbound operation an account performs on a recipient.
type Kind string

const (
	KindInvite Kind = "invite"
	KindSend   Kind = "send"
)

var ErrInvalidKind = errors.New("invalid operation kind")

func (k Kind) String() string { return string(k) }

func (k Kind) Valid() bool {
	return k == KindInvite || k == KindSend
}

// ParseKind normalizes input. "message" is accepted as an alias of send.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invite":
		return KindInvite, nil
	case "send", "message":
		return KindSend, nil
	default:
		return "", ErrInvalidKind
	}
}

// SuccessStatus is the terminal status a recipient reaches when the action succeeds.
func (k Kind) SuccessStatus() Status {
	if k == KindInvite {
		return StatusInvited
	}
	return StatusSent
}

// Allows reports whether s is a legal status for this kind.
// invited is invite-only, sent is send-only.
func (k Kind) Allows(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFailed, StatusSkipped:
		return k.Valid()
	case StatusInvited:
		return k == KindInvite
	case StatusSent:
		return k == KindSend
	default:
		return false
	}
}

// Kinds lists every operation kind in a stable order.
func Kinds() []Kind { return []Kind{KindInvite, KindSend} }
