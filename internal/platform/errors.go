package platform

import (
	"errors"
	"fmt"
	"time"
)

// Code enumerates the failures a platform call can report.
type Code string

const (
	CodeNotFound    Code = "NOT_FOUND"
	CodeFloodWait   Code = "FLOOD_WAIT"
	CodePrivacy     Code = "PRIVACY"
	CodePeerInvalid Code = "PEER_INVALID"
	CodeRPC         Code = "RPC_ERROR"
)

// Error is the typed failure returned by every Client method.
type Error struct {
	Code Code
	Wait time.Duration // FLOOD_WAIT only; zero when the platform gave no hint
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Code == CodeFloodWait && e.Wait > 0 {
		msg = fmt.Sprintf("%s(%ds)", msg, int(e.Wait/time.Second))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(err error) *Error    { return &Error{Code: CodeNotFound, Err: err} }
func Privacy(err error) *Error     { return &Error{Code: CodePrivacy, Err: err} }
func PeerInvalid(err error) *Error { return &Error{Code: CodePeerInvalid, Err: err} }
func RPC(err error) *Error         { return &Error{Code: CodeRPC, Err: err} }

func FloodWait(wait time.Duration) *Error {
	return &Error{Code: CodeFloodWait, Wait: wait}
}

// CodeOf extracts the platform code from err; ok is false for untyped errors.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}
