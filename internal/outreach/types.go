package outreach

import (
	"errors"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
)

// Reason says why a run ended.
type Reason string

const (
	ReasonCompleted          Reason = "completed"
	ReasonStopRequested      Reason = "stop_requested"
	ReasonDailyCap           Reason = "daily_cap"
	ReasonHardStop           Reason = "hard_stop"
	ReasonInsufficientTokens Reason = "insufficient_tokens"
	ReasonCooldown           Reason = "cooldown"
	ReasonCanceled           Reason = "canceled"

	// ReasonPlatformUnavailable ends a run whose bridge is down; the
	// untouched recipients go back to pending.
	ReasonPlatformUnavailable Reason = "platform_unavailable"
)

// Aborted reports whether the run ended before its batch was exhausted.
func (r Reason) Aborted() bool { return r != ReasonCompleted }

var ErrMissingChannel = errors.New("invite run needs a channel")

type Request struct {
	RunID     string
	AccountID int64
	OwnerID   int64
	Kind      model.Kind
	Channel   string        // invite only
	Payload   model.Payload // send only
	Limit     int
	Interval  time.Duration // delay between actions, before jitter
}

// RequestFromCommand converts a queued run command.
func RequestFromCommand(cmd model.RunCommand) Request {
	return Request{
		RunID:     cmd.RunID,
		AccountID: cmd.AccountID,
		OwnerID:   cmd.OwnerID,
		Kind:      cmd.Kind,
		Channel:   cmd.Channel,
		Payload:   cmd.Payload,
		Limit:     cmd.Limit,
		Interval:  time.Duration(cmd.IntervalSeconds) * time.Second,
	}
}

func (r Request) validate() error {
	if !r.Kind.Valid() {
		return model.ErrInvalidKind
	}
	if r.Kind == model.KindInvite && r.Channel == "" {
		return ErrMissingChannel
	}
	return nil
}

type Result struct {
	RunID     string
	AccountID int64
	Kind      model.Kind

	Claimed   int
	Succeeded int
	Failed    int
	Skipped   int
	Released  int // reverted to pending when the run ended

	Reason        Reason
	RetryAfter    time.Duration
	CooldownUntil *time.Time
}
