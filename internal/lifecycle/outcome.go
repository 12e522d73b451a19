package lifecycle

import (
	"errors"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/platform"
)

// Class is the error taxonomy a runner reacts to.
type Class string

const (
	ClassOK                 Class = ""
	ClassIdentityUnresolved Class = "IDENTITY_UNRESOLVED"
	ClassRateLimited        Class = "RATE_LIMITED"
	ClassPrivacyRestricted  Class = "PRIVACY_RESTRICTED"
	ClassPlatformError      Class = "PLATFORM_ERROR"
	ClassUnknown            Class = "UNKNOWN"
)

// Stage says which platform call produced an outcome.
type Stage int

const (
	StageResolve Stage = iota
	StageAction
)

// Outcome is a classified platform result.
type Outcome struct {
	Class Class
	Wait  time.Duration // RATE_LIMITED only; zero when the platform gave no hint
	Err   error
}

func (o Outcome) OK() bool { return o.Class == ClassOK }

// Classify maps a platform client error onto the taxonomy. nil is success.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{}
	}
	code, ok := platform.CodeOf(err)
	if !ok {
		return Outcome{Class: ClassUnknown, Err: err}
	}
	switch code {
	case platform.CodeNotFound, platform.CodePeerInvalid:
		return Outcome{Class: ClassIdentityUnresolved, Err: err}
	case platform.CodeFloodWait:
		var wait time.Duration
		var pe *platform.Error
		if errors.As(err, &pe) {
			wait = pe.Wait
		}
		return Outcome{Class: ClassRateLimited, Wait: wait, Err: err}
	case platform.CodePrivacy:
		return Outcome{Class: ClassPrivacyRestricted, Err: err}
	case platform.CodeRPC:
		return Outcome{Class: ClassPlatformError, Err: err}
	default:
		return Outcome{Class: ClassUnknown, Err: err}
	}
}

// Resolve is the transition table: the status and error code a recipient
// takes for an outcome of kind k at stage.
func Resolve(k model.Kind, stage Stage, o Outcome) (model.Status, model.ErrorCode) {
	switch o.Class {
	case ClassOK:
		return k.SuccessStatus(), model.CodeNone
	case ClassIdentityUnresolved:
		if stage == StageResolve {
			return model.StatusFailed, model.CodeGetEntity
		}
		return model.StatusFailed, model.CodePeerResolve
	case ClassPrivacyRestricted:
		return model.StatusSkipped, model.CodePrivacy
	case ClassRateLimited:
		return model.StatusFailed, model.CodeFloodWait
	case ClassPlatformError:
		return model.StatusFailed, model.CodeRPCError
	default:
		return model.StatusFailed, model.CodeUnknown
	}
}
