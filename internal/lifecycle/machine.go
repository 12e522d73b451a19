package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/metrics"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// CanTransition reports whether a recipient of kind k may move from -> to.
func CanTransition(k model.Kind, from, to model.Status) bool {
	if !k.Allows(from) || !k.Allows(to) {
		return false
	}
	switch from {
	case model.StatusPending:
		return to == model.StatusProcessing
	case model.StatusProcessing:
		return to == model.StatusPending || to.Terminal()
	default:
		return false
	}
}

// Machine records per-recipient outcomes of a claimed batch.
type Machine struct {
	repo repository.RecipientsRepository
	now  func() time.Time
}

func NewMachine(repo repository.RecipientsRepository, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{repo: repo, now: now}
}

// Apply moves rec (claimed under token) to the status the outcome maps to and
// persists it. rec is updated in place on success.
func (m *Machine) Apply(ctx context.Context, k model.Kind, token string, rec *model.Recipient, accountID int64, stage Stage, o Outcome) (model.Result, error) {
	ks := rec.Of(k)
	status, code := Resolve(k, stage, o)
	if !CanTransition(k, ks.Status, status) {
		return model.Result{}, fmt.Errorf("%w: recipient %d %s %s -> %s", ErrInvalidTransition, rec.ID, k, ks.Status, status)
	}

	res := model.Result{
		Status:    status,
		ErrorCode: code,
		AccountID: accountID,
		At:        m.now(),
	}
	if err := m.repo.ApplyResult(ctx, k, rec.ID, token, res); err != nil {
		return model.Result{}, fmt.Errorf("apply result recipient=%d: %w", rec.ID, err)
	}

	at := res.At
	ks.Status = status
	ks.ErrorCode = code
	ks.StatusAt = &at
	ks.ClaimToken = ""
	ks.ClaimedAt = nil
	rec.LastAccountID = &accountID
	if rec.ProcessedAt == nil {
		rec.ProcessedAt = &at
	}

	metrics.ActionsTotal.WithLabelValues(k.String(), status.String()).Inc()
	return res, nil
}
