package memory

import (
	"time"

	"github.com/jmehdipour/outreach/internal/model"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneState(st model.RateLimitState) model.RateLimitState {
	st.RefillAt = cloneTime(st.RefillAt)
	return st
}

func cloneAccount(a model.Account) model.Account {
	a.Invite = cloneState(a.Invite)
	a.Send = cloneState(a.Send)
	a.CooldownUntil = cloneTime(a.CooldownUntil)
	return a
}

func cloneKindStatus(ks model.KindStatus) model.KindStatus {
	ks.StatusAt = cloneTime(ks.StatusAt)
	ks.ClaimedAt = cloneTime(ks.ClaimedAt)
	return ks
}

func cloneRecipient(r model.Recipient) model.Recipient {
	r.Invite = cloneKindStatus(r.Invite)
	r.Message = cloneKindStatus(r.Message)
	r.ProcessedAt = cloneTime(r.ProcessedAt)
	if r.LastAccountID != nil {
		id := *r.LastAccountID
		r.LastAccountID = &id
	}
	return r
}
