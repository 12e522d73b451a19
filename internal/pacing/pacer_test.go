package pacing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/repository/memory"
)

func newTestPacer(accts *memory.Accounts) *Pacer {
	return New(accts, nil, func() time.Time { return t0 }, fixed(0))
}

func TestPacerRecordSuccessCountsSendOnly(t *testing.T) {
	ctx := context.Background()
	accts := memory.NewAccounts(model.Account{
		ID:     1,
		Invite: model.RateLimitState{Capacity: 3, RefillSeconds: 30},
		Send:   model.RateLimitState{Capacity: 3, RefillSeconds: 30},
	})
	p := newTestPacer(accts)

	if _, err := p.RecordSuccess(ctx, 1, model.KindInvite); err != nil {
		t.Fatal(err)
	}
	if _, err := p.RecordSuccess(ctx, 1, model.KindSend); err != nil {
		t.Fatal(err)
	}

	a, _ := accts.Get(ctx, 1)
	if got := a.DailyCount(t0); got != 1 {
		t.Fatalf("daily count = %d, want 1 (send only)", got)
	}
	if a.Invite.SuccessStreak != 1 || a.Send.SuccessStreak != 1 {
		t.Fatalf("streaks = %d/%d, want 1/1", a.Invite.SuccessStreak, a.Send.SuccessStreak)
	}
}

func TestPacerKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	accts := memory.NewAccounts(model.Account{
		ID:     1,
		Invite: model.RateLimitState{Tokens: 0, Capacity: 3, RefillSeconds: 60, RefillAt: at(0)},
		Send:   model.RateLimitState{Tokens: 1, Capacity: 3, RefillSeconds: 30, RefillAt: at(0)},
	})
	p := newTestPacer(accts)

	d, err := p.TryConsume(ctx, 1, model.KindInvite)
	if err != nil {
		t.Fatal(err)
	}
	if d.Granted || d.WaitSeconds != 60 {
		t.Fatalf("invite decision = %+v, want wait 60", d)
	}
	d, err = p.TryConsume(ctx, 1, model.KindSend)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Granted {
		t.Fatalf("send decision = %+v, want granted", d)
	}
}

func TestPacerRecordRateLimitSetsCooldown(t *testing.T) {
	ctx := context.Background()
	accts := memory.NewAccounts(model.Account{
		ID:     1,
		Invite: model.RateLimitState{Tokens: 2, Capacity: 3, RefillSeconds: 30},
	})
	p := newTestPacer(accts)

	until := t0.Add(1800 * time.Second)
	st, err := p.RecordRateLimit(ctx, 1, model.KindInvite, 1800*time.Second, &until)
	if err != nil {
		t.Fatal(err)
	}
	if st.Tokens != 0 || st.RefillSeconds != 1800 {
		t.Fatalf("state = %+v, want tokens 0 interval 1800", st)
	}
	a, _ := accts.Get(ctx, 1)
	if a.CooldownUntil == nil || !a.CooldownUntil.Equal(until) {
		t.Fatalf("cooldown = %v, want %v", a.CooldownUntil, until)
	}
	if !a.InCooldown(t0) {
		t.Fatal("account should be in cooldown")
	}
}

func TestPacerErrors(t *testing.T) {
	ctx := context.Background()
	p := newTestPacer(memory.NewAccounts())

	if _, err := p.TryConsume(ctx, 1, model.Kind("poke")); !errors.Is(err, model.ErrInvalidKind) {
		t.Errorf("invalid kind: err = %v", err)
	}
	if _, err := p.TryConsume(ctx, 42, model.KindSend); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing account: err = %v", err)
	}
}
