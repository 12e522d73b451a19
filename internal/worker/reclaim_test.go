package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository/memory"
	"go.uber.org/zap"
)

func TestReclaimerSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-time.Hour)
	fresh := now.Add(-time.Minute)
	recipients := memory.NewRecipients(
		model.Recipient{ID: 1, OwnerID: 1, Invite: model.KindStatus{Status: model.StatusProcessing, ClaimToken: "a", ClaimedAt: &old}},
		model.Recipient{ID: 2, OwnerID: 1, Message: model.KindStatus{Status: model.StatusProcessing, ClaimToken: "b", ClaimedAt: &old}},
		model.Recipient{ID: 3, OwnerID: 1, Message: model.KindStatus{Status: model.StatusProcessing, ClaimToken: "c", ClaimedAt: &fresh}},
	)
	q := claim.NewQueue(recipients, 0, func() time.Time { return now })
	r := NewReclaimer(q, zap.NewNop(), "@every 5m", 30*time.Minute)

	if n := r.Sweep(context.Background()); n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	r3, _ := recipients.Get(3)
	if r3.Message.Status != model.StatusProcessing {
		t.Fatalf("fresh claim reclaimed: %s", r3.Message.Status)
	}
	for _, id := range []int64{1, 2} {
		rec, _ := recipients.Get(id)
		if rec.Invite.Status != model.StatusPending || rec.Message.Status != model.StatusPending {
			t.Fatalf("recipient %d = %s/%s", id, rec.Invite.Status, rec.Message.Status)
		}
	}
}

func TestReclaimerRunRejectsBadConfig(t *testing.T) {
	q := claim.NewQueue(memory.NewRecipients(), 0, nil)
	tests := []struct {
		name string
		r    *Reclaimer
	}{
		{"no queue", &Reclaimer{StaleAfter: time.Minute, Schedule: "@every 1m"}},
		{"no window", &Reclaimer{Queue: q, Schedule: "@every 1m"}},
		{"bad schedule", &Reclaimer{Queue: q, StaleAfter: time.Minute, Schedule: "every so often"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.r.Run(context.Background()); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestReclaimerRunStopsWithContext(t *testing.T) {
	q := claim.NewQueue(memory.NewRecipients(), 0, nil)
	r := NewReclaimer(q, zap.NewNop(), "@every 1h", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reclaimer did not stop")
	}
}
