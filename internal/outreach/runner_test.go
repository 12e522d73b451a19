package outreach

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/outreach/internal/claim"
	"github.com/jmehdipour/outreach/internal/lifecycle"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/pacing"
	"github.com/jmehdipour/outreach/internal/platform"
	"github.com/jmehdipour/outreach/internal/repository/memory"
	"go.uber.org/zap"
)

const (
	ownerID   int64 = 1
	accountID int64 = 7
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances only when the runner sleeps. onSleep, if set, runs
// after each sleep.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	slept   []time.Duration
	onSleep func()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeClient struct {
	mu       sync.Mutex
	resolve  func(ref string) error
	act      func(call int) error
	actions  int
	resolves int
}

func (f *fakeClient) ResolveIdentity(_ context.Context, _ int64, ref string) (platform.Handle, error) {
	f.mu.Lock()
	f.resolves++
	fn := f.resolve
	f.mu.Unlock()
	if fn != nil {
		if err := fn(ref); err != nil {
			return platform.Handle{}, err
		}
	}
	return platform.Handle{ID: 100, AccessHash: 1}, nil
}

func (f *fakeClient) perform() error {
	f.mu.Lock()
	call := f.actions
	f.actions++
	fn := f.act
	f.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	return nil
}

func (f *fakeClient) PerformInvite(context.Context, int64, string, platform.Handle) error {
	return f.perform()
}

func (f *fakeClient) PerformSend(context.Context, int64, platform.Handle, model.Payload) error {
	return f.perform()
}

func (f *fakeClient) calls() (resolves, actions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves, f.actions
}

type harness struct {
	clock      *fakeClock
	accounts   *memory.Accounts
	recipients *memory.Recipients
	queue      *claim.Queue
	client     *fakeClient
	runner     *Runner
}

func plentiful() model.RateLimitState {
	return model.RateLimitState{Tokens: 1000, Capacity: 1000, RefillSeconds: 30}
}

func newHarness(t *testing.T, acct model.Account, n int, client *fakeClient) *harness {
	t.Helper()
	clock := &fakeClock{now: t0}
	acct.ID = accountID
	acct.OwnerID = ownerID
	accounts := memory.NewAccounts(acct)

	recs := make([]model.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, model.Recipient{ID: int64(i), OwnerID: ownerID, Ref: fmt.Sprintf("user_%05d", i)})
	}
	recipients := memory.NewRecipients(recs...)
	queue := claim.NewQueue(recipients, 0, clock.Now)

	r := NewRunner(Deps{
		Accounts: accounts,
		Queue:    queue,
		Pacer:    pacing.New(accounts, nil, clock.Now, func() float64 { return 0 }),
		Machine:  lifecycle.NewMachine(recipients, clock.Now),
		Client:   client,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
		Jitter:   func(time.Duration) time.Duration { return 0 },
	}, Config{}, zap.NewNop())

	return &harness{clock: clock, accounts: accounts, recipients: recipients, queue: queue, client: client, runner: r}
}

func inviteReq(limit int) Request {
	return Request{RunID: "run-1", AccountID: accountID, OwnerID: ownerID, Kind: model.KindInvite, Channel: "club", Limit: limit, Interval: 10 * time.Second}
}

func sendReq(limit int) Request {
	return Request{RunID: "run-1", AccountID: accountID, OwnerID: ownerID, Kind: model.KindSend, Payload: model.Payload{Text: "hi"}, Limit: limit, Interval: 10 * time.Second}
}

// statusCount tallies recipients of kind k per status and fails the test if
// any recipient is still processing.
func (h *harness) statusCount(t *testing.T, k model.Kind) map[model.Status]int {
	t.Helper()
	out := make(map[model.Status]int)
	for _, r := range h.recipients.All() {
		ks := r.Of(k)
		if ks.Status == model.StatusProcessing {
			t.Errorf("recipient %d left processing after the run", r.ID)
		}
		out[ks.Status]++
	}
	return out
}

func TestRunCompletes(t *testing.T) {
	h := newHarness(t, model.Account{Invite: plentiful()}, 3, &fakeClient{})

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted || res.Claimed != 3 || res.Succeeded != 3 || res.Released != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := h.statusCount(t, model.KindInvite)[model.StatusInvited]; got != 3 {
		t.Fatalf("invited = %d, want 3", got)
	}
	// The interval separates actions but is not slept after the last one.
	if len(h.clock.slept) != 2 || h.clock.slept[0] != 10*time.Second {
		t.Fatalf("sleeps = %v, want two 10s pauses", h.clock.slept)
	}
	msgs := h.statusCount(t, model.KindSend)
	if msgs[model.StatusPending] != 3 {
		t.Fatalf("message lifecycle touched by invite run: %v", msgs)
	}
}

func TestRunStopsAtDailyCap(t *testing.T) {
	acct := model.Account{Send: plentiful(), DailyCap: 5, SentToday: 3, SentTodayOn: model.DayOf(t0)}
	h := newHarness(t, acct, 12, &fakeClient{})

	res, err := h.runner.Run(context.Background(), sendReq(12))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonDailyCap {
		t.Fatalf("reason = %s, want daily_cap", res.Reason)
	}
	if res.Claimed != 12 || res.Succeeded != 2 || res.Released != 10 {
		t.Fatalf("result = %+v, want 12 claimed, 2 sent, 10 released", res)
	}
	if _, actions := h.client.calls(); actions != 2 {
		t.Fatalf("platform actions = %d, want 2", actions)
	}
	counts := h.statusCount(t, model.KindSend)
	if counts[model.StatusSent] != 2 || counts[model.StatusPending] != 10 {
		t.Fatalf("statuses = %v", counts)
	}
	a, _ := h.accounts.Get(context.Background(), accountID)
	if a.DailyCount(t0) != 5 {
		t.Fatalf("daily count = %d, want 5", a.DailyCount(t0))
	}
}

func TestRunHardStopOnLongFloodWait(t *testing.T) {
	client := &fakeClient{act: func(int) error { return platform.FloodWait(1800 * time.Second) }}
	h := newHarness(t, model.Account{Invite: plentiful()}, 5, client)

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonHardStop || res.RetryAfter != 1800*time.Second {
		t.Fatalf("result = %+v, want hard_stop after 1800s", res)
	}
	want := t0.Add(1800 * time.Second)
	if res.CooldownUntil == nil || !res.CooldownUntil.Equal(want) {
		t.Fatalf("result cooldown = %v, want %v", res.CooldownUntil, want)
	}

	a, _ := h.accounts.Get(context.Background(), accountID)
	if a.CooldownUntil == nil || !a.CooldownUntil.Equal(want) {
		t.Fatalf("account cooldown = %v, want %v", a.CooldownUntil, want)
	}
	if a.Invite.Tokens != 0 || a.Invite.RefillSeconds != 1800 {
		t.Fatalf("invite state = %+v, want slowed down to 1800s", a.Invite)
	}

	counts := h.statusCount(t, model.KindInvite)
	if counts[model.StatusFailed] != 1 || counts[model.StatusPending] != 4 || res.Released != 4 {
		t.Fatalf("statuses = %v released = %d", counts, res.Released)
	}
	r, _ := h.recipients.Get(1)
	if r.Invite.ErrorCode != model.CodeFloodWait {
		t.Fatalf("error code = %s, want FLOOD_WAIT", r.Invite.ErrorCode)
	}

	// The next run on the same account is refused until the cooldown ends.
	res, err = h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCooldown || res.Claimed != 0 {
		t.Fatalf("second run = %+v, want cooldown refusal", res)
	}
}

func TestRunShortFloodWaitSlowsDownAndContinues(t *testing.T) {
	client := &fakeClient{act: func(call int) error {
		if call == 0 {
			return platform.FloodWait(45 * time.Second)
		}
		return nil
	}}
	acct := model.Account{Invite: model.RateLimitState{Tokens: 3, Capacity: 3, RefillSeconds: 30}}
	h := newHarness(t, acct, 2, client)

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted || res.Failed != 1 || res.Succeeded != 1 {
		t.Fatalf("result = %+v", res)
	}
	// The slowdown empties the bucket and stretches the interval to 45s; 10s
	// of it pass in the request pause, the rest is a token wait.
	want := []time.Duration{10 * time.Second, 35 * time.Second}
	if !slices.Equal(h.clock.slept, want) {
		t.Fatalf("sleeps = %v, want %v", h.clock.slept, want)
	}
	a, _ := h.accounts.Get(context.Background(), accountID)
	if a.Invite.RefillSeconds != 45 {
		t.Fatalf("refill = %v, want 45", a.Invite.RefillSeconds)
	}
	if a.CooldownUntil != nil {
		t.Fatalf("short wait set a cooldown: %v", a.CooldownUntil)
	}
}

func TestRunHonorsStopFlag(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, model.Account{Send: plentiful()}, 6, client)
	client.act = func(call int) error {
		if call == 1 {
			_ = h.accounts.SetStopRequested(context.Background(), accountID, true)
		}
		return nil
	}

	res, err := h.runner.Run(context.Background(), sendReq(6))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonStopRequested || res.Succeeded != 2 || res.Released != 4 {
		t.Fatalf("result = %+v, want stop after 2 sends", res)
	}
	h.statusCount(t, model.KindSend)

	// Stop already set: nothing is claimed.
	res, err = h.runner.Run(context.Background(), sendReq(6))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonStopRequested || res.Claimed != 0 {
		t.Fatalf("second run = %+v", res)
	}
}

func TestRunInsufficientTokens(t *testing.T) {
	acct := model.Account{Invite: model.RateLimitState{Tokens: 0, Capacity: 3, RefillSeconds: 120, RefillAt: &t0}}
	h := newHarness(t, acct, 4, &fakeClient{})

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonInsufficientTokens || res.RetryAfter != 120*time.Second {
		t.Fatalf("result = %+v, want insufficient_tokens retry in 120s", res)
	}
	if res.Released != 4 {
		t.Fatalf("released = %d, want 4", res.Released)
	}
	if _, actions := h.client.calls(); actions != 0 {
		t.Fatalf("platform actions = %d, want none", actions)
	}
	if len(h.clock.slept) != 0 {
		t.Fatalf("runner slept %v on a wait above the limit", h.clock.slept)
	}
	h.statusCount(t, model.KindInvite)
}

func TestRunWaitsForTokenWithinLimit(t *testing.T) {
	acct := model.Account{Invite: model.RateLimitState{Tokens: 0, Capacity: 3, RefillSeconds: 30, RefillAt: &t0}}
	h := newHarness(t, acct, 1, &fakeClient{})

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted || res.Succeeded != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(h.clock.slept) != 1 || h.clock.slept[0] != 30*time.Second {
		t.Fatalf("sleeps = %v, want one 30s token wait", h.clock.slept)
	}
}

func TestRunClassifiesPerRecipientFailures(t *testing.T) {
	client := &fakeClient{
		resolve: func(ref string) error {
			if ref == "user_00001" {
				return platform.NotFound(nil)
			}
			return nil
		},
		act: func(call int) error {
			switch call {
			case 0:
				return platform.Privacy(nil)
			case 1:
				panic("bridge exploded")
			case 2:
				return platform.PeerInvalid(nil)
			case 3:
				return platform.RPC(errors.New("timeout"))
			}
			return nil
		},
	}
	acct := model.Account{Send: model.RateLimitState{Tokens: 10, Capacity: 10, RefillSeconds: 600}}
	h := newHarness(t, acct, 6, client)

	res, err := h.runner.Run(context.Background(), sendReq(6))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted {
		t.Fatalf("reason = %s, per-recipient failures must not end the run", res.Reason)
	}
	if res.Succeeded != 1 || res.Skipped != 1 || res.Failed != 4 {
		t.Fatalf("result = %+v", res)
	}

	want := map[int64]struct {
		status model.Status
		code   model.ErrorCode
	}{
		1: {model.StatusFailed, model.CodeGetEntity},
		2: {model.StatusSkipped, model.CodePrivacy},
		3: {model.StatusFailed, model.CodeUnknown},
		4: {model.StatusFailed, model.CodePeerResolve},
		5: {model.StatusFailed, model.CodeRPCError},
		6: {model.StatusSent, model.CodeNone},
	}
	for id, w := range want {
		r, _ := h.recipients.Get(id)
		if r.Message.Status != w.status || r.Message.ErrorCode != w.code {
			t.Errorf("recipient %d = %s/%s, want %s/%s", id, r.Message.Status, r.Message.ErrorCode, w.status, w.code)
		}
		if r.ProcessedAt == nil {
			t.Errorf("recipient %d has no processed_at", id)
		}
	}

	// The unresolved recipient never consumed a token.
	a, _ := h.accounts.Get(context.Background(), accountID)
	if a.Send.Tokens != 5 {
		t.Fatalf("tokens = %d, want 5 (one per attempted action)", a.Send.Tokens)
	}
}

func TestRunCancelledReleasesBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{act: func(call int) error {
		if call == 0 {
			cancel()
		}
		return nil
	}}
	h := newHarness(t, model.Account{Invite: plentiful()}, 5, client)

	res, err := h.runner.Run(ctx, inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCanceled || res.Succeeded != 1 || res.Released != 4 {
		t.Fatalf("result = %+v", res)
	}
	h.statusCount(t, model.KindInvite)
}

func TestRunBoundsBatch(t *testing.T) {
	h := newHarness(t, model.Account{Send: plentiful()}, 8, &fakeClient{})
	res, err := h.runner.Run(context.Background(), sendReq(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.Claimed != 3 || res.Succeeded != 3 {
		t.Fatalf("result = %+v, want 3 processed", res)
	}
	if got := h.statusCount(t, model.KindSend)[model.StatusPending]; got != 5 {
		t.Fatalf("pending = %d, want 5 untouched", got)
	}
}

func TestRunValidatesRequest(t *testing.T) {
	h := newHarness(t, model.Account{}, 0, &fakeClient{})
	req := inviteReq(0)
	req.Channel = ""
	if _, err := h.runner.Run(context.Background(), req); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("err = %v, want ErrMissingChannel", err)
	}
	req.Kind = "poke"
	if _, err := h.runner.Run(context.Background(), req); !errors.Is(err, model.ErrInvalidKind) {
		t.Fatalf("err = %v, want ErrInvalidKind", err)
	}
}

func TestRunSkipsRecipientsSweptMidRun(t *testing.T) {
	h := newHarness(t, model.Account{Invite: plentiful()}, 3, &fakeClient{})

	// After the first invite, the rest of the batch looks abandoned to the
	// stale sweep and another runner picks it up.
	var second *claim.Batch
	h.clock.onSleep = func() {
		if second != nil {
			return
		}
		h.clock.advance(31 * time.Minute)
		n, err := h.queue.ReclaimStale(context.Background(), model.KindInvite, 30*time.Minute)
		if err != nil || n != 2 {
			t.Fatalf("reclaimed = %d err = %v, want 2", n, err)
		}
		second, err = h.queue.Claim(context.Background(), ownerID, model.KindInvite, 10)
		if err != nil || second.Len() != 2 {
			t.Fatalf("second claim = %d err = %v, want 2", second.Len(), err)
		}
	}

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted || res.Succeeded != 1 || res.Released != 0 {
		t.Fatalf("result = %+v, want one invite and nothing released", res)
	}
	if resolves, actions := h.client.calls(); actions != 1 || resolves != 1 {
		t.Fatalf("resolves = %d actions = %d, want 1 each", resolves, actions)
	}
	for _, id := range []int64{2, 3} {
		r, _ := h.recipients.Get(id)
		if r.Invite.Status != model.StatusProcessing || r.Invite.ClaimToken != second.Token {
			t.Fatalf("recipient %d = %s token=%q, want still held by the second batch", id, r.Invite.Status, r.Invite.ClaimToken)
		}
	}
}

func TestRunTouchKeepsClaimFresh(t *testing.T) {
	h := newHarness(t, model.Account{Invite: plentiful()}, 3, &fakeClient{})
	// Each pause lasts 20m; the batch as a whole outlives the 30m window.
	h.clock.onSleep = func() {
		h.clock.advance(20 * time.Minute)
		if n, err := h.queue.ReclaimStale(context.Background(), model.KindInvite, 30*time.Minute); err != nil || n != 0 {
			t.Fatalf("reclaimed %d claims of a live batch, err = %v", n, err)
		}
	}

	res, err := h.runner.Run(context.Background(), inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCompleted || res.Succeeded != 3 {
		t.Fatalf("result = %+v, want all 3 invited", res)
	}
	if _, actions := h.client.calls(); actions != 3 {
		t.Fatalf("actions = %d, want 3", actions)
	}
}

func TestRunCancelledDuringResolveReleasesItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{resolve: func(string) error {
		cancel()
		return platform.RPC(context.Canceled)
	}}
	h := newHarness(t, model.Account{Invite: plentiful()}, 3, client)

	res, err := h.runner.Run(ctx, inviteReq(0))
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonCanceled || res.Failed != 0 || res.Released != 3 {
		t.Fatalf("result = %+v, want canceled with all 3 released", res)
	}
	if got := h.statusCount(t, model.KindInvite)[model.StatusPending]; got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	r, _ := h.recipients.Get(1)
	if r.Invite.ErrorCode != model.CodeNone || r.ProcessedAt != nil {
		t.Fatalf("recipient 1 = %+v, want untouched", r.Invite)
	}
}

func TestRunPlatformErrors(t *testing.T) {
	unavailable := func() error {
		return platform.RPC(fmt.Errorf("%w: status=502", platform.ErrBridgeUnavailable))
	}
	tests := []struct {
		name        string
		resolve     func(ref string) error
		act         func(call int) error
		wantReason  Reason
		wantActions int
		want        map[model.Status]int
		wantCode    model.ErrorCode // of recipient 1
	}{
		{
			name:        "bridge down at resolve",
			resolve:     func(string) error { return unavailable() },
			wantReason:  ReasonPlatformUnavailable,
			wantActions: 0,
			want:        map[model.Status]int{model.StatusPending: 5},
			wantCode:    model.CodeNone,
		},
		{
			name:        "circuit open at action",
			act:         func(int) error { return platform.RPC(platform.ErrCircuitOpen) },
			wantReason:  ReasonPlatformUnavailable,
			wantActions: 1,
			want:        map[model.Status]int{model.StatusPending: 5},
			wantCode:    model.CodeNone,
		},
		{
			name: "bridge failure after the action went out",
			act: func(call int) error {
				if call == 0 {
					return unavailable()
				}
				return nil
			},
			wantReason:  ReasonCompleted,
			wantActions: 5,
			want:        map[model.Status]int{model.StatusFailed: 1, model.StatusInvited: 4},
			wantCode:    model.CodeRPCError,
		},
		{
			name: "rpc verdict at resolve",
			resolve: func(ref string) error {
				if ref == "user_00001" {
					return platform.RPC(errors.New("malformed handle"))
				}
				return nil
			},
			wantReason:  ReasonCompleted,
			wantActions: 4,
			want:        map[model.Status]int{model.StatusFailed: 1, model.StatusInvited: 4},
			wantCode:    model.CodeRPCError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{resolve: tt.resolve, act: tt.act}
			h := newHarness(t, model.Account{Invite: plentiful()}, 5, client)

			res, err := h.runner.Run(context.Background(), inviteReq(0))
			if err != nil {
				t.Fatal(err)
			}
			if res.Reason != tt.wantReason {
				t.Fatalf("reason = %s, want %s", res.Reason, tt.wantReason)
			}
			if _, actions := client.calls(); actions != tt.wantActions {
				t.Fatalf("actions = %d, want %d", actions, tt.wantActions)
			}
			got := h.statusCount(t, model.KindInvite)
			for st, n := range tt.want {
				if got[st] != n {
					t.Fatalf("statuses = %v, want %v", got, tt.want)
				}
			}
			if tt.wantReason == ReasonPlatformUnavailable && res.Released != 5 {
				t.Fatalf("released = %d, want 5", res.Released)
			}
			r, _ := h.recipients.Get(1)
			if r.Invite.ErrorCode != tt.wantCode {
				t.Fatalf("recipient 1 code = %s, want %s", r.Invite.ErrorCode, tt.wantCode)
			}
		})
	}
}
