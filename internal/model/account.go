package model

import "time"

// RateLimitState is the token bucket and adaptive pacing state of one account
// for one operation kind. An account carries one per Kind.
type RateLimitState struct {
	Tokens        int        `json:"tokens"`
	Capacity      int        `json:"capacity"`
	RefillSeconds float64    `json:"refill_seconds"`
	RefillAt      *time.Time `json:"refill_at,omitempty"`
	SuccessStreak int        `json:"success_streak"`
}

// Account is one outreach identity on the messaging platform.
type Account struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Phone   string `json:"phone"`

	Invite RateLimitState `json:"invite"`
	Send   RateLimitState `json:"send"`

	DailyCap    int       `json:"daily_cap"`
	SentToday   int       `json:"sent_today"`
	SentTodayOn time.Time `json:"sent_today_on"` // date only, UTC

	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	StopRequested bool       `json:"stop_requested"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State returns the mutable pacing state for k. Unknown kinds fall back to send.
func (a *Account) State(k Kind) *RateLimitState {
	if k == KindInvite {
		return &a.Invite
	}
	return &a.Send
}

// InCooldown reports whether the account is still locked out at now.
func (a *Account) InCooldown(now time.Time) bool {
	return a.CooldownUntil != nil && now.Before(*a.CooldownUntil)
}

// DailyCount returns the daily counter as seen on day; a stale counter reads as zero.
func (a *Account) DailyCount(now time.Time) int {
	if !SameDay(a.SentTodayOn, now) {
		return 0
	}
	return a.SentToday
}

// DailyCapReached reports whether the daily cap is exhausted. A cap <= 0 disables it.
func (a *Account) DailyCapReached(now time.Time) bool {
	return a.DailyCap > 0 && a.DailyCount(now) >= a.DailyCap
}

// IncDaily bumps the daily counter, rolling it over when the day changed.
func (a *Account) IncDaily(now time.Time) {
	if !SameDay(a.SentTodayOn, now) {
		a.SentToday = 0
		a.SentTodayOn = DayOf(now)
	}
	a.SentToday++
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func SameDay(a, b time.Time) bool {
	return !a.IsZero() && DayOf(a).Equal(DayOf(b))
}
