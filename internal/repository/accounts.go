package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmoiron/sqlx"
)

// AccountsRepository persists outreach accounts and their pacing state.
type AccountsRepository interface {
	Get(ctx context.Context, id int64) (*model.Account, error)
	GetForOwner(ctx context.Context, ownerID, id int64) (*model.Account, error)
	// WithAccountLock serializes read-modify-write of pacing fields per account.
	WithAccountLock(ctx context.Context, id int64, fn func(a *model.Account) error) error
	SetStopRequested(ctx context.Context, id int64, stop bool) error
}

type AccountsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAccountsRepository(db *sqlx.DB) *AccountsRepositoryImpl {
	return &AccountsRepositoryImpl{db: db}
}

var _ AccountsRepository = (*AccountsRepositoryImpl)(nil)

// accountRow mirrors the accounts table; the per-kind columns fold into
// model.RateLimitState values.
type accountRow struct {
	ID      int64  `db:"id"`
	OwnerID int64  `db:"owner_id"`
	Phone   string `db:"phone"`

	InviteTokens   int          `db:"invite_tokens"`
	InviteCapacity int          `db:"invite_capacity"`
	InviteRefill   float64      `db:"invite_refill_seconds"`
	InviteRefillAt sql.NullTime `db:"invite_refill_at"`
	InviteStreak   int          `db:"invite_success_streak"`

	SendTokens   int          `db:"send_tokens"`
	SendCapacity int          `db:"send_capacity"`
	SendRefill   float64      `db:"send_refill_seconds"`
	SendRefillAt sql.NullTime `db:"send_refill_at"`
	SendStreak   int          `db:"send_success_streak"`

	DailyCap      int          `db:"daily_cap"`
	SentToday     int          `db:"sent_today"`
	SentTodayOn   sql.NullTime `db:"sent_today_on"`
	CooldownUntil sql.NullTime `db:"cooldown_until"`
	StopRequested bool         `db:"stop_requested"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

const accountColumns = `
	id, owner_id, phone,
	invite_tokens, invite_capacity, invite_refill_seconds, invite_refill_at, invite_success_streak,
	send_tokens, send_capacity, send_refill_seconds, send_refill_at, send_success_streak,
	daily_cap, sent_today, sent_today_on, cooldown_until, stop_requested, created_at, updated_at`

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r accountRow) toModel() *model.Account {
	a := &model.Account{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Phone:   r.Phone,
		Invite: model.RateLimitState{
			Tokens:        r.InviteTokens,
			Capacity:      r.InviteCapacity,
			RefillSeconds: r.InviteRefill,
			RefillAt:      timePtr(r.InviteRefillAt),
			SuccessStreak: r.InviteStreak,
		},
		Send: model.RateLimitState{
			Tokens:        r.SendTokens,
			Capacity:      r.SendCapacity,
			RefillSeconds: r.SendRefill,
			RefillAt:      timePtr(r.SendRefillAt),
			SuccessStreak: r.SendStreak,
		},
		DailyCap:      r.DailyCap,
		SentToday:     r.SentToday,
		CooldownUntil: timePtr(r.CooldownUntil),
		StopRequested: r.StopRequested,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.SentTodayOn.Valid {
		a.SentTodayOn = model.DayOf(r.SentTodayOn.Time)
	}
	return a
}

func (r *AccountsRepositoryImpl) Get(ctx context.Context, id int64) (*model.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *AccountsRepositoryImpl) GetForOwner(ctx context.Context, ownerID, id int64) (*model.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ? LIMIT 1`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// WithAccountLock selects the account FOR UPDATE, hands it to fn and writes
// back the pacing, counter and cooldown fields in the same transaction.
func (r *AccountsRepositoryImpl) WithAccountLock(ctx context.Context, id int64, fn func(a *model.Account) error) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var row accountRow
		err := tx.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = ? FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		a := row.toModel()
		if err := fn(a); err != nil {
			return err
		}

		var sentOn sql.NullTime
		if !a.SentTodayOn.IsZero() {
			sentOn = sql.NullTime{Time: a.SentTodayOn, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts
			   SET invite_tokens = ?, invite_capacity = ?, invite_refill_seconds = ?,
			       invite_refill_at = ?, invite_success_streak = ?,
			       send_tokens = ?, send_capacity = ?, send_refill_seconds = ?,
			       send_refill_at = ?, send_success_streak = ?,
			       sent_today = ?, sent_today_on = ?, cooldown_until = ?,
			       updated_at = NOW(6)
			 WHERE id = ?
		`,
			a.Invite.Tokens, a.Invite.Capacity, a.Invite.RefillSeconds,
			nullTime(a.Invite.RefillAt), a.Invite.SuccessStreak,
			a.Send.Tokens, a.Send.Capacity, a.Send.RefillSeconds,
			nullTime(a.Send.RefillAt), a.Send.SuccessStreak,
			a.SentToday, sentOn, nullTime(a.CooldownUntil),
			id,
		)
		if err != nil {
			return fmt.Errorf("save account state: %w", err)
		}
		return nil
	})
}

func (r *AccountsRepositoryImpl) SetStopRequested(ctx context.Context, id int64, stop bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET stop_requested = ?, updated_at = NOW(6) WHERE id = ?`, stop, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
