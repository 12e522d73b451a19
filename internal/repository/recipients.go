package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmoiron/sqlx"
)

// RecipientsRepository persists recipient lifecycles. Every status write is a
// conditional update so concurrent runners cannot step on each other's rows.
type RecipientsRepository interface {
	// ClaimPending flips up to limit pending rows of (ownerID, kind) to
	// processing under token and returns exactly those rows in id order.
	ClaimPending(ctx context.Context, ownerID int64, kind model.Kind, token string, limit int, at time.Time) ([]model.Recipient, error)
	// ReleaseClaim reverts rows still processing under token back to pending.
	ReleaseClaim(ctx context.Context, kind model.Kind, token string, at time.Time) (int64, error)
	// TouchClaim moves claimed_at of every row still processing under token to
	// at and reports whether id is one of them.
	TouchClaim(ctx context.Context, kind model.Kind, id int64, token string, at time.Time) (bool, error)
	// ReleaseStale reverts processing rows claimed before cutoff.
	ReleaseStale(ctx context.Context, kind model.Kind, cutoff, at time.Time) (int64, error)
	// ApplyResult records a terminal outcome; ErrNotClaimed if the row is no
	// longer processing under token.
	ApplyResult(ctx context.Context, kind model.Kind, id int64, token string, res model.Result) error
	CountByStatus(ctx context.Context, ownerID int64, kind model.Kind) (map[model.Status]int64, error)
}

type RecipientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewRecipientsRepository(db *sqlx.DB) *RecipientsRepositoryImpl {
	return &RecipientsRepositoryImpl{db: db}
}

var _ RecipientsRepository = (*RecipientsRepositoryImpl)(nil)

// kindColumns names the per-kind lifecycle columns of the recipients table.
type kindColumns struct {
	status     string
	errorCode  string
	statusAt   string
	claimToken string
	claimedAt  string
}

var recipientColumns = map[model.Kind]kindColumns{
	model.KindInvite: {
		status:     "invite_status",
		errorCode:  "invite_error",
		statusAt:   "invite_status_at",
		claimToken: "invite_claim_token",
		claimedAt:  "invite_claimed_at",
	},
	model.KindSend: {
		status:     "message_status",
		errorCode:  "message_error",
		statusAt:   "message_status_at",
		claimToken: "message_claim_token",
		claimedAt:  "message_claimed_at",
	},
}

func columnsFor(k model.Kind) (kindColumns, error) {
	c, ok := recipientColumns[k]
	if !ok {
		return kindColumns{}, model.ErrInvalidKind
	}
	return c, nil
}

type recipientRow struct {
	ID      int64          `db:"id"`
	OwnerID int64          `db:"owner_id"`
	Ref     string         `db:"ref"`
	Name    sql.NullString `db:"name"`

	InviteStatus    string         `db:"invite_status"`
	InviteError     string         `db:"invite_error"`
	InviteStatusAt  sql.NullTime   `db:"invite_status_at"`
	InviteToken     sql.NullString `db:"invite_claim_token"`
	InviteClaimedAt sql.NullTime   `db:"invite_claimed_at"`

	MessageStatus    string         `db:"message_status"`
	MessageError     string         `db:"message_error"`
	MessageStatusAt  sql.NullTime   `db:"message_status_at"`
	MessageToken     sql.NullString `db:"message_claim_token"`
	MessageClaimedAt sql.NullTime   `db:"message_claimed_at"`

	ProcessedAt   sql.NullTime  `db:"processed_at"`
	LastAccountID sql.NullInt64 `db:"last_account_id"`
	CreatedAt     time.Time     `db:"created_at"`
}

const recipientSelect = `
	SELECT id, owner_id, ref, name,
	       invite_status, invite_error, invite_status_at, invite_claim_token, invite_claimed_at,
	       message_status, message_error, message_status_at, message_claim_token, message_claimed_at,
	       processed_at, last_account_id, created_at
	  FROM recipients`

func (r recipientRow) toModel() model.Recipient {
	rec := model.Recipient{
		ID:      r.ID,
		OwnerID: r.OwnerID,
		Ref:     r.Ref,
		Name:    r.Name.String,
		Invite: model.KindStatus{
			Status:     model.Status(r.InviteStatus),
			ErrorCode:  model.ErrorCode(r.InviteError),
			StatusAt:   timePtr(r.InviteStatusAt),
			ClaimToken: r.InviteToken.String,
			ClaimedAt:  timePtr(r.InviteClaimedAt),
		},
		Message: model.KindStatus{
			Status:     model.Status(r.MessageStatus),
			ErrorCode:  model.ErrorCode(r.MessageError),
			StatusAt:   timePtr(r.MessageStatusAt),
			ClaimToken: r.MessageToken.String,
			ClaimedAt:  timePtr(r.MessageClaimedAt),
		},
		ProcessedAt: timePtr(r.ProcessedAt),
		CreatedAt:   r.CreatedAt,
	}
	if r.LastAccountID.Valid {
		id := r.LastAccountID.Int64
		rec.LastAccountID = &id
	}
	return rec
}

// ClaimPending is a single UPDATE ... ORDER BY id LIMIT n guarded by
// status = 'pending'. InnoDB re-evaluates the predicate on rows another
// claimant just locked, so a row lands in at most one batch.
func (r *RecipientsRepositoryImpl) ClaimPending(ctx context.Context, ownerID int64, kind model.Kind, token string, limit int, at time.Time) ([]model.Recipient, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	claim := fmt.Sprintf(`
		UPDATE recipients
		   SET %[1]s = 'processing', %[2]s = '', %[3]s = ?, %[4]s = ?, %[5]s = ?
		 WHERE owner_id = ? AND %[1]s = 'pending'
		 ORDER BY id
		 LIMIT ?
	`, c.status, c.errorCode, c.statusAt, c.claimToken, c.claimedAt)

	var rows []recipientRow
	err = withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, claim, at, token, at, ownerID, limit); err != nil {
			return fmt.Errorf("claim pending: %w", err)
		}
		q := recipientSelect + fmt.Sprintf(` WHERE %s = ? AND %s = 'processing' ORDER BY id`, c.claimToken, c.status)
		return tx.SelectContext(ctx, &rows, q, token)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Recipient, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *RecipientsRepositoryImpl) ReleaseClaim(ctx context.Context, kind model.Kind, token string, at time.Time) (int64, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`
		UPDATE recipients
		   SET %[1]s = 'pending', %[2]s = ?, %[3]s = NULL, %[4]s = NULL
		 WHERE %[3]s = ? AND %[1]s = 'processing'
	`, c.status, c.statusAt, c.claimToken, c.claimedAt)
	res, err := r.db.ExecContext(ctx, q, at, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RecipientsRepositoryImpl) TouchClaim(ctx context.Context, kind model.Kind, id int64, token string, at time.Time) (bool, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return false, err
	}
	touch := fmt.Sprintf(`
		UPDATE recipients
		   SET %[3]s = ?
		 WHERE %[2]s = ? AND %[1]s = 'processing'
	`, c.status, c.claimToken, c.claimedAt)
	if _, err := r.db.ExecContext(ctx, touch, at, token); err != nil {
		return false, err
	}

	held := fmt.Sprintf(`
		SELECT COUNT(*) FROM recipients
		 WHERE id = ? AND %[2]s = ? AND %[1]s = 'processing'
	`, c.status, c.claimToken)
	var n int
	if err := r.db.GetContext(ctx, &n, held, id, token); err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RecipientsRepositoryImpl) ReleaseStale(ctx context.Context, kind model.Kind, cutoff, at time.Time) (int64, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`
		UPDATE recipients
		   SET %[1]s = 'pending', %[2]s = ?, %[3]s = NULL, %[4]s = NULL
		 WHERE %[1]s = 'processing' AND %[4]s < ?
	`, c.status, c.statusAt, c.claimToken, c.claimedAt)
	res, err := r.db.ExecContext(ctx, q, at, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RecipientsRepositoryImpl) ApplyResult(ctx context.Context, kind model.Kind, id int64, token string, res model.Result) error {
	c, err := columnsFor(kind)
	if err != nil {
		return err
	}
	processedAt := sql.NullTime{}
	if res.Status.Terminal() {
		processedAt = sql.NullTime{Time: res.At, Valid: true}
	}
	q := fmt.Sprintf(`
		UPDATE recipients
		   SET %[1]s = ?, %[2]s = ?, %[3]s = ?, %[4]s = NULL, %[5]s = NULL,
		       last_account_id = ?,
		       processed_at = COALESCE(processed_at, ?)
		 WHERE id = ? AND %[1]s = 'processing' AND %[4]s = ?
	`, c.status, c.errorCode, c.statusAt, c.claimToken, c.claimedAt)

	out, err := r.db.ExecContext(ctx, q,
		res.Status.String(), res.ErrorCode.String(), res.At,
		res.AccountID, processedAt,
		id, token,
	)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (r *RecipientsRepositoryImpl) CountByStatus(ctx context.Context, ownerID int64, kind model.Kind) (map[model.Status]int64, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status string `db:"status"`
		N      int64  `db:"n"`
	}
	q := fmt.Sprintf(`SELECT %[1]s AS status, COUNT(*) AS n FROM recipients WHERE owner_id = ? GROUP BY %[1]s`, c.status)
	if err := r.db.SelectContext(ctx, &rows, q, ownerID); err != nil {
		return nil, err
	}
	out := make(map[model.Status]int64, len(rows))
	for _, row := range rows {
		out[model.Status(row.Status)] = row.N
	}
	return out, nil
}
