package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmoiron/sqlx"
)

// RecipientReport is one row of the ClickHouse recipients view.
type RecipientReport struct {
	ID            int64      `db:"id" json:"id"`
	Ref           string     `db:"ref" json:"ref"`
	Status        string     `db:"status" json:"status"`
	ErrorCode     string     `db:"error_code" json:"error_code,omitempty"`
	StatusAt      *time.Time `db:"status_at" json:"status_at,omitempty"`
	LastAccountID *int64     `db:"last_account_id" json:"last_account_id,omitempty"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// CHRecipientsRepository lists recipients from ClickHouse (CDC'd final view).
type CHRecipientsRepository interface {
	ListByOwner(ctx context.Context, ownerID int64, kind model.Kind, status model.Status, limit, offset int) ([]RecipientReport, error)
}

type chRecipientsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHRecipientsRepository(ch *sqlx.DB) CHRecipientsRepository {
	return &chRecipientsRepository{ch: ch}
}

func (r *chRecipientsRepository) ListByOwner(ctx context.Context, ownerID int64, kind model.Kind, status model.Status, limit, offset int) ([]RecipientReport, error) {
	c, err := columnsFor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := fmt.Sprintf(`
		SELECT id, ref, %s AS status, %s AS error_code, %s AS status_at, last_account_id, processed_at
		FROM outreach.recipients_latest
		WHERE owner_id = ?
	`, c.status, c.errorCode, c.statusAt)
	args := []any{ownerID}

	if status != "" {
		q += fmt.Sprintf(" AND %s = ?", c.status)
		args = append(args, status.String())
	}

	q += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []RecipientReport
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
