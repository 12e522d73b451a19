package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmoiron/sqlx"
)

// RunsRepository persists run records for reporting.
type RunsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, run model.Run) error
	Get(ctx context.Context, ownerID int64, id string) (*model.Run, error)
	// MarkRunning moves a queued run to running; false if it was not queued.
	MarkRunning(ctx context.Context, id string) (bool, error)
	Finish(ctx context.Context, run model.Run) error
}

type RunsRepositoryImpl struct {
	db *sqlx.DB
}

func NewRunsRepository(db *sqlx.DB) *RunsRepositoryImpl {
	return &RunsRepositoryImpl{db: db}
}

var _ RunsRepository = (*RunsRepositoryImpl)(nil)

func (r *RunsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, run model.Run) error {
	const q = `
		INSERT INTO runs
		    (id, owner_id, account_id, kind, status, reason, created_at, updated_at)
		VALUES
		    (?,  ?,        ?,          ?,    'queued', '',   NOW(6),     NOW(6))
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, run.ID, run.OwnerID, run.AccountID, run.Kind.String())
		return err
	})
}

func (r *RunsRepositoryImpl) Get(ctx context.Context, ownerID int64, id string) (*model.Run, error) {
	var run model.Run
	err := r.db.GetContext(ctx, &run, `
		SELECT id, owner_id, account_id, kind, status, reason,
		       claimed, succeeded, failed, skipped, released, created_at, updated_at
		  FROM runs
		 WHERE id = ? AND owner_id = ? LIMIT 1
	`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunsRepositoryImpl) MarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = 'running', updated_at = NOW(6) WHERE id = ? AND status = 'queued'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RunsRepositoryImpl) Finish(ctx context.Context, run model.Run) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs
		   SET status = ?, reason = ?, claimed = ?, succeeded = ?, failed = ?,
		       skipped = ?, released = ?, updated_at = NOW(6)
		 WHERE id = ?
	`, string(run.Status), run.Reason, run.Claimed, run.Succeeded, run.Failed, run.Skipped, run.Released, run.ID)
	return err
}
