package runs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmoiron/sqlx"
)

// RunsTopic carries run commands from the outbox to the runner workers.
const RunsTopic = "outreach.runs"

// Enqueuer durably records a run and its dispatch command.
type Enqueuer interface {
	Enqueue(ctx context.Context, run model.Run, cmd model.RunCommand) error
}

// OutboxEnqueuer writes the run row and its outbox event in one transaction.
// Debezium relays the event to Kafka, keyed by account so one account's runs
// land on one partition.
type OutboxEnqueuer struct {
	db     *sqlx.DB
	runs   repository.RunsRepository
	outbox repository.OutboxRepository
}

func NewOutboxEnqueuer(db *sqlx.DB, runs repository.RunsRepository, outbox repository.OutboxRepository) *OutboxEnqueuer {
	return &OutboxEnqueuer{db: db, runs: runs, outbox: outbox}
}

var _ Enqueuer = (*OutboxEnqueuer)(nil)

func (e *OutboxEnqueuer) Enqueue(ctx context.Context, run model.Run, cmd model.RunCommand) error {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.runs.Insert(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	key := strconv.FormatInt(cmd.AccountID, 10)
	if err := e.outbox.Insert(ctx, tx, "account", key, RunsTopic, cmd); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return tx.Commit()
}
