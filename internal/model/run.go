package model

import "time"

type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunRejected RunStatus = "rejected"
	RunErrored  RunStatus = "errored"
)

// Run is the persisted record of one runner invocation, kept for reporting.
type Run struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	AccountID int64     `db:"account_id" json:"account_id"`
	Kind      Kind      `db:"kind" json:"kind"`
	Status    RunStatus `db:"status" json:"status"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	Claimed   int       `db:"claimed" json:"claimed"`
	Succeeded int       `db:"succeeded" json:"succeeded"`
	Failed    int       `db:"failed" json:"failed"`
	Skipped   int       `db:"skipped" json:"skipped"`
	Released  int       `db:"released" json:"released"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payload is the content of a direct message.
type Payload struct {
	Text      string `json:"text"`
	MediaPath string `json:"media_path,omitempty"`
}

// RunCommand is published through the outbox and consumed by the runner worker.
type RunCommand struct {
	RunID           string  `json:"run_id"`
	OwnerID         int64   `json:"owner_id"`
	AccountID       int64   `json:"account_id"`
	Kind            Kind    `json:"kind"`
	Channel         string  `json:"channel,omitempty"` // invite target username
	Payload         Payload `json:"payload,omitempty"`
	Limit           int     `json:"limit"`
	IntervalSeconds int     `json:"interval_seconds"`
}
