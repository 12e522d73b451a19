package model

import "time"

// KindStatus is the per-kind lifecycle of a recipient.
type KindStatus struct {
	Status     Status     `json:"status"`
	ErrorCode  ErrorCode  `json:"error_code,omitempty"`
	StatusAt   *time.Time `json:"status_at,omitempty"`
	ClaimToken string     `json:"-"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}

// Recipient is one target user collected on behalf of an owner.
type Recipient struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Ref     string `json:"ref"` // numeric platform id or username
	Name    string `json:"name,omitempty"`

	Invite  KindStatus `json:"invite"`
	Message KindStatus `json:"message"`

	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	LastAccountID *int64     `json:"last_account_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Of returns the lifecycle for k.
func (r *Recipient) Of(k Kind) *KindStatus {
	if k == KindInvite {
		return &r.Invite
	}
	return &r.Message
}

// Result is the terminal outcome recorded for one recipient action.
type Result struct {
	Status    Status
	ErrorCode ErrorCode
	AccountID int64
	At        time.Time
}
