package platform

import (
	"context"

	"github.com/jmehdipour/outreach/internal/model"
)

// Handle is a resolved platform identity, ready for an action.
type Handle struct {
	ID         int64 `json:"id"`
	AccessHash int64 `json:"access_hash"`
}

// Client is the collaborator that speaks to the messaging platform on behalf
// of one account. Every failure is an *Error.
type Client interface {
	ResolveIdentity(ctx context.Context, accountID int64, ref string) (Handle, error)
	PerformInvite(ctx context.Context, accountID int64, channel string, h Handle) error
	PerformSend(ctx context.Context, accountID int64, h Handle, p model.Payload) error
}
