package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/outreach/internal/metrics"
	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/util"
)

// DefaultMaxBatch bounds a single claim.
const DefaultMaxBatch = 500

// Batch is the ordered set of recipients one run holds in processing.
type Batch struct {
	Token   string
	OwnerID int64
	Kind    model.Kind
	Items   []model.Recipient
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

// Queue hands out exclusive batches of pending recipients.
type Queue struct {
	repo     repository.RecipientsRepository
	MaxBatch int
	now      func() time.Time
	newToken func() string
}

func NewQueue(repo repository.RecipientsRepository, maxBatch int, now func() time.Time) *Queue {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{repo: repo, MaxBatch: maxBatch, now: now, newToken: util.NewID}
}

// Claim moves up to limit pending recipients of (ownerID, k) to processing
// and returns them in ascending id order. limit is clamped to [1, MaxBatch].
func (q *Queue) Claim(ctx context.Context, ownerID int64, k model.Kind, limit int) (*Batch, error) {
	if !k.Valid() {
		return nil, model.ErrInvalidKind
	}
	if limit <= 0 || limit > q.MaxBatch {
		limit = q.MaxBatch
	}

	token := q.newToken()
	items, err := q.repo.ClaimPending(ctx, ownerID, k, token, limit, q.now())
	if err != nil {
		return nil, fmt.Errorf("claim %s owner=%d: %w", k, ownerID, err)
	}
	return &Batch{Token: token, OwnerID: ownerID, Kind: k, Items: items}, nil
}

// Release reverts every recipient still processing under the batch back to
// pending. Repeated calls are harmless.
func (q *Queue) Release(ctx context.Context, b *Batch) (int64, error) {
	if b == nil || b.Token == "" {
		return 0, nil
	}
	n, err := q.repo.ReleaseClaim(ctx, b.Kind, b.Token, q.now())
	if err != nil {
		return 0, fmt.Errorf("release %s batch=%s: %w", b.Kind, b.Token, err)
	}
	if n > 0 {
		metrics.ReleasedTotal.WithLabelValues(b.Kind.String(), "run").Add(float64(n))
	}
	return n, nil
}

// Touch renews the claim on every item b still holds so a live batch is never
// taken for an abandoned one. ok is false when item id was reclaimed; the
// caller must not act on it.
func (q *Queue) Touch(ctx context.Context, b *Batch, id int64) (bool, error) {
	ok, err := q.repo.TouchClaim(ctx, b.Kind, id, b.Token, q.now())
	if err != nil {
		return false, fmt.Errorf("touch %s recipient=%d: %w", b.Kind, id, err)
	}
	return ok, nil
}

// ReclaimStale reverts recipients of kind k left processing for longer than
// olderThan, e.g. by a runner that crashed mid-batch.
func (q *Queue) ReclaimStale(ctx context.Context, k model.Kind, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("reclaim window must be positive, got %s", olderThan)
	}
	now := q.now()
	n, err := q.repo.ReleaseStale(ctx, k, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale %s: %w", k, err)
	}
	if n > 0 {
		metrics.ReleasedTotal.WithLabelValues(k.String(), "stale").Add(float64(n))
	}
	return n, nil
}
