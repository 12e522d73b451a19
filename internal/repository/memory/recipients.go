package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
)

// Recipients keeps recipients in id order behind a single mutex, which makes
// every claim and conditional update trivially atomic.
type Recipients struct {
	mu    sync.Mutex
	rows  map[int64]*model.Recipient
	order []int64 // ascending ids
}

func NewRecipients(recipients ...model.Recipient) *Recipients {
	s := &Recipients{rows: make(map[int64]*model.Recipient)}
	s.Add(recipients...)
	return s
}

var _ repository.RecipientsRepository = (*Recipients)(nil)

// Add inserts recipients. Empty statuses default to pending.
func (s *Recipients) Add(recipients ...model.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recipients {
		cp := cloneRecipient(r)
		if cp.Invite.Status == "" {
			cp.Invite.Status = model.StatusPending
		}
		if cp.Message.Status == "" {
			cp.Message.Status = model.StatusPending
		}
		if _, ok := s.rows[cp.ID]; !ok {
			s.order = append(s.order, cp.ID)
		}
		s.rows[cp.ID] = &cp
	}
	slices.Sort(s.order)
}

// Get returns a copy of one recipient.
func (s *Recipients) Get(id int64) (model.Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return model.Recipient{}, false
	}
	return cloneRecipient(*r), true
}

// All returns copies of every recipient in id order.
func (s *Recipients) All() []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Recipient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneRecipient(*s.rows[id]))
	}
	return out
}

func (s *Recipients) ClaimPending(ctx context.Context, ownerID int64, kind model.Kind, token string, limit int, at time.Time) ([]model.Recipient, error) {
	if !kind.Valid() {
		return nil, model.ErrInvalidKind
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Recipient
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		r := s.rows[id]
		ks := r.Of(kind)
		if r.OwnerID != ownerID || ks.Status != model.StatusPending {
			continue
		}
		claimedAt := at
		ks.Status = model.StatusProcessing
		ks.ErrorCode = model.CodeNone
		ks.StatusAt = &claimedAt
		ks.ClaimToken = token
		ks.ClaimedAt = &claimedAt
		out = append(out, cloneRecipient(*r))
	}
	return out, nil
}

func (s *Recipients) release(kind model.Kind, at time.Time, match func(ks *model.KindStatus) bool) (int64, error) {
	if !kind.Valid() {
		return 0, model.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range s.order {
		ks := s.rows[id].Of(kind)
		if ks.Status != model.StatusProcessing || !match(ks) {
			continue
		}
		releasedAt := at
		ks.Status = model.StatusPending
		ks.StatusAt = &releasedAt
		ks.ClaimToken = ""
		ks.ClaimedAt = nil
		n++
	}
	return n, nil
}

func (s *Recipients) ReleaseClaim(_ context.Context, kind model.Kind, token string, at time.Time) (int64, error) {
	return s.release(kind, at, func(ks *model.KindStatus) bool { return ks.ClaimToken == token })
}

func (s *Recipients) TouchClaim(_ context.Context, kind model.Kind, id int64, token string, at time.Time) (bool, error) {
	if !kind.Valid() {
		return false, model.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	held := false
	for _, rid := range s.order {
		ks := s.rows[rid].Of(kind)
		if ks.Status != model.StatusProcessing || ks.ClaimToken != token {
			continue
		}
		touched := at
		ks.ClaimedAt = &touched
		if rid == id {
			held = true
		}
	}
	return held, nil
}

func (s *Recipients) ReleaseStale(_ context.Context, kind model.Kind, cutoff, at time.Time) (int64, error) {
	return s.release(kind, at, func(ks *model.KindStatus) bool {
		return ks.ClaimedAt != nil && ks.ClaimedAt.Before(cutoff)
	})
}

func (s *Recipients) ApplyResult(_ context.Context, kind model.Kind, id int64, token string, res model.Result) error {
	if !kind.Valid() {
		return model.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok {
		return repository.ErrNotClaimed
	}
	ks := r.Of(kind)
	if ks.Status != model.StatusProcessing || ks.ClaimToken != token {
		return repository.ErrNotClaimed
	}
	at := res.At
	ks.Status = res.Status
	ks.ErrorCode = res.ErrorCode
	ks.StatusAt = &at
	ks.ClaimToken = ""
	ks.ClaimedAt = nil
	accountID := res.AccountID
	r.LastAccountID = &accountID
	if res.Status.Terminal() && r.ProcessedAt == nil {
		processed := res.At
		r.ProcessedAt = &processed
	}
	return nil
}

func (s *Recipients) CountByStatus(_ context.Context, ownerID int64, kind model.Kind) (map[model.Status]int64, error) {
	if !kind.Valid() {
		return nil, model.ErrInvalidKind
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Status]int64)
	for _, id := range s.order {
		r := s.rows[id]
		if r.OwnerID == ownerID {
			out[r.Of(kind).Status]++
		}
	}
	return out, nil
}
