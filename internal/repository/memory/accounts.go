package memory

import (
	"context"
	"sync"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
)

// Accounts keeps accounts in a map with one mutex per account.
type Accounts struct {
	mu    sync.Mutex
	rows  map[int64]*model.Account
	locks map[int64]*sync.Mutex
}

func NewAccounts(accounts ...model.Account) *Accounts {
	s := &Accounts{
		rows:  make(map[int64]*model.Account),
		locks: make(map[int64]*sync.Mutex),
	}
	for _, a := range accounts {
		s.Put(a)
	}
	return s
}

var _ repository.AccountsRepository = (*Accounts)(nil)

// Put inserts or replaces an account.
func (s *Accounts) Put(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneAccount(a)
	s.rows[a.ID] = &cp
	if _, ok := s.locks[a.ID]; !ok {
		s.locks[a.ID] = &sync.Mutex{}
	}
}

func (s *Accounts) lockFor(id int64) (*sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	return l, ok
}

func (s *Accounts) Get(_ context.Context, id int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := cloneAccount(*a)
	return &cp, nil
}

func (s *Accounts) GetForOwner(ctx context.Context, ownerID, id int64) (*model.Account, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *Accounts) WithAccountLock(ctx context.Context, id int64, fn func(a *model.Account) error) error {
	l, ok := s.lockFor(id)
	if !ok {
		return repository.ErrNotFound
	}
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.rows[id]
	// Only pacing, counter and cooldown fields are written back, like the SQL UPDATE.
	cur.Invite = cloneState(a.Invite)
	cur.Send = cloneState(a.Send)
	cur.SentToday = a.SentToday
	cur.SentTodayOn = a.SentTodayOn
	cur.CooldownUntil = cloneTime(a.CooldownUntil)
	return nil
}

func (s *Accounts) SetStopRequested(_ context.Context, id int64, stop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.StopRequested = stop
	return nil
}
