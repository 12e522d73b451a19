package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/outreach/internal/model"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/util"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrEmptyMessage    = errors.New("message text is required")
)

// CooldownError refuses a run against an account the platform has benched.
type CooldownError struct {
	Until time.Time
}

func (e *CooldownError) Error() string {
	return "account in cooldown until " + e.Until.UTC().Format(time.RFC3339)
}

const (
	MinIntervalSeconds = 2
	MaxIntervalSeconds = 300

	DefaultInviteInterval = 30
	DefaultSendInterval   = 10

	DefaultSendLimit = 100
	MaxSendLimit     = 1000
	InviteLimit      = 500
)

// Service is the orchestration layer in front of the runners: it validates
// requests, records runs and hands them to the worker pool.
type Service struct {
	accounts   repository.AccountsRepository
	channels   repository.ChannelsRepository
	recipients repository.RecipientsRepository
	runs       repository.RunsRepository
	enqueuer   Enqueuer
	now        func() time.Time
}

func New(
	accounts repository.AccountsRepository,
	channels repository.ChannelsRepository,
	recipients repository.RecipientsRepository,
	runs repository.RunsRepository,
	enqueuer Enqueuer,
) *Service {
	return &Service{
		accounts:   accounts,
		channels:   channels,
		recipients: recipients,
		runs:       runs,
		enqueuer:   enqueuer,
		now:        time.Now,
	}
}

// StartInviteRun queues an invite run of up to InviteLimit recipients into
// the owner's channel.
func (s *Service) StartInviteRun(ctx context.Context, ownerID, accountID, channelID int64, intervalSeconds int) (string, error) {
	if _, err := s.startable(ctx, ownerID, accountID); err != nil {
		return "", err
	}
	ch, err := s.channels.GetForOwner(ctx, ownerID, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrChannelNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load channel: %w", err)
	}

	cmd := model.RunCommand{
		OwnerID:         ownerID,
		AccountID:       accountID,
		Kind:            model.KindInvite,
		Channel:         ch.Username,
		Limit:           InviteLimit,
		IntervalSeconds: ClampInterval(intervalSeconds, DefaultInviteInterval),
	}
	return s.start(ctx, cmd)
}

// StartSendRun queues a direct-message run of up to limit recipients.
func (s *Service) StartSendRun(ctx context.Context, ownerID, accountID int64, msg model.Payload, limit, intervalSeconds int) (string, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	msg.MediaPath = strings.TrimSpace(msg.MediaPath)
	if msg.Text == "" {
		return "", ErrEmptyMessage
	}
	if _, err := s.startable(ctx, ownerID, accountID); err != nil {
		return "", err
	}

	cmd := model.RunCommand{
		OwnerID:         ownerID,
		AccountID:       accountID,
		Kind:            model.KindSend,
		Payload:         msg,
		Limit:           ClampLimit(limit),
		IntervalSeconds: ClampInterval(intervalSeconds, DefaultSendInterval),
	}
	return s.start(ctx, cmd)
}

// startable loads the owner's account and rejects it while in cooldown.
func (s *Service) startable(ctx context.Context, ownerID, accountID int64) (*model.Account, error) {
	acct, err := s.accounts.GetForOwner(ctx, ownerID, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct.InCooldown(s.now()) {
		return nil, &CooldownError{Until: *acct.CooldownUntil}
	}
	return acct, nil
}

func (s *Service) start(ctx context.Context, cmd model.RunCommand) (string, error) {
	// A new run is an explicit request to resume.
	if err := s.accounts.SetStopRequested(ctx, cmd.AccountID, false); err != nil {
		return "", fmt.Errorf("clear stop flag: %w", err)
	}

	cmd.RunID = util.NewID()
	run := model.Run{
		ID:        cmd.RunID,
		OwnerID:   cmd.OwnerID,
		AccountID: cmd.AccountID,
		Kind:      cmd.Kind,
		Status:    model.RunQueued,
	}
	if err := s.enqueuer.Enqueue(ctx, run, cmd); err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return cmd.RunID, nil
}

// RequestStop flags the account; active runners notice before their next action.
func (s *Service) RequestStop(ctx context.Context, ownerID, accountID int64) error {
	if _, err := s.accounts.GetForOwner(ctx, ownerID, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("load account: %w", err)
	}
	return s.accounts.SetStopRequested(ctx, accountID, true)
}

func (s *Service) GetRun(ctx context.Context, ownerID int64, runID string) (*model.Run, error) {
	run, err := s.runs.Get(ctx, ownerID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// AccountStatus is the externally visible pacing picture of one account.
type AccountStatus struct {
	ID            int64                `json:"id"`
	Phone         string               `json:"phone"`
	Invite        model.RateLimitState `json:"invite"`
	Send          model.RateLimitState `json:"send"`
	DailyCap      int                  `json:"daily_cap"`
	SentToday     int                  `json:"sent_today"`
	CooldownUntil *time.Time           `json:"cooldown_until,omitempty"`
	StopRequested bool                 `json:"stop_requested"`
}

func (s *Service) AccountStatus(ctx context.Context, ownerID, accountID int64) (*AccountStatus, error) {
	acct, err := s.accounts.GetForOwner(ctx, ownerID, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	st := &AccountStatus{
		ID:            acct.ID,
		Phone:         acct.Phone,
		Invite:        acct.Invite,
		Send:          acct.Send,
		DailyCap:      acct.DailyCap,
		SentToday:     acct.DailyCount(now),
		StopRequested: acct.StopRequested,
	}
	if acct.InCooldown(now) {
		st.CooldownUntil = acct.CooldownUntil
	}
	return st, nil
}

// RecipientSummary counts the owner's recipients per status for every kind.
func (s *Service) RecipientSummary(ctx context.Context, ownerID int64) (map[model.Kind]map[model.Status]int64, error) {
	out := make(map[model.Kind]map[model.Status]int64, len(model.Kinds()))
	for _, k := range model.Kinds() {
		counts, err := s.recipients.CountByStatus(ctx, ownerID, k)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", k, err)
		}
		out[k] = counts
	}
	return out, nil
}

// ClampInterval bounds a requested delay; zero or negative picks def.
func ClampInterval(seconds, def int) int {
	switch {
	case seconds <= 0:
		return def
	case seconds < MinIntervalSeconds:
		return MinIntervalSeconds
	case seconds > MaxIntervalSeconds:
		return MaxIntervalSeconds
	}
	return seconds
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSendLimit
	case limit > MaxSendLimit:
		return MaxSendLimit
	}
	return limit
}
