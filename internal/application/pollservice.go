// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// syncRequest represents a manual sync trigger for one account.
type syncRequest struct {
	accountID string
	done      chan error
}

// RepollService periodically enqueues a SYNC_RECORDS job for active
// accounts, so an account converges even when a notification was lost or a
// sync failed. Each account is repolled on a multiple of the base interval
// chosen by its activity tier. It also serves manual sync requests.
type RepollService struct {
	accounts  driven.AccountStore
	cursors   driven.CursorStore
	jobs      Enqueuer
	interval  time.Duration
	requestCh chan syncRequest

	mu        sync.RWMutex
	schedules map[string]*accountSchedule
}

// NewRepollService creates a RepollService. A non-positive interval disables
// the periodic pass; manual requests still work.
func NewRepollService(
	accounts driven.AccountStore,
	cursors driven.CursorStore,
	jobs Enqueuer,
	interval time.Duration,
) *RepollService {
	return &RepollService{
		accounts:  accounts,
		cursors:   cursors,
		jobs:      jobs,
		interval:  interval,
		requestCh: make(chan syncRequest),
		schedules: make(map[string]*accountSchedule),
	}
}

// Schedule returns the repoll schedule for an account, if it has been
// polled at least once.
func (s *RepollService) Schedule(accountID string) (ScheduleInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[accountID]
	if !ok {
		return ScheduleInfo{}, false
	}
	return ScheduleInfo{
		Tier:       sched.tier,
		NextPollAt: sched.nextPollAt,
		LastPolled: sched.lastPolled,
	}, true
}

// Start runs an immediate pass, then repeats on the configured interval while
// serving manual requests. Start blocks until the context is canceled.
func (s *RepollService) Start(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		if err := s.repollAll(ctx, time.Now()); err != nil {
			slog.Error("initial repoll failed", "error", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	} else {
		slog.Info("periodic repoll disabled")
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("repoll service stopped")
			return
		case now := <-tick:
			if err := s.repollAll(ctx, now); err != nil {
				slog.Error("repoll cycle failed", "error", err)
			}
		case req := <-s.requestCh:
			req.done <- s.requestSync(ctx, req.accountID)
		}
	}
}

// RequestSync enqueues a sync for one account, bypassing the interval. It
// blocks until the job is enqueued or the context is canceled. Returns
// ErrAccountNotFound for an unknown account.
func (s *RepollService) RequestSync(ctx context.Context, accountID string) error {
	done := make(chan error, 1)
	req := syncRequest{
		accountID: accountID,
		done:      done,
	}

	select {
	case s.requestCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RepollService) requestSync(ctx context.Context, accountID string) error {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		return fmt.Errorf("request sync for %s: %w", accountID, driven.ErrAccountNotFound)
	}

	if err := s.jobs.Enqueue(model.Job{Kind: model.JobKindSyncRecords, AccountID: accountID}); err != nil {
		return err
	}

	slog.Info("manual sync requested", "account_id", accountID)
	return nil
}

// repollAll enqueues a sync for every active account that is due at now.
// A full queue stops the pass early; the accounts not reached stay due and
// the next tick tries again.
func (s *RepollService) repollAll(ctx context.Context, now time.Time) error {
	start := time.Now()

	accounts, err := s.accounts.ListByStatus(ctx, model.AccountStatusActive)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}
	s.pruneSchedules(accounts)

	// Tolerates ticker jitter so a due account is not pushed a whole cycle.
	slack := s.interval / 10

	enqueued, skipped := 0, 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !s.isDue(account.ID, now.Add(slack)) {
			skipped++
			continue
		}

		if err := s.jobs.Enqueue(model.Job{Kind: model.JobKindSyncRecords, AccountID: account.ID}); err != nil {
			slog.Warn("repoll stopped early", "enqueued", enqueued, "remaining", len(accounts)-enqueued-skipped, "error", err)
			return nil
		}
		enqueued++

		s.reschedule(ctx, account.ID, now)
	}

	slog.Info("repoll cycle complete",
		"accounts", len(accounts),
		"enqueued", enqueued,
		"skipped", skipped,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

func (s *RepollService) isDue(accountID string, at time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[accountID]
	return !ok || !at.Before(sched.nextPollAt)
}

// reschedule places the account's next repoll according to how recently its
// cursor moved.
func (s *RepollService) reschedule(ctx context.Context, accountID string, now time.Time) {
	tier := TierActive
	cursor, err := s.cursors.GetCursor(ctx, accountID)
	if err != nil {
		slog.Warn("repoll: cursor lookup failed, using base interval", "account_id", accountID, "error", err)
	} else {
		tier = cursorTier(cursor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[accountID] = &accountSchedule{
		tier:       tier,
		nextPollAt: now.Add(tierInterval(tier, s.interval)),
		lastPolled: now,
	}
}

// pruneSchedules drops accounts that are no longer active.
func (s *RepollService) pruneSchedules(active []model.Account) {
	keep := make(map[string]struct{}, len(active))
	for _, a := range active {
		keep[a.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.schedules {
		if _, ok := keep[id]; !ok {
			delete(s.schedules, id)
		}
	}
}
