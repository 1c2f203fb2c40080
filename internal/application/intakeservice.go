package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
	"github.com/ericfisherdev/txmirror/internal/telemetry"
)

// IntakeService turns inbound notifications into synchronous store updates
// and queued jobs. It never calls the source, so acknowledgment latency is
// bounded by local store writes.
type IntakeService struct {
	accounts driven.AccountStore
	records  driven.RecordStore
	jobs     Enqueuer
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(accounts driven.AccountStore, records driven.RecordStore, jobs Enqueuer) *IntakeService {
	return &IntakeService{
		accounts: accounts,
		records:  records,
		jobs:     jobs,
	}
}

// Handle classifies n, applies its synchronous side effects and enqueues
// follow-up work. The returned Ack always has Received set. Retry is set
// only when a local dependency failed and the sender should redeliver;
// unknown accounts are acknowledged without retry.
func (s *IntakeService) Handle(ctx context.Context, n model.Notification) model.Ack {
	action := model.Classify(n.Kind, n.Code)
	ack := model.Ack{Received: true, Action: action}

	if err := n.Validate(); err != nil {
		ack.Error = err.Error()
		telemetry.NotificationsTotal.WithLabelValues(string(action), "invalid").Inc()
		return ack
	}

	account, err := s.accounts.Get(ctx, n.AccountID)
	if err != nil {
		slog.Error("notification account lookup failed", "account_id", n.AccountID, "error", err)
		return s.retry(ack, "account lookup failed")
	}
	if account == nil {
		slog.Info("notification for unknown account",
			"account_id", n.AccountID,
			"kind", n.Kind,
			"code", n.Code,
		)
		telemetry.NotificationsTotal.WithLabelValues(string(action), "unknown_account").Inc()
		return ack
	}

	switch action {
	case model.ActionSyncRecords:
		if err := s.jobs.Enqueue(model.Job{Kind: model.JobKindSyncRecords, AccountID: n.AccountID}); err != nil {
			return s.enqueueFailed(ack, n, err)
		}

	case model.ActionProcessNewSubAccounts:
		job := model.Job{
			Kind:          model.JobKindProcessNewSubAccounts,
			AccountID:     n.AccountID,
			SubAccountIDs: n.NewSubAccountIDs,
		}
		if err := s.jobs.Enqueue(job); err != nil {
			return s.enqueueFailed(ack, n, err)
		}

	case model.ActionTombstoneRecords:
		count, err := s.records.TombstoneRecords(ctx, n.AccountID, n.RemovedRecordIDs, time.Now().UTC())
		if err != nil {
			slog.Error("tombstoning removed records failed", "account_id", n.AccountID, "error", err)
			return s.retry(ack, "tombstoning records failed")
		}
		telemetry.RecordsTombstonedTotal.WithLabelValues("notification").Add(float64(count))
		slog.Info("records removed by notification",
			"account_id", n.AccountID,
			"requested", len(n.RemovedRecordIDs),
			"tombstoned", count,
		)

	case model.ActionMarkLoginRequired:
		if n.Error != nil {
			slog.Warn("account error reported by source",
				"account_id", n.AccountID,
				"error_code", n.Error.Code,
				"error_message", n.Error.Message,
			)
		}
		if err := s.accounts.SetStatus(ctx, n.AccountID, model.AccountStatusLoginRequired); err != nil {
			if errors.Is(err, driven.ErrAccountNotFound) {
				slog.Info("account vanished before status update", "account_id", n.AccountID)
				telemetry.NotificationsTotal.WithLabelValues(string(action), "unknown_account").Inc()
				return ack
			}
			slog.Error("marking account login_required failed", "account_id", n.AccountID, "error", err)
			return s.retry(ack, "status update failed")
		}
		slog.Info("account requires login", "account_id", n.AccountID, "code", n.Code)

	default:
		slog.Info("notification ignored", "account_id", n.AccountID, "kind", n.Kind, "code", n.Code)
		telemetry.NotificationsTotal.WithLabelValues(string(action), "ignored").Inc()
		return ack
	}

	ack.Processed = true
	telemetry.NotificationsTotal.WithLabelValues(string(action), "processed").Inc()
	return ack
}

func (s *IntakeService) enqueueFailed(ack model.Ack, n model.Notification, err error) model.Ack {
	slog.Error("enqueue failed", "account_id", n.AccountID, "action", ack.Action, "error", err)
	if errors.Is(err, ErrQueueFull) {
		return s.retry(ack, "job queue full")
	}
	return s.retry(ack, "enqueue failed")
}

func (s *IntakeService) retry(ack model.Ack, reason string) model.Ack {
	telemetry.NotificationsTotal.WithLabelValues(string(ack.Action), "error").Inc()
	ack.Processed = false
	ack.Error = reason
	ack.Retry = true
	return ack
}
