package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
	"github.com/ericfisherdev/txmirror/internal/telemetry"
)

// ErrUnknownJobKind is returned by Handle for a job kind it cannot run.
var ErrUnknownJobKind = errors.New("unknown job kind")

// errCursorStalled means the source asked for another page without moving
// the cursor, which would otherwise loop forever.
var errCursorStalled = errors.New("source reported more pages without advancing the cursor")

// SourceCallError reports a source call that failed after Attempts tries.
type SourceCallError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *SourceCallError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *SourceCallError) Unwrap() error {
	return e.Err
}

// SyncWorkerConfig tunes source calls made by the SyncWorker.
type SyncWorkerConfig struct {
	// PageTimeout bounds each source call. Zero means no timeout.
	PageTimeout time.Duration
	// RetryMax is how many times a transient source failure is retried.
	// Zero disables retries.
	RetryMax int
}

// SyncWorker runs sync jobs against the source and applies the results to
// the mirror store. All work for one account happens under that account's
// lock, so pages for an account are never in flight concurrently.
type SyncWorker struct {
	accounts    driven.AccountStore
	records     driven.RecordStore
	cursors     driven.CursorStore
	subAccounts driven.SubAccountStore
	sources     *SourceRegistry
	locks       *KeyedMutex
	cfg         SyncWorkerConfig
	newBackOff  func() backoff.BackOff
}

// NewSyncWorker creates a SyncWorker with exponential backoff between retries.
func NewSyncWorker(
	accounts driven.AccountStore,
	records driven.RecordStore,
	cursors driven.CursorStore,
	subAccounts driven.SubAccountStore,
	sources *SourceRegistry,
	cfg SyncWorkerConfig,
) *SyncWorker {
	return &SyncWorker{
		accounts:    accounts,
		records:     records,
		cursors:     cursors,
		subAccounts: subAccounts,
		sources:     sources,
		locks:       NewKeyedMutex(),
		cfg:         cfg,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// WithBackOff replaces the retry delay policy. Tests use it to retry
// without sleeping.
func (w *SyncWorker) WithBackOff(newBackOff func() backoff.BackOff) *SyncWorker {
	w.newBackOff = newBackOff
	return w
}

// Handle runs one job. It implements JobHandler.
func (w *SyncWorker) Handle(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.JobKindSyncRecords:
		return w.SyncAccount(ctx, job.AccountID)
	case model.JobKindProcessNewSubAccounts:
		return w.ProcessNewSubAccounts(ctx, job.AccountID, job.SubAccountIDs)
	default:
		return fmt.Errorf("job %s: %w: %q", job.ID, ErrUnknownJobKind, job.Kind)
	}
}

// SyncAccount pages through the source's deltas from the stored cursor and
// applies each page. The cursor only moves after a page's upserts and
// tombstones have both committed, so a failure anywhere leaves the cursor
// on the last fully applied page.
func (w *SyncWorker) SyncAccount(ctx context.Context, accountID string) (err error) {
	start := time.Now()
	defer func() { observeSync(model.JobKindSyncRecords, start, err) }()

	unlock, err := w.locks.Lock(ctx, accountID)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer unlock()

	account, err := w.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		slog.Info("sync skipped: unknown account", "account_id", accountID)
		return nil
	}

	client, err := w.sources.Get(account.Region)
	if err != nil {
		return fmt.Errorf("sync account %s: %w", accountID, err)
	}

	stored, err := w.cursors.GetCursor(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load cursor for account %s: %w", accountID, err)
	}
	cursor := ""
	if stored != nil {
		cursor = stored.Cursor
	}

	pages := 0
	for {
		var page model.DeltaPage
		err := w.callSource(ctx, "page deltas", func(callCtx context.Context) error {
			var pageErr error
			page, pageErr = client.PageDeltas(callCtx, account.Credential, cursor)
			return pageErr
		})
		if err != nil {
			return fmt.Errorf("sync account %s at cursor %q after %d page(s): %w", accountID, cursor, pages, err)
		}

		// An empty next cursor means "no newer position", not "start over".
		if page.NextCursor == "" {
			page.NextCursor = cursor
		}

		if page.HasMore && page.NextCursor == cursor {
			return fmt.Errorf("sync account %s at cursor %q: %w", accountID, cursor, errCursorStalled)
		}

		if err := w.applyPage(ctx, accountID, cursor, page); err != nil {
			return fmt.Errorf("sync account %s at cursor %q after %d page(s): %w", accountID, cursor, pages, err)
		}

		pages++
		cursor = page.NextCursor

		if !page.HasMore {
			break
		}
	}

	slog.Info("account synced",
		"account_id", accountID,
		"pages", pages,
		"cursor", cursor,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// applyPage writes one page: upserts, then tombstones, then the cursor.
func (w *SyncWorker) applyPage(ctx context.Context, accountID, cursor string, page model.DeltaPage) error {
	upserts := page.Upserts()
	for i := range upserts {
		upserts[i].AccountID = accountID
	}

	if err := w.records.UpsertRecords(ctx, accountID, upserts); err != nil {
		return fmt.Errorf("apply upserts: %w", err)
	}

	tombstoned, err := w.records.TombstoneRecords(ctx, accountID, page.Removed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply removals: %w", err)
	}

	if page.NextCursor != cursor {
		if err := w.cursors.AdvanceCursor(ctx, accountID, cursor, page.NextCursor); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}

	telemetry.SyncPagesTotal.Inc()
	telemetry.RecordsUpsertedTotal.Add(float64(len(upserts)))
	telemetry.RecordsTombstonedTotal.WithLabelValues("sync").Add(float64(tombstoned))

	slog.Debug("page applied",
		"account_id", accountID,
		"cursor", cursor,
		"next_cursor", page.NextCursor,
		"upserted", len(upserts),
		"tombstoned", tombstoned,
	)

	return nil
}

// ProcessNewSubAccounts fetches the source's sub-accounts and records the
// ones named in subAccountIDs. An empty list means every returned entity
// counts as new.
func (w *SyncWorker) ProcessNewSubAccounts(ctx context.Context, accountID string, subAccountIDs []string) (err error) {
	start := time.Now()
	defer func() { observeSync(model.JobKindProcessNewSubAccounts, start, err) }()

	unlock, err := w.locks.Lock(ctx, accountID)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	defer unlock()

	account, err := w.accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	if account == nil {
		slog.Info("sub-account processing skipped: unknown account", "account_id", accountID)
		return nil
	}

	client, err := w.sources.Get(account.Region)
	if err != nil {
		return fmt.Errorf("process sub-accounts for %s: %w", accountID, err)
	}

	var entities []model.SubAccount
	err = w.callSource(ctx, "list entities", func(callCtx context.Context) error {
		var listErr error
		entities, listErr = client.ListEntities(callCtx, account.Credential)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("process sub-accounts for %s: %w", accountID, err)
	}

	fresh := filterSubAccounts(entities, subAccountIDs)
	for i := range fresh {
		fresh[i].AccountID = accountID
	}

	if len(fresh) == 0 {
		slog.Info("no matching sub-accounts", "account_id", accountID, "requested", len(subAccountIDs))
		return nil
	}

	if err := w.subAccounts.UpsertSubAccounts(ctx, fresh); err != nil {
		return fmt.Errorf("store sub-accounts for %s: %w", accountID, err)
	}

	for _, sa := range fresh {
		slog.Info("sub-account available",
			"account_id", accountID,
			"sub_account_id", sa.ID,
			"kind", sa.Kind,
			"display_name", sa.DisplayName,
		)
	}

	return nil
}

// filterSubAccounts keeps the entities whose ID is in ids, or all of them
// when ids is empty.
func filterSubAccounts(entities []model.SubAccount, ids []string) []model.SubAccount {
	if len(ids) == 0 {
		return entities
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var out []model.SubAccount
	for _, e := range entities {
		if _, ok := wanted[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// callSource runs fn under the page timeout, retrying transient failures
// with backoff up to RetryMax times. Any other failure stops immediately.
func (w *SyncWorker) callSource(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0

	operation := func() error {
		attempts++

		callCtx := ctx
		if w.cfg.PageTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, w.cfg.PageTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, driven.ErrSourceTransient) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		telemetry.SourceRetriesTotal.Inc()
		slog.Warn("transient source failure, retrying",
			"op", op,
			"attempt", attempts,
			"retry_in", next.Round(time.Millisecond),
			"error", err,
		)
	}

	retries := w.cfg.RetryMax
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(retries)), ctx)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return &SourceCallError{Op: op, Attempts: attempts, Err: err}
	}
	return nil
}

func observeSync(kind model.JobKind, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.SyncDuration.WithLabelValues(string(kind), result).Observe(time.Since(start).Seconds())
}
