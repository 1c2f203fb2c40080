package application_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/txmirror/internal/adapter/driven/credcrypt"
	"github.com/ericfisherdev/txmirror/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// --- Fake source client ---

// fakeSource serves scripted delta pages keyed by the requested cursor.
// Errors queued in failures[cursor] are returned, one per call, before the
// page is served.
type fakeSource struct {
	mu          sync.Mutex
	pages       map[string]model.DeltaPage
	failures    map[string][]error
	calls       []string
	entities    []model.SubAccount
	entitiesErr error
	exchange    model.TokenExchange
	exchangeErr error

	// onPage, when set, runs inside PageDeltas before the result is returned.
	onPage func(cursor string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:    make(map[string]model.DeltaPage),
		failures: make(map[string][]error),
	}
}

func (f *fakeSource) setPage(cursor string, page model.DeltaPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cursor] = page
}

func (f *fakeSource) failNext(cursor string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[cursor] = append(f.failures[cursor], errs...)
}

func (f *fakeSource) pageCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSource) ExchangeToken(_ context.Context, _ string) (model.TokenExchange, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeSource) PageDeltas(ctx context.Context, _ string, cursor string) (model.DeltaPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	hook := f.onPage
	var failure error
	if queued := f.failures[cursor]; len(queued) > 0 {
		failure = queued[0]
		f.failures[cursor] = queued[1:]
	}
	page, ok := f.pages[cursor]
	f.mu.Unlock()

	if hook != nil {
		hook(cursor)
	}
	if err := ctx.Err(); err != nil {
		return model.DeltaPage{}, fmt.Errorf("%w: %w", driven.ErrSourceTransient, err)
	}
	if failure != nil {
		return model.DeltaPage{}, failure
	}
	if !ok {
		return model.DeltaPage{}, fmt.Errorf("no page scripted for cursor %q", cursor)
	}
	return page, nil
}

func (f *fakeSource) ListEntities(_ context.Context, _ string) ([]model.SubAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubAccount(nil), f.entities...), f.entitiesErr
}

// --- Recording enqueuer ---

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []model.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(job model.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func (e *recordingEnqueuer) enqueued() []model.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Job(nil), e.jobs...)
}

// --- Failing stores ---

type failingAccountStore struct {
	driven.AccountStore
	getErr       error
	setStatusErr error
}

func (s *failingAccountStore) Get(ctx context.Context, accountID string) (*model.Account, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.AccountStore.Get(ctx, accountID)
}

func (s *failingAccountStore) SetStatus(ctx context.Context, accountID string, status model.AccountStatus) error {
	if s.setStatusErr != nil {
		return s.setStatusErr
	}
	return s.AccountStore.SetStatus(ctx, accountID, status)
}

// flakyCursorStore fails the next failAdvance AdvanceCursor calls.
type flakyCursorStore struct {
	driven.CursorStore
	mu          sync.Mutex
	failAdvance int
}

func (s *flakyCursorStore) AdvanceCursor(ctx context.Context, accountID, from, to string) error {
	s.mu.Lock()
	if s.failAdvance > 0 {
		s.failAdvance--
		s.mu.Unlock()
		return errors.New("disk I/O error")
	}
	s.mu.Unlock()
	return s.CursorStore.AdvanceCursor(ctx, accountID, from, to)
}

type recordingDeadLetters struct {
	mu      sync.Mutex
	letters []model.DeadLetter
}

func (s *recordingDeadLetters) Record(_ context.Context, dl model.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *recordingDeadLetters) List(_ context.Context, limit int) ([]model.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.letters) {
		limit = len(s.letters)
	}
	return append([]model.DeadLetter(nil), s.letters[:limit]...), nil
}

func (s *recordingDeadLetters) recorded() []model.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeadLetter(nil), s.letters...)
}

// --- Test environment on a real SQLite mirror store ---

type testEnv struct {
	db          *sqlite.DB
	accounts    *sqlite.AccountRepo
	records     *sqlite.RecordRepo
	cursors     *sqlite.CursorRepo
	subAccounts *sqlite.SubAccountRepo
	deadLetters *sqlite.DeadLetterRepo
	source      *fakeSource
	registry    *application.SourceRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "txmirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = sqlite.RunMigrations(db.Writer)
	require.NoError(t, err)

	sealer, err := credcrypt.New([]byte(strings.Repeat("s", credcrypt.KeySize)))
	require.NoError(t, err)

	source := newFakeSource()
	registry := application.NewSourceRegistry("us")
	registry.Register("us", source)

	return &testEnv{
		db:          db,
		accounts:    sqlite.NewAccountRepo(db, sealer),
		records:     sqlite.NewRecordRepo(db),
		cursors:     sqlite.NewCursorRepo(db),
		subAccounts: sqlite.NewSubAccountRepo(db),
		deadLetters: sqlite.NewDeadLetterRepo(db),
		source:      source,
		registry:    registry,
	}
}

// worker builds a SyncWorker that retries without sleeping.
func (e *testEnv) worker(cursors driven.CursorStore, retryMax int) *application.SyncWorker {
	if cursors == nil {
		cursors = e.cursors
	}
	return application.NewSyncWorker(
		e.accounts, e.records, cursors, e.subAccounts, e.registry,
		application.SyncWorkerConfig{PageTimeout: time.Second, RetryMax: retryMax},
	).WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
}

func (e *testEnv) seedAccount(t *testing.T, accountID string) {
	t.Helper()
	require.NoError(t, e.accounts.Create(context.Background(), model.Account{
		ID:         accountID,
		OwnerID:    "owner-1",
		Credential: "access-" + accountID,
		Region:     "us",
		Status:     model.AccountStatusActive,
	}))
}

func (e *testEnv) cursor(t *testing.T, accountID string) string {
	t.Helper()
	c, err := e.cursors.GetCursor(context.Background(), accountID)
	require.NoError(t, err)
	if c == nil {
		return ""
	}
	return c.Cursor
}

func (e *testEnv) liveIDs(t *testing.T, accountID string) []string {
	t.Helper()
	records, err := e.records.ListRecords(context.Background(), accountID, false)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func rec(id, name string) model.Record {
	return model.Record{
		ID:           id,
		SubAccountID: "sub-1",
		Amount:       decimal.RequireFromString("9.99"),
		Currency:     "USD",
		OccurredOn:   civil.Date{Year: 2024, Month: time.May, Day: 1},
		DisplayName:  name,
		Tags:         []string{},
	}
}
