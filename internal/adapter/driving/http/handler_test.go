package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/txmirror/internal/adapter/driven/credcrypt"
	"github.com/ericfisherdev/txmirror/internal/adapter/driven/queue"
	"github.com/ericfisherdev/txmirror/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/txmirror/internal/adapter/driving/http"
	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// --- Mock implementations ---

type stubSource struct{}

func (s *stubSource) ExchangeToken(_ context.Context, _ string) (model.TokenExchange, error) {
	return model.TokenExchange{}, nil
}

func (s *stubSource) PageDeltas(_ context.Context, _, _ string) (model.DeltaPage, error) {
	return model.DeltaPage{}, nil
}

func (s *stubSource) ListEntities(_ context.Context, _ string) ([]model.SubAccount, error) {
	return nil, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

// --- Test helpers ---

type testServer struct {
	handler     http.Handler
	accounts    *sqlite.AccountRepo
	records     *sqlite.RecordRepo
	cursors     *sqlite.CursorRepo
	deadLetters *sqlite.DeadLetterRepo
	queue       *queue.Memory
	source      *stubSource
	pinger      *stubPinger
}

func newTestServer(t *testing.T, queueCapacity int) *testServer {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, filepath.Join(t.TempDir(), "txmirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(db.Writer)
	require.NoError(t, err)

	sealer, err := credcrypt.New([]byte(strings.Repeat("h", credcrypt.KeySize)))
	require.NoError(t, err)

	ts := &testServer{
		accounts:    sqlite.NewAccountRepo(db, sealer),
		records:     sqlite.NewRecordRepo(db),
		cursors:     sqlite.NewCursorRepo(db),
		deadLetters: sqlite.NewDeadLetterRepo(db),
		queue:       queue.NewMemory(queueCapacity),
		source:      &stubSource{},
		pinger:      &stubPinger{},
	}
	t.Cleanup(func() { _ = ts.queue.Close() })

	registry := application.NewSourceRegistry("us")
	registry.Register("us", ts.source)

	// The dispatcher is never started, so enqueued jobs stay visible in the queue.
	dispatcher := application.NewDispatcher(ts.queue, nil, ts.deadLetters, 1, 1)

	intake := application.NewIntakeService(ts.accounts, ts.records, dispatcher)
	accountSvc := application.NewAccountService(
		ts.accounts, ts.records, ts.cursors, sqlite.NewSubAccountRepo(db), ts.deadLetters,
	)
	repoll := application.NewRepollService(ts.accounts, ts.cursors, dispatcher, 0)
	health := application.NewHealthService(ts.pinger, ts.queue, registry)

	repollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		repoll.Start(repollCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httphandler.NewHandler(intake, accountSvc, repoll, health, logger)
	ts.handler = httphandler.NewServeMux(h, logger)

	return ts
}

func (ts *testServer) seedAccount(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, ts.accounts.Create(context.Background(), model.Account{
		ID: id, OwnerID: "owner-1", Credential: "access-" + id, Region: "us",
	}))
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func record(id string) model.Record {
	return model.Record{
		ID:           id,
		SubAccountID: "sub-1",
		Amount:       decimal.RequireFromString("-12.50"),
		Currency:     "EUR",
		OccurredOn:   civil.Date{Year: 2024, Month: time.March, Day: 3},
		DisplayName:  "Groceries",
		Tags:         []string{"food"},
	}
}

// --- Webhook tests ---

func TestWebhook_DeltaAvailable(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")

	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks",
		`{"kind":"RECORDS","code":"DELTA_AVAILABLE","accountId":"A1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	ack := decode[httphandler.AckResponse](t, rec)
	assert.True(t, ack.Received)
	assert.True(t, ack.Processed)
	assert.Equal(t, "sync_records", ack.Action)
	assert.Equal(t, 1, ts.queue.Depth())
}

func TestWebhook_RemovedTombstonesSynchronously(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")
	ctx := context.Background()
	require.NoError(t, ts.records.UpsertRecords(ctx, "A1", []model.Record{record("r1"), record("r2")}))

	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks",
		`{"kind":"RECORDS","code":"REMOVED","accountId":"A1","removedRecordIds":["r1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := ts.records.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, got.IsLive())
	assert.Equal(t, 0, ts.queue.Depth())
}

func TestWebhook_AccountErrorMarksLoginRequired(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")

	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks",
		`{"kind":"ACCOUNT","code":"ERROR","accountId":"A1","error":{"code":"ITEM_LOGIN_REQUIRED","message":"expired"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := ts.accounts.Get(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusLoginRequired, account.Status)
}

func TestWebhook_UnknownAccountIsAcknowledged(t *testing.T) {
	ts := newTestServer(t, 8)

	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks",
		`{"kind":"RECORDS","code":"DELTA_AVAILABLE","accountId":"ghost"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	ack := decode[httphandler.AckResponse](t, rec)
	assert.True(t, ack.Received)
	assert.False(t, ack.Processed)
	assert.Equal(t, 0, ts.queue.Depth())
}

func TestWebhook_BadRequests(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"kind":`},
		{name: "missing accountId", body: `{"kind":"RECORDS","code":"DELTA_AVAILABLE"}`},
		{name: "missing code", body: `{"kind":"RECORDS","accountId":"A1"}`},
		{name: "wrong type", body: `{"kind":"RECORDS","code":"DELTA_AVAILABLE","accountId":42}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/webhooks", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[httphandler.AckResponse](t, rec).Error)
		})
	}
	assert.Equal(t, 0, ts.queue.Depth())
}

func TestWebhook_QueueFullReturns503(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.seedAccount(t, "A1")
	ts.seedAccount(t, "A2")

	first := ts.do(t, http.MethodPost, "/api/v1/webhooks", `{"kind":"RECORDS","code":"DELTA_AVAILABLE","accountId":"A1"}`)
	require.Equal(t, http.StatusOK, first.Code)

	rec := ts.do(t, http.MethodPost, "/api/v1/webhooks", `{"kind":"RECORDS","code":"DELTA_AVAILABLE","accountId":"A2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ack := decode[httphandler.AckResponse](t, rec)
	assert.True(t, ack.Received)
	assert.False(t, ack.Processed)
	assert.NotEmpty(t, ack.Error)
}

// --- Account tests ---

func TestAccountsAreNotCreatedOverHTTP(t *testing.T) {
	ts := newTestServer(t, 8)

	rec := ts.do(t, http.MethodPost, "/api/v1/accounts", `{"ownerId":"o","exchangeToken":"t"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, ts.queue.Depth())
}

func TestListRecords(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")
	ctx := context.Background()
	require.NoError(t, ts.records.UpsertRecords(ctx, "A1", []model.Record{record("r1"), record("r2")}))
	_, err := ts.records.TombstoneRecords(ctx, "A1", []string{"r2"}, time.Now())
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/v1/accounts/A1/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	live := decode[[]httphandler.RecordResponse](t, rec)
	require.Len(t, live, 1)
	assert.Equal(t, "r1", live[0].RecordID)
	assert.Equal(t, "-12.5", live[0].Amount)
	assert.Equal(t, "2024-03-03", live[0].OccurredOn)
	assert.Equal(t, []string{"food"}, live[0].Tags)
	assert.Nil(t, live[0].DeletedAt)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/A1/records?include_deleted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]httphandler.RecordResponse](t, rec)
	assert.Len(t, all, 2)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/A1/records?include_deleted=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRecords_EmptyAndUnknown(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")

	rec := ts.do(t, http.MethodGet, "/api/v1/accounts/A1/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/ghost/records", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSyncState(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")
	require.NoError(t, ts.cursors.AdvanceCursor(context.Background(), "A1", "", "c-42"))

	rec := ts.do(t, http.MethodGet, "/api/v1/accounts/A1/sync-state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	state := decode[httphandler.SyncStateResponse](t, rec)
	assert.Equal(t, "A1", state.Account.AccountID)
	assert.Equal(t, "c-42", state.Cursor)
	assert.NotNil(t, state.SubAccounts)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/ghost/sync-state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestSync(t *testing.T) {
	ts := newTestServer(t, 8)
	ts.seedAccount(t, "A1")

	rec := ts.do(t, http.MethodPost, "/api/v1/accounts/A1/sync", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.queue.Depth())

	rec = ts.do(t, http.MethodPost, "/api/v1/accounts/ghost/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDeadLetters(t *testing.T) {
	ts := newTestServer(t, 8)
	require.NoError(t, ts.deadLetters.Record(context.Background(), model.DeadLetter{
		ID: "dl-1", JobID: "job-1", Kind: model.JobKindSyncRecords, AccountID: "A1",
		Error: "source unavailable", Attempts: 4, FailedAt: time.Now(),
	}))

	rec := ts.do(t, http.MethodGet, "/api/v1/dead-letters?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	letters := decode[[]httphandler.DeadLetterResponse](t, rec)
	require.Len(t, letters, 1)
	assert.Equal(t, "SYNC_RECORDS", letters[0].Kind)
	assert.Equal(t, 4, letters[0].Attempts)

	rec = ts.do(t, http.MethodGet, "/api/v1/dead-letters?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Health and metrics ---

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 8)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[httphandler.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 8, health.QueueCapacity)
	assert.Equal(t, []string{"us"}, health.Regions)

	ts.pinger.err = assert.AnError
	rec = ts.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[httphandler.HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, 8)
	_ = ts.do(t, http.MethodGet, "/api/v1/health", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "txmirror_http_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, 8)
	rec := ts.do(t, http.MethodGet, "/api/v1/webhooks", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
