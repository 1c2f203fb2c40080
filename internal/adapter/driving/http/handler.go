package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// maxWebhookBody bounds the size of an inbound notification.
const maxWebhookBody = 1 << 20

// Handler is the HTTP driving adapter that serves the webhook endpoint and
// the read API.
type Handler struct {
	intake   *application.IntakeService
	accounts *application.AccountService
	repoll   *application.RepollService
	health   *application.HealthService
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	intake *application.IntakeService,
	accounts *application.AccountService,
	repoll *application.RepollService,
	health *application.HealthService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		intake:   intake,
		accounts: accounts,
		repoll:   repoll,
		health:   health,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging, metrics and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/webhooks", h.Webhook)
	mux.HandleFunc("GET /api/v1/accounts/{accountID}/records", h.ListRecords)
	mux.HandleFunc("GET /api/v1/accounts/{accountID}/sync-state", h.GetSyncState)
	mux.HandleFunc("POST /api/v1/accounts/{accountID}/sync", h.RequestSync)
	mux.HandleFunc("GET /api/v1/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = metricsMiddleware(wrapped)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Webhook accepts a notification from the aggregator. Malformed bodies and
// missing mandatory fields get 400. A local dependency failure gets 503 so
// the sender redelivers; every other outcome, including unknown accounts,
// is acknowledged with 200.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, AckResponse{Error: "invalid request body"})
		return
	}

	n := req.toNotification()
	if err := n.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, AckResponse{Error: err.Error()})
		return
	}

	ack := h.intake.Handle(r.Context(), n)

	status := http.StatusOK
	if ack.Retry {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toAckResponse(ack))
}

// ListRecords returns an account's mirrored records, live only unless
// include_deleted=true.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	includeDeleted := false
	if raw := r.URL.Query().Get("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_deleted must be a boolean")
			return
		}
		includeDeleted = v
	}

	records, err := h.accounts.ListRecords(r.Context(), accountID, includeDeleted)
	if err != nil {
		h.writeAccountError(w, accountID, "failed to list records", err)
		return
	}

	resp := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSyncState returns an account's cursor and sub-accounts.
func (h *Handler) GetSyncState(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	state, err := h.accounts.GetSyncState(r.Context(), accountID)
	if err != nil {
		h.writeAccountError(w, accountID, "failed to get sync state", err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncStateResponse(*state))
}

// RequestSync queues a sync for one account outside the repoll interval.
func (h *Handler) RequestSync(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountID")

	if err := h.repoll.RequestSync(r.Context(), accountID); err != nil {
		if errors.Is(err, application.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "job queue full")
			return
		}
		h.writeAccountError(w, accountID, "failed to request sync", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync queued"})
}

// ListDeadLetters returns the most recent failed jobs.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	letters, err := h.accounts.ListDeadLetters(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, toDeadLetterResponse(dl))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports database reachability and queue fill.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	resp := HealthResponse{
		Status:        "ok",
		Database:      report.Database,
		QueueDepth:    report.QueueDepth,
		QueueCapacity: report.QueueCapacity,
		Regions:       report.Regions,
		Time:          time.Now().UTC().Format(time.RFC3339),
	}
	if !report.Healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}

func (h *Handler) writeAccountError(w http.ResponseWriter, accountID, msg string, err error) {
	if errors.Is(err, driven.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	h.logger.Error(msg, "account_id", accountID, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
