package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/txmirror/internal/application"
	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// WebhookRequest is the inbound notification body.
type WebhookRequest struct {
	Kind             string               `json:"kind"`
	Code             string               `json:"code"`
	AccountID        string               `json:"accountId"`
	RemovedRecordIDs []string             `json:"removedRecordIds,omitempty"`
	NewSubAccountIDs []string             `json:"newSubAccountIds,omitempty"`
	Error            *WebhookErrorPayload `json:"error,omitempty"`
}

// WebhookErrorPayload is the error object carried by ACCOUNT.ERROR events.
type WebhookErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r WebhookRequest) toNotification() model.Notification {
	n := model.Notification{
		Kind:             r.Kind,
		Code:             r.Code,
		AccountID:        r.AccountID,
		RemovedRecordIDs: r.RemovedRecordIDs,
		NewSubAccountIDs: r.NewSubAccountIDs,
	}
	if r.Error != nil {
		n.Error = &model.NotificationError{Code: r.Error.Code, Message: r.Error.Message}
	}
	return n
}

// AckResponse is the acknowledgment returned to the notification sender.
type AckResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toAckResponse(ack model.Ack) AckResponse {
	return AckResponse{
		Received:  ack.Received,
		Processed: ack.Processed,
		Action:    string(ack.Action),
		Error:     ack.Error,
	}
}

// AccountResponse is the JSON representation of an account. The credential
// is never returned.
type AccountResponse struct {
	AccountID string `json:"accountId"`
	OwnerID   string `json:"ownerId"`
	Region    string `json:"region"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func toAccountResponse(a model.Account) AccountResponse {
	return AccountResponse{
		AccountID: a.ID,
		OwnerID:   a.OwnerID,
		Region:    a.Region,
		Status:    string(a.Status),
		CreatedAt: formatTimestamp(a.CreatedAt),
		UpdatedAt: formatTimestamp(a.UpdatedAt),
	}
}

// RecordResponse is the JSON representation of a mirrored record.
type RecordResponse struct {
	RecordID     string   `json:"recordId"`
	AccountID    string   `json:"accountId"`
	SubAccountID string   `json:"subAccountId"`
	Amount       string   `json:"amount"`
	Currency     string   `json:"currency"`
	OccurredOn   string   `json:"occurredOn"`
	DisplayName  string   `json:"displayName"`
	Pending      bool     `json:"pending"`
	Tags         []string `json:"tags"`
	DeletedAt    *string  `json:"deletedAt"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

func toRecordResponse(r model.Record) RecordResponse {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}

	resp := RecordResponse{
		RecordID:     r.ID,
		AccountID:    r.AccountID,
		SubAccountID: r.SubAccountID,
		Amount:       r.Amount.String(),
		Currency:     r.Currency,
		OccurredOn:   r.OccurredOn.String(),
		DisplayName:  r.DisplayName,
		Pending:      r.Pending,
		Tags:         tags,
		UpdatedAt:    formatTimestamp(r.UpdatedAt),
	}
	if deletedAt, ok := r.Tombstoned(); ok {
		s := formatTimestamp(deletedAt)
		resp.DeletedAt = &s
	}
	return resp
}

// SubAccountResponse is the JSON representation of a sub-account.
type SubAccountResponse struct {
	SubAccountID string `json:"subAccountId"`
	DisplayName  string `json:"displayName"`
	Kind         string `json:"kind"`
	Balance      string `json:"balance"`
	Currency     string `json:"currency"`
	DiscoveredAt string `json:"discoveredAt,omitempty"`
}

// SyncStateResponse is the JSON representation of an account's sync progress.
type SyncStateResponse struct {
	Account         AccountResponse      `json:"account"`
	Cursor          string               `json:"cursor"`
	CursorUpdatedAt string               `json:"cursorUpdatedAt,omitempty"`
	SubAccounts     []SubAccountResponse `json:"subAccounts"`
}

func toSyncStateResponse(s application.SyncState) SyncStateResponse {
	resp := SyncStateResponse{
		Account:     toAccountResponse(s.Account),
		SubAccounts: make([]SubAccountResponse, 0, len(s.SubAccounts)),
	}
	if s.Cursor != nil {
		resp.Cursor = s.Cursor.Cursor
		resp.CursorUpdatedAt = formatTimestamp(s.Cursor.UpdatedAt)
	}
	for _, sa := range s.SubAccounts {
		resp.SubAccounts = append(resp.SubAccounts, SubAccountResponse{
			SubAccountID: sa.ID,
			DisplayName:  sa.DisplayName,
			Kind:         sa.Kind,
			Balance:      sa.Balance.String(),
			Currency:     sa.Currency,
			DiscoveredAt: formatTimestamp(sa.DiscoveredAt),
		})
	}
	return resp
}

// DeadLetterResponse is the JSON representation of a failed job.
type DeadLetterResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"jobId"`
	Kind      string `json:"kind"`
	AccountID string `json:"accountId"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
	FailedAt  string `json:"failedAt"`
}

func toDeadLetterResponse(dl model.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:        dl.ID,
		JobID:     dl.JobID,
		Kind:      string(dl.Kind),
		AccountID: dl.AccountID,
		Error:     dl.Error,
		Attempts:  dl.Attempts,
		FailedAt:  formatTimestamp(dl.FailedAt),
	}
}

// HealthResponse is the JSON representation of the health check.
type HealthResponse struct {
	Status        string   `json:"status"`
	Database      string   `json:"database"`
	QueueDepth    int      `json:"queue_depth"`
	QueueCapacity int      `json:"queue_capacity"`
	Regions       []string `json:"regions"`
	Time          string   `json:"time"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
