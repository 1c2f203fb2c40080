package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
)

// Sentinel errors returned by SourceClient implementations. Adapters wrap
// them so callers can classify failures with errors.Is.
var (
	// ErrSourceTransient marks a failure worth retrying: network errors,
	// timeouts, rate limiting and 5xx responses.
	ErrSourceTransient = errors.New("transient source failure")

	// ErrSourceAuth marks a credential the source rejected. Only the account
	// owner re-authenticating can fix it.
	ErrSourceAuth = errors.New("source rejected credential")

	// ErrUnknownRegion indicates no source client is registered for a region.
	ErrUnknownRegion = errors.New("no source client for region")
)

// SourceClient defines the driven port for the external aggregator.
type SourceClient interface {
	// ExchangeToken trades a short-lived link token for a long-lived credential.
	ExchangeToken(ctx context.Context, exchangeToken string) (model.TokenExchange, error)
	// PageDeltas returns the page of changes after cursor. An empty cursor
	// starts from the beginning of the account's history.
	PageDeltas(ctx context.Context, credential, cursor string) (model.DeltaPage, error)
	// ListEntities returns the authoritative set of sub-accounts.
	ListEntities(ctx context.Context, credential string) ([]model.SubAccount, error)
}
