// Package source implements the SourceClient port over the aggregator's
// HTTP/JSON API.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SourceClient = (*Client)(nil)

// maxErrorBody caps how much of an error response is echoed into errors.
const maxErrorBody = 512

// Client implements the driven.SourceClient port for one regional endpoint.
type Client struct {
	http     *http.Client
	baseURL  string
	clientID string
	secret   string
	policy   *bluemonday.Policy
}

// NewClient creates a source client with the following transport stack:
//  1. httpcache, one memory cache per bearer credential (ETag-based
//     conditional request caching)
//  2. go-github-ratelimit (sleeps on 429 with Retry-After)
//
// Delta pages are never cached; see PageDeltas.
func NewClient(baseURL, clientID, secret string) *Client {
	cacheTransport := newCredentialCache(http.DefaultTransport)
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)

	return newClient(rateLimitClient, baseURL, clientID, secret)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing against an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, clientID, secret string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return newClient(httpClient, baseURL, clientID, secret), nil
}

func newClient(httpClient *http.Client, baseURL, clientID, secret string) *Client {
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
		policy:   bluemonday.StrictPolicy(),
	}
}

type exchangeRequest struct {
	ExchangeToken string `json:"exchangeToken"`
}

type exchangeResponse struct {
	Credential string `json:"credential"`
	AccountID  string `json:"accountId"`
}

type wireRecord struct {
	RecordID     string          `json:"recordId"`
	AccountID    string          `json:"accountId"`
	SubAccountID string          `json:"subAccountId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	OccurredOn   civil.Date      `json:"occurredOn"`
	DisplayName  string          `json:"displayName"`
	Pending      bool            `json:"pending"`
	Tags         []string        `json:"tags"`
}

type wireRemoved struct {
	RecordID string `json:"recordId"`
}

type deltasResponse struct {
	Added      []wireRecord  `json:"added"`
	Modified   []wireRecord  `json:"modified"`
	Removed    []wireRemoved `json:"removed"`
	NextCursor string        `json:"nextCursor"`
	HasMore    bool          `json:"hasMore"`
}

type wireEntity struct {
	SubAccountID string          `json:"subAccountId"`
	DisplayName  string          `json:"displayName"`
	Kind         string          `json:"kind"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
}

type entitiesResponse struct {
	Entities []wireEntity `json:"entities"`
}

// ExchangeToken trades a short-lived link token for a long-lived credential.
func (c *Client) ExchangeToken(ctx context.Context, exchangeToken string) (model.TokenExchange, error) {
	body, err := json.Marshal(exchangeRequest{ExchangeToken: exchangeToken})
	if err != nil {
		return model.TokenExchange{}, fmt.Errorf("encoding exchange request: %w", err)
	}

	var resp exchangeResponse
	if err := c.do(ctx, http.MethodPost, "/token/exchange", "", bytes.NewReader(body), &resp, noStore); err != nil {
		return model.TokenExchange{}, fmt.Errorf("exchanging token: %w", err)
	}

	if resp.Credential == "" || resp.AccountID == "" {
		return model.TokenExchange{}, errors.New("exchanging token: response missing credential or accountId")
	}

	return model.TokenExchange{Credential: resp.Credential, AccountID: resp.AccountID}, nil
}

// PageDeltas fetches the page of changes after cursor. The request asks every
// cache on the way to neither serve nor store the page: the same cursor
// returns new changes as the account moves.
func (c *Client) PageDeltas(ctx context.Context, credential, cursor string) (model.DeltaPage, error) {
	path := "/records/deltas?cursor=" + url.QueryEscape(cursor)

	var resp deltasResponse
	if err := c.do(ctx, http.MethodGet, path, credential, nil, &resp, noStore); err != nil {
		return model.DeltaPage{}, fmt.Errorf("paging deltas from cursor %q: %w", cursor, err)
	}

	page := model.DeltaPage{
		Added:      make([]model.Record, 0, len(resp.Added)),
		Modified:   make([]model.Record, 0, len(resp.Modified)),
		Removed:    make([]string, 0, len(resp.Removed)),
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}
	for _, r := range resp.Added {
		page.Added = append(page.Added, c.mapRecord(r))
	}
	for _, r := range resp.Modified {
		page.Modified = append(page.Modified, c.mapRecord(r))
	}
	for _, r := range resp.Removed {
		page.Removed = append(page.Removed, r.RecordID)
	}

	slog.Debug("source deltas page",
		"cursor", cursor,
		"next_cursor", page.NextCursor,
		"added", len(page.Added),
		"modified", len(page.Modified),
		"removed", len(page.Removed),
		"has_more", page.HasMore,
	)

	return page, nil
}

// ListEntities returns every sub-account visible to the credential.
func (c *Client) ListEntities(ctx context.Context, credential string) ([]model.SubAccount, error) {
	var resp entitiesResponse
	if err := c.do(ctx, http.MethodGet, "/entities", credential, nil, &resp, allowCache); err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	subAccounts := make([]model.SubAccount, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		subAccounts = append(subAccounts, model.SubAccount{
			ID:          e.SubAccountID,
			DisplayName: c.sanitize(e.DisplayName),
			Kind:        e.Kind,
			Balance:     e.Balance,
			Currency:    e.Currency,
		})
	}

	return subAccounts, nil
}

type cachePolicy int

const (
	allowCache cachePolicy = iota
	noStore
)

// do sends one request and decodes a 200 response into out. Failures are
// wrapped with ErrSourceAuth or ErrSourceTransient where they apply.
func (c *Client) do(ctx context.Context, method, path, credential string, body io.Reader, out any, policy cachePolicy) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)
	req.Header.Set("X-Client-Secret", c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if policy == noStore {
		req.Header.Set("Cache-Control", "no-cache, no-store")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", driven.ErrSourceTransient, method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	// Read to EOF so httpcache can store the body.
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", driven.ErrSourceTransient, req.URL.Path, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}

	return nil
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", driven.ErrSourceAuth, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: HTTP %d: %s", driven.ErrSourceTransient, resp.StatusCode, msg)
	default:
		return fmt.Errorf("source returned HTTP %d: %s", resp.StatusCode, msg)
	}
}

// mapRecord converts a wire record to the domain model. Currency is kept
// verbatim; the display name is stripped of markup.
func (c *Client) mapRecord(r wireRecord) model.Record {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}

	return model.Record{
		ID:           r.RecordID,
		AccountID:    r.AccountID,
		SubAccountID: r.SubAccountID,
		Amount:       r.Amount,
		Currency:     r.Currency,
		OccurredOn:   r.OccurredOn,
		DisplayName:  c.sanitize(r.DisplayName),
		Pending:      r.Pending,
		Tags:         tags,
	}
}

func (c *Client) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(s)))
}

// credentialCache keeps a separate httpcache per Authorization header, so a
// cached response is only replayed to the credential that fetched it.
// Requests without a credential bypass caching.
type credentialCache struct {
	next http.RoundTripper

	mu     sync.Mutex
	caches map[[sha256.Size]byte]*httpcache.Transport
}

func newCredentialCache(next http.RoundTripper) *credentialCache {
	return &credentialCache{
		next:   next,
		caches: make(map[[sha256.Size]byte]*httpcache.Transport),
	}
}

func (c *credentialCache) RoundTrip(req *http.Request) (*http.Response, error) {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return c.next.RoundTrip(req)
	}
	return c.transportFor(auth).RoundTrip(req)
}

func (c *credentialCache) transportFor(auth string) *httpcache.Transport {
	key := sha256.Sum256([]byte(auth))

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.caches[key]
	if !ok {
		t = httpcache.NewMemoryCacheTransport()
		t.Transport = c.next
		c.caches[key] = t
	}
	return t
}
