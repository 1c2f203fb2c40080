package application

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// SourceRegistry maps a region to the SourceClient serving it. It is built
// once at startup and handed to the services that need a client, so the
// set of regions is explicit and testable.
type SourceRegistry struct {
	mu            sync.RWMutex
	clients       map[string]driven.SourceClient
	defaultRegion string
}

// NewSourceRegistry creates an empty registry. Accounts with no region
// resolve to defaultRegion.
func NewSourceRegistry(defaultRegion string) *SourceRegistry {
	return &SourceRegistry{
		clients:       make(map[string]driven.SourceClient),
		defaultRegion: normalizeRegion(defaultRegion),
	}
}

// Register adds or replaces the client for region.
func (r *SourceRegistry) Register(region string, client driven.SourceClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[normalizeRegion(region)] = client
}

// Get returns the client for region, falling back to the default region
// when region is empty. Returns ErrUnknownRegion if none is registered.
func (r *SourceRegistry) Get(region string) (driven.SourceClient, error) {
	region = normalizeRegion(region)
	if region == "" {
		region = r.defaultRegion
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[region]
	if !ok || client == nil {
		return nil, fmt.Errorf("region %q: %w", region, driven.ErrUnknownRegion)
	}
	return client, nil
}

// DefaultRegion returns the region used for accounts without one.
func (r *SourceRegistry) DefaultRegion() string {
	return r.defaultRegion
}

// Regions returns the registered regions in sorted order.
func (r *SourceRegistry) Regions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regions := make([]string, 0, len(r.clients))
	for region := range r.clients {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

func normalizeRegion(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}
