// Package odin implements capability discovery and aggregation (spec.md
// §4.8): polling registered services for their declared capabilities,
// caching the result per service, and building an inverted index by
// domain and keyword for the responsibility router (internal/nornen).
package odin

import (
	"context"
	"sync"
	"time"
)

// Capability is the decoded response of the Einherjar RPC, per spec.md §6.
type Capability struct {
	GodName                string   `json:"god_name"`
	Purpose                string   `json:"purpose"`
	Functions              []string `json:"functions"`
	ResponsibilityDomains  []string `json:"responsibility_domains"`
	ResponsibilityKeywords []string `json:"responsibility_keywords"`
}

// CachedCapability pairs a service's capability descriptor with the
// service endpoint it was polled from and when it was last refreshed.
type CachedCapability struct {
	ServiceName string
	ServiceURL  string
	Capability  Capability
	LastUpdated time.Time
}

// Aggregated is the inverted index spec.md §4.8 describes: for each
// responsibility domain and keyword, the service names that declare it.
type Aggregated struct {
	ByDomain  map[string][]string
	ByKeyword map[string][]string
}

// ServicesForDomain returns the service names registered for domain, if any.
func (a Aggregated) ServicesForDomain(domain string) []string { return a.ByDomain[domain] }

// ServicesForKeyword returns the service names registered for keyword, if any.
func (a Aggregated) ServicesForKeyword(keyword string) []string { return a.ByKeyword[keyword] }

// Cache holds one CachedCapability per service_name, guarded by a
// read-write lock per spec.md §5's shared-resource policy. Grounded on
// original_source/odin/src/protocols/einherjar.rs's CapabilityCache.
type Cache struct {
	mu    sync.RWMutex
	byKey map[string]CachedCapability
}

// NewCache creates an empty capability cache.
func NewCache() *Cache {
	return &Cache{byKey: make(map[string]CachedCapability)}
}

// Get returns the cached capability for serviceName, if present.
func (c *Cache) Get(serviceName string) (CachedCapability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byKey[serviceName]
	return v, ok
}

// Update stores (or replaces) the capability for serviceName, per the
// spec's "cache-key is service_name" rule and "updates become visible
// atomically per service entry" ordering guarantee (spec.md §5).
func (c *Cache) Update(serviceName, serviceURL string, cap Capability, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[serviceName] = CachedCapability{
		ServiceName: serviceName,
		ServiceURL:  serviceURL,
		Capability:  cap,
		LastUpdated: at,
	}
}

// All returns every cached entry.
func (c *Cache) All() []CachedCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CachedCapability, 0, len(c.byKey))
	for _, v := range c.byKey {
		out = append(out, v)
	}
	return out
}

// Clear removes serviceName from the cache, e.g. when a service
// deregisters or repeatedly fails to respond.
func (c *Cache) Clear(serviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byKey, serviceName)
}

// Aggregated walks the cache once and builds the by_domain/by_keyword
// inverted index, per spec.md §4.8.
func (c *Cache) Aggregated() Aggregated {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Aggregated{ByDomain: make(map[string][]string), ByKeyword: make(map[string][]string)}
	for _, entry := range c.byKey {
		for _, d := range entry.Capability.ResponsibilityDomains {
			out.ByDomain[d] = append(out.ByDomain[d], entry.ServiceName)
		}
		for _, k := range entry.Capability.ResponsibilityKeywords {
			out.ByKeyword[k] = append(out.ByKeyword[k], entry.ServiceName)
		}
	}
	return out
}

// EinherjarClient fetches a single service's capability descriptor. The
// production implementation is a plain net/http JSON POST (DESIGN.md
// rejects a full RPC framework for this one call in favor of the chi/net-http
// idiom used everywhere else in this module); Poller only needs this
// narrow interface so tests can supply a stub.
type EinherjarClient interface {
	GetCapabilities(ctx context.Context, serviceURL string) (Capability, error)
}

// Poller periodically refreshes the cache for a fixed set of registered
// services, per spec.md §4.8's "re-poll on a configurable refresh
// interval or on demand" and §5's capability-refresh background task.
type Poller struct {
	client   EinherjarClient
	cache    *Cache
	services map[string]string // service_name -> service_url
	mu       sync.RWMutex
}

// NewPoller creates a Poller over the given initial service registry
// (service_name -> service_url).
func NewPoller(client EinherjarClient, cache *Cache, services map[string]string) *Poller {
	cp := make(map[string]string, len(services))
	for k, v := range services {
		cp[k] = v
	}
	return &Poller{client: client, cache: cache, services: cp}
}

// Register adds or updates a service endpoint in the poll set.
func (p *Poller) Register(serviceName, serviceURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[serviceName] = serviceURL
}

// Deregister removes a service from the poll set and its cached entry.
func (p *Poller) Deregister(serviceName string) {
	p.mu.Lock()
	delete(p.services, serviceName)
	p.mu.Unlock()
	p.cache.Clear(serviceName)
}

// RefreshOne polls a single service on demand, per spec.md §4.8.
func (p *Poller) RefreshOne(ctx context.Context, serviceName string, now time.Time) error {
	p.mu.RLock()
	url, ok := p.services[serviceName]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	cap, err := p.client.GetCapabilities(ctx, url)
	if err != nil {
		return err
	}
	p.cache.Update(serviceName, url, cap, now)
	return nil
}

// RefreshAll polls every registered service once; a single service's
// failure does not abort the rest, matching the cooperative-scheduler
// suspension-point model of spec.md §5 (each RPC has its own timeout).
func (p *Poller) RefreshAll(ctx context.Context, now time.Time) map[string]error {
	p.mu.RLock()
	names := make([]string, 0, len(p.services))
	for name := range p.services {
		names = append(names, name)
	}
	p.mu.RUnlock()

	errs := make(map[string]error)
	for _, name := range names {
		if err := p.RefreshOne(ctx, name, now); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// Run polls on the given interval until ctx is cancelled, per spec.md
// §5's independently-cancellable background task model.
func (p *Poller) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			_ = p.RefreshAll(ctx, deref(now, t))
		}
	}
}

func deref(now func() time.Time, fallback time.Time) time.Time {
	if now != nil {
		return now()
	}
	return fallback
}
