package bifrost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTargetNotConnected is returned when a target device has no live
// connection after all retries are exhausted, per spec.md §4.3/§6.
var ErrTargetNotConnected = errors.New("bifrost: target device not connected")

// ErrUnknownGroup is returned by Multicast for an unregistered group name.
var ErrUnknownGroup = errors.New("bifrost: unknown multicast group")

// RetryPolicy controls the route retry/backoff loop: wait base*2^attempt,
// attempt capped at 4, up to maxRetries attempts, per spec.md §4.3.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// DefaultRetryPolicy matches the teacher's conservative backoff defaults
// used elsewhere in the corpus for outbound RPC retries.
var DefaultRetryPolicy = RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxRetries: 3}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt > 4 {
		attempt = 4
	}
	mult := 1 << attempt
	return p.BaseDelay * time.Duration(mult)
}

// Router delivers Request frames to a target device's connections, with
// retry/backoff when none are currently live, relay fallback when the
// message is relay-eligible, broadcast/multicast, and source-keyed rate
// limiting per spec.md §4.3.
type Router struct {
	table  *Table
	relay  *RelayChain
	policy RetryPolicy

	rateMu       sync.Mutex
	lastBySource map[string]time.Time
	minInterval  time.Duration

	groupsMu sync.RWMutex
	groups   map[string]map[string]struct{} // group name -> set of connection ids
}

// NewRouter creates a Router. relay may be nil if no relay backends are
// configured (direct delivery only).
func NewRouter(table *Table, relay *RelayChain, policy RetryPolicy, broadcastMinInterval time.Duration) *Router {
	return &Router{
		table:        table,
		relay:        relay,
		policy:       policy,
		lastBySource: make(map[string]time.Time),
		minInterval:  broadcastMinInterval,
		groups:       make(map[string]map[string]struct{}),
	}
}

// Route forwards rawFrame (the original text frame, unmodified) to every
// live connection of targetDeviceID. If none exist, it retries with
// exponential backoff up to policy.MaxRetries, honoring ctx cancellation at
// every backoff sleep. If retries are exhausted and a relay chain is
// configured, the message is handed to it before giving up.
func (r *Router) Route(ctx context.Context, targetDeviceID string, rawFrame []byte) error {
	for attempt := 0; ; attempt++ {
		conns := r.table.ForDevice(targetDeviceID)
		if len(conns) > 0 {
			return deliverAll(conns, rawFrame)
		}

		if attempt >= r.policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.policy.delay(attempt)):
		}
	}

	if r.relay != nil {
		if err := r.relay.Deliver(ctx, targetDeviceID, rawFrame); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrTargetNotConnected, targetDeviceID)
}

func deliverAll(conns []*Connection, rawFrame []byte) error {
	var firstErr error
	for _, c := range conns {
		if err := c.Send(rawFrame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Broadcast sends rawFrame to every connection except sourceConnID, subject
// to a minimum-interval rate limit keyed by sourceKey (per Open Question
// (ii), the key is configurable — device, connection, or user — and chosen
// by the caller).
func (r *Router) Broadcast(sourceKey, sourceConnID string, rawFrame []byte) error {
	r.rateMu.Lock()
	last, ok := r.lastBySource[sourceKey]
	now := time.Now()
	if ok && now.Sub(last) < r.minInterval {
		r.rateMu.Unlock()
		return fmt.Errorf("bifrost: broadcast rate limit exceeded for %s", sourceKey)
	}
	r.lastBySource[sourceKey] = now
	r.rateMu.Unlock()

	var firstErr error
	for _, c := range r.table.All() {
		if c.ID == sourceConnID {
			continue
		}
		if err := c.Send(rawFrame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RegisterGroup creates or replaces a named multicast group's membership.
func (r *Router) RegisterGroup(name string, connIDs []string) {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()
	set := make(map[string]struct{}, len(connIDs))
	for _, id := range connIDs {
		set[id] = struct{}{}
	}
	r.groups[name] = set
}

// Multicast sends rawFrame to every connection in the named group.
func (r *Router) Multicast(group string, rawFrame []byte) error {
	r.groupsMu.RLock()
	set, ok := r.groups[group]
	r.groupsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	var firstErr error
	for connID := range set {
		c, ok := r.table.Get(connID)
		if !ok {
			continue
		}
		if err := c.Send(rawFrame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
