package odin

import (
	"context"
	"testing"
	"time"
)

type stubClient struct {
	responses map[string]Capability
}

func (s *stubClient) GetCapabilities(ctx context.Context, serviceURL string) (Capability, error) {
	return s.responses[serviceURL], nil
}

func TestAggregatedBuildsInvertedIndex(t *testing.T) {
	cache := NewCache()
	now := time.Unix(1_700_000_000, 0)

	cache.Update("huginn", "http://huginn", Capability{
		ResponsibilityDomains:  []string{"text"},
		ResponsibilityKeywords: []string{"answer", "explain"},
	}, now)
	cache.Update("muninn", "http://muninn", Capability{
		ResponsibilityDomains:  []string{"text", "memory"},
		ResponsibilityKeywords: []string{"answer"},
	}, now)

	agg := cache.Aggregated()

	textServices := agg.ServicesForDomain("text")
	if len(textServices) != 2 {
		t.Fatalf("expected 2 services for domain text, got %v", textServices)
	}

	answerServices := agg.ServicesForKeyword("answer")
	if len(answerServices) != 2 {
		t.Fatalf("expected 2 services for keyword answer, got %v", answerServices)
	}

	explainServices := agg.ServicesForKeyword("explain")
	if len(explainServices) != 1 || explainServices[0] != "huginn" {
		t.Fatalf("expected only huginn for keyword explain, got %v", explainServices)
	}
}

func TestPollerRefreshAllPopulatesCache(t *testing.T) {
	cache := NewCache()
	client := &stubClient{responses: map[string]Capability{
		"http://huginn": {GodName: "huginn", ResponsibilityDomains: []string{"text"}},
	}}
	poller := NewPoller(client, cache, map[string]string{"huginn": "http://huginn"})

	errs := poller.RefreshAll(context.Background(), time.Unix(1_700_000_100, 0))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	entry, ok := cache.Get("huginn")
	if !ok {
		t.Fatalf("expected huginn to be cached after refresh")
	}
	if entry.Capability.GodName != "huginn" {
		t.Fatalf("unexpected cached capability: %+v", entry)
	}
}

func TestPollerDeregisterClearsCache(t *testing.T) {
	cache := NewCache()
	cache.Update("huginn", "http://huginn", Capability{}, time.Unix(0, 0))
	poller := NewPoller(&stubClient{responses: map[string]Capability{}}, cache, map[string]string{"huginn": "http://huginn"})

	poller.Deregister("huginn")

	if _, ok := cache.Get("huginn"); ok {
		t.Fatalf("expected huginn to be evicted from cache after deregister")
	}
}
