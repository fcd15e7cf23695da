package nornen

import (
	"context"
	"testing"
	"time"

	"github.com/bczopp/edda/internal/odin"
)

type stubResponsibilityClient struct {
	accept   map[string]bool
	returned []string
	rejected []string
}

func (s *stubResponsibilityClient) TakeResponsibility(ctx context.Context, serviceURL string, req TakeResponsibilityRequest) (TakeResponsibilityResponse, error) {
	if s.accept[serviceURL] {
		return TakeResponsibilityResponse{Accepted: true, Message: "accepted"}, nil
	}
	return TakeResponsibilityResponse{Accepted: false, Message: "busy"}, nil
}

func (s *stubResponsibilityClient) ReturnResponsibility(ctx context.Context, serviceURL string, requestID, outcome string) {
	s.returned = append(s.returned, serviceURL)
}

func (s *stubResponsibilityClient) RejectResponsibility(ctx context.Context, serviceURL string, requestID, reason string) {
	s.rejected = append(s.rejected, serviceURL)
}

func seedCache() *odin.Cache {
	cache := odin.NewCache()
	now := time.Unix(1_700_000_000, 0)
	cache.Update("huginn", "http://huginn", odin.Capability{
		ResponsibilityKeywords: []string{"answer"},
	}, now)
	cache.Update("muninn", "http://muninn", odin.Capability{
		ResponsibilityKeywords: []string{"answer"},
	}, now)
	return cache
}

func TestRouteFallsBackOnRejection(t *testing.T) {
	cache := seedCache()
	client := &stubResponsibilityClient{accept: map[string]bool{"http://muninn": true}}
	scorer := NewScoreCalculator(DefaultWeights())
	load := NewLoadTracker(time.Minute, 10, 0.8)

	inputs := map[string]EfficiencyInput{
		"huginn": {HardwareScore: 1.0, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
		"muninn": {HardwareScore: 0.9, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
	}
	router := NewRouter(cache, scorer, load, client, nil, map[string]bool{"huginn": true, "muninn": true}, inputs)

	resp, winner, err := router.Route(context.Background(), TakeResponsibilityRequest{RequestID: "r1", RequestType: "answer"}, nil, time.Unix(1_700_000_100, 0))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected the fallback candidate to accept")
	}
	if winner != "muninn" {
		t.Fatalf("expected muninn to win after huginn rejects, got %s", winner)
	}
	if len(client.rejected) != 1 || client.rejected[0] != "http://huginn" {
		t.Fatalf("expected huginn to have been offered and rejected, got %v", client.rejected)
	}
}

func TestRouteReturnsNoResponsibleServiceWhenAllReject(t *testing.T) {
	cache := seedCache()
	client := &stubResponsibilityClient{accept: map[string]bool{}}
	scorer := NewScoreCalculator(DefaultWeights())
	inputs := map[string]EfficiencyInput{
		"huginn": {HardwareScore: 1.0, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
		"muninn": {HardwareScore: 0.9, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
	}
	router := NewRouter(cache, scorer, nil, client, nil, map[string]bool{"huginn": true, "muninn": true}, inputs)

	_, _, err := router.Route(context.Background(), TakeResponsibilityRequest{RequestID: "r2", RequestType: "answer"}, nil, time.Unix(1_700_000_100, 0))
	if err == nil {
		t.Fatalf("expected NoResponsibleService error")
	}
	if _, ok := err.(*NoResponsibleService); !ok {
		t.Fatalf("expected *NoResponsibleService, got %T", err)
	}
}

type stubCloudLimiter struct{ exhausted bool }

func (s *stubCloudLimiter) CloudLimitExhausted(ctx context.Context) bool { return s.exhausted }

func TestRouteRestrictsToLocalWhenCloudLimitExhausted(t *testing.T) {
	cache := seedCache()
	client := &stubResponsibilityClient{accept: map[string]bool{"http://huginn": true, "http://muninn": true}}
	scorer := NewScoreCalculator(DefaultWeights())
	inputs := map[string]EfficiencyInput{
		"huginn": {HardwareScore: 1.0, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
		"muninn": {HardwareScore: 0.9, MaxParameterCount: 1, MaxPingMS: 1000, MaxDistanceKM: 1, MaxCostPerToken: 1},
	}
	router := NewRouter(cache, scorer, nil, client, &stubCloudLimiter{exhausted: true}, map[string]bool{"huginn": true, "muninn": false}, inputs)

	_, winner, err := router.Route(context.Background(), TakeResponsibilityRequest{RequestID: "r3", RequestType: "answer"}, nil, time.Unix(1_700_000_100, 0))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if winner != "huginn" {
		t.Fatalf("expected only the local candidate to be eligible, got %s", winner)
	}
}
