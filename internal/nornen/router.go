package nornen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bczopp/edda/internal/odin"
)

// ResponsibilityClient is the "take responsibility" RPC surface, injected
// per spec.md §9's trait-shaped dependency injection rule. Grounded on
// spec.md §6's Responsibility RPC wire shapes and
// original_source/odin/tests/mocks/grpc_geri (TakeResponsibilityRequest/
// Response, ReturnResponsibilityRequest, RejectResponsibilityRequest).
type ResponsibilityClient interface {
	TakeResponsibility(ctx context.Context, serviceURL string, req TakeResponsibilityRequest) (TakeResponsibilityResponse, error)
	ReturnResponsibility(ctx context.Context, serviceURL string, requestID, outcome string)
	RejectResponsibility(ctx context.Context, serviceURL string, requestID, reason string)
}

// TakeResponsibilityRequest is the offer sent to a candidate service.
type TakeResponsibilityRequest struct {
	RequestID   string
	RequestType string
	Context     map[string]string
	Payload     string
}

// TakeResponsibilityResponse is the candidate's accept/reject decision.
type TakeResponsibilityResponse struct {
	Accepted bool
	Message  string
}

// NoResponsibleService is returned when the candidate set empties without
// any acceptance, per spec.md §4.9.
type NoResponsibleService struct {
	RequestID string
}

func (e *NoResponsibleService) Error() string {
	return fmt.Sprintf("nornen: no responsible service accepted request %s", e.RequestID)
}

// CloudLimitDetector reports whether cloud request quota is currently
// exhausted, restricting the selector to local-only candidates per
// spec.md §4.10's fallback manager.
type CloudLimitDetector interface {
	CloudLimitExhausted(ctx context.Context) bool
}

// candidate is a scored, load-adjusted service eligible to receive a
// request.
type candidate struct {
	serviceName string
	serviceURL  string
	isLocal     bool
	effective   float64
}

// Router selects the single most-responsible service for a request and
// drives the offer/accept/fallback handshake, per spec.md §4.9. Grounded
// on spec.md §4.9's candidate-selection and retry description; no single
// original_source file owns this end-to-end (Odin's Rust side is a thin
// gRPC client, the router logic itself is server-side Rust not present in
// the retrieval pack), so the control flow follows the same
// retry-with-removal shape as internal/bifrost/router.go's relay
// fallback chain.
type Router struct {
	cache        *odin.Cache
	scorer       *ScoreCalculator
	load         *LoadTracker
	client       ResponsibilityClient
	cloudLimiter CloudLimitDetector
	localOnly    map[string]bool // service_name -> is_local
	inputs       map[string]EfficiencyInput
}

// NewRouter creates a Router. localOnly marks which registered services
// are local (for the distance-score shortcut and cloud-limit fallback);
// inputs supplies the scoring input for each service_name.
func NewRouter(cache *odin.Cache, scorer *ScoreCalculator, load *LoadTracker, client ResponsibilityClient, cloudLimiter CloudLimitDetector, localOnly map[string]bool, inputs map[string]EfficiencyInput) *Router {
	return &Router{
		cache:        cache,
		scorer:       scorer,
		load:         load,
		client:       client,
		cloudLimiter: cloudLimiter,
		localOnly:    localOnly,
		inputs:       inputs,
	}
}

// tokenize splits request text into lowercase keyword tokens, per
// spec.md §4.9's "tokenizing the input into keywords".
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

// candidates builds the ranked candidate set for requestText, honoring
// recognizedDomains and the cloud-limit local-only restriction.
func (r *Router) candidates(ctx context.Context, requestText string, recognizedDomains []string, now time.Time) []candidate {
	agg := r.cache.Aggregated()

	names := make(map[string]bool)
	for _, kw := range tokenize(requestText) {
		for _, svc := range agg.ServicesForKeyword(kw) {
			names[svc] = true
		}
	}
	for _, d := range recognizedDomains {
		for _, svc := range agg.ServicesForDomain(d) {
			names[svc] = true
		}
	}

	localOnly := r.cloudLimiter != nil && r.cloudLimiter.CloudLimitExhausted(ctx)

	out := make([]candidate, 0, len(names))
	for name := range names {
		entry, ok := r.cache.Get(name)
		if !ok {
			continue
		}
		isLocal := r.localOnly[name]
		if localOnly && !isLocal {
			continue
		}

		input := r.inputs[name]
		input.IsLocal = isLocal
		raw := r.scorer.Calculate(input)
		effective := raw
		if r.load != nil {
			effective = r.load.EffectiveScore(name, raw, now)
		}
		out = append(out, candidate{serviceName: name, serviceURL: entry.ServiceURL, isLocal: isLocal, effective: effective})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].effective > out[j].effective })
	return out
}

// Route selects the top candidate, offers it the request, and on
// rejection or RPC error removes it and retries the next-best candidate
// until one accepts or the set empties (NoResponsibleService). On
// success it forwards the payload via the accepted response and fires
// ReturnResponsibility, fire-and-forget per SPEC_FULL.md's decision on
// spec.md's open question 3 (the handshake's purpose is bookkeeping on
// the remote side, not a value the caller needs to await).
func (r *Router) Route(ctx context.Context, req TakeResponsibilityRequest, recognizedDomains []string, now time.Time) (TakeResponsibilityResponse, string, error) {
	pool := r.candidates(ctx, req.RequestType+" "+req.Payload, recognizedDomains, now)

	for len(pool) > 0 {
		top := pool[0]
		pool = pool[1:]

		resp, err := r.client.TakeResponsibility(ctx, top.serviceURL, req)
		if err != nil {
			continue
		}
		if !resp.Accepted {
			r.client.RejectResponsibility(ctx, top.serviceURL, req.RequestID, resp.Message)
			continue
		}

		if r.load != nil {
			r.load.RecordRequest(top.serviceName, now)
		}
		go r.client.ReturnResponsibility(context.WithoutCancel(ctx), top.serviceURL, req.RequestID, "completed")
		return resp, top.serviceName, nil
	}

	return TakeResponsibilityResponse{}, "", &NoResponsibleService{RequestID: req.RequestID}
}
