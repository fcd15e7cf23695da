package nornen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPResponsibilityClient issues the take/return/reject responsibility RPCs
// as plain JSON POSTs over net/http, mirroring
// internal/odin.HTTPEinherjarClient's rejection of a full RPC framework for
// a handful of fire-and-check-response calls.
type HTTPResponsibilityClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPResponsibilityClient creates a client with the given per-request
// timeout (default 30s, matching odin's outbound-RPC timeout rule).
func NewHTTPResponsibilityClient(timeout time.Duration, logger *slog.Logger) *HTTPResponsibilityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResponsibilityClient{httpClient: &http.Client{Timeout: timeout}, logger: logger}
}

// TakeResponsibility offers req to serviceURL and returns its accept/reject
// decision.
func (c *HTTPResponsibilityClient) TakeResponsibility(ctx context.Context, serviceURL string, req TakeResponsibilityRequest) (TakeResponsibilityResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TakeResponsibilityResponse{}, fmt.Errorf("nornen: encoding take-responsibility request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL+"/geri/take-responsibility", bytes.NewReader(body))
	if err != nil {
		return TakeResponsibilityResponse{}, fmt.Errorf("nornen: building take-responsibility request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TakeResponsibilityResponse{}, fmt.Errorf("nornen: take-responsibility RPC to %s: %w", serviceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return TakeResponsibilityResponse{}, fmt.Errorf("nornen: take-responsibility RPC to %s: status %d: %s", serviceURL, resp.StatusCode, limited)
	}

	var out TakeResponsibilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TakeResponsibilityResponse{}, fmt.Errorf("nornen: decoding take-responsibility response from %s: %w", serviceURL, err)
	}
	return out, nil
}

// ReturnResponsibility notifies serviceURL that requestID completed with
// outcome. Best-effort: failures are logged, not returned, since the
// responsibility has already been discharged by the time the caller learns
// the outcome.
func (c *HTTPResponsibilityClient) ReturnResponsibility(ctx context.Context, serviceURL string, requestID, outcome string) {
	c.postFireAndForget(ctx, serviceURL+"/geri/return-responsibility", map[string]string{
		"request_id": requestID,
		"outcome":    outcome,
	})
}

// RejectResponsibility notifies serviceURL that requestID was rejected for
// reason.
func (c *HTTPResponsibilityClient) RejectResponsibility(ctx context.Context, serviceURL string, requestID, reason string) {
	c.postFireAndForget(ctx, serviceURL+"/geri/reject-responsibility", map[string]string{
		"request_id": requestID,
		"reason":     reason,
	})
}

func (c *HTTPResponsibilityClient) postFireAndForget(ctx context.Context, url string, payload map[string]string) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("nornen: encoding notification", "url", url, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("nornen: building notification", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("nornen: sending notification", "url", url, "error", err)
		return
	}
	_ = resp.Body.Close()
}
