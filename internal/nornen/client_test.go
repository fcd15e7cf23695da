package nornen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPResponsibilityClient_TakeResponsibility(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/geri/take-responsibility" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req TakeResponsibilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.RequestID != "req-1" {
			t.Fatalf("unexpected request id: %s", req.RequestID)
		}
		_ = json.NewEncoder(w).Encode(TakeResponsibilityResponse{Accepted: true, Message: "ok"})
	}))
	defer srv.Close()

	c := NewHTTPResponsibilityClient(time.Second, slog.Default())
	resp, err := c.TakeResponsibility(context.Background(), srv.URL, TakeResponsibilityRequest{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("TakeResponsibility: %v", err)
	}
	if !resp.Accepted {
		t.Fatalf("expected Accepted=true")
	}
}

func TestHTTPResponsibilityClient_TakeResponsibilityErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewHTTPResponsibilityClient(time.Second, slog.Default())
	if _, err := c.TakeResponsibility(context.Background(), srv.URL, TakeResponsibilityRequest{RequestID: "req-1"}); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}

func TestHTTPResponsibilityClient_ReturnAndReject(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPResponsibilityClient(time.Second, slog.Default())
	c.ReturnResponsibility(context.Background(), srv.URL, "req-1", "completed")
	c.RejectResponsibility(context.Background(), srv.URL, "req-2", "overloaded")

	if len(gotPaths) != 2 {
		t.Fatalf("expected 2 requests, got %d: %v", len(gotPaths), gotPaths)
	}
	if gotPaths[0] != "/geri/return-responsibility" || gotPaths[1] != "/geri/reject-responsibility" {
		t.Fatalf("unexpected paths: %v", gotPaths)
	}
}
