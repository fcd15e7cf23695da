package nornen

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handler exposes Router over HTTP so the api process can hand a request
// off to the worker process for responsibility routing, mirroring the
// Routes()-returns-a-chi.Router shape used by pkg/apikey.Handler and
// internal/audit.Handler.
type Handler struct {
	router *Router
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(router *Router, logger *slog.Logger) *Handler {
	return &Handler{router: router, logger: logger}
}

// routeRequest is the wire shape of a POST /route body.
type routeRequest struct {
	RequestID         string            `json:"request_id"`
	RequestType       string            `json:"request_type"`
	Context           map[string]string `json:"context"`
	Payload           string            `json:"payload"`
	RecognizedDomains []string          `json:"recognized_domains"`
}

type routeResponse struct {
	Accepted    bool   `json:"accepted"`
	Message     string `json:"message"`
	ServiceName string `json:"service_name"`
}

// Routes mounts the responsibility-routing endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/route", h.handleRoute)
	return r
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var body routeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, serviceName, err := h.router.Route(r.Context(), TakeResponsibilityRequest{
		RequestID:   body.RequestID,
		RequestType: body.RequestType,
		Context:     body.Context,
		Payload:     body.Payload,
	}, body.RecognizedDomains, time.Now())
	if err != nil {
		if _, ok := err.(*NoResponsibleService); ok {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("nornen: routing request", "request_id", body.RequestID, "error", err)
		http.Error(w, "routing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(routeResponse{Accepted: resp.Accepted, Message: resp.Message, ServiceName: serviceName})
}
