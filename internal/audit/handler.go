package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bczopp/edda/internal/httpserver"
	"github.com/bczopp/edda/pkg/realm"
)

// Handler provides HTTP handlers for the audit log API.
type Handler struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewHandler creates an audit log Handler backed by the given global pool.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, pool: pool}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

// Row is a single audit log entry as returned by the list API.
type Row struct {
	ID         uuid.UUID  `json:"id"`
	RealmID    uuid.UUID  `json:"realm_id"`
	Subject    string     `json:"subject"`
	APIKeyID   *uuid.UUID `json:"api_key_id,omitempty"`
	Action     string     `json:"action"`
	Resource   string     `json:"resource"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	Detail     []byte     `json:"detail,omitempty"`
	IPAddress  *string    `json:"ip_address,omitempty"`
	UserAgent  *string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const listAuditLog = `
SELECT id, realm_id, subject, api_key_id, action, resource, resource_id, detail, ip_address, user_agent, created_at
FROM public.audit_log
WHERE realm_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rlm := realm.FromContext(r.Context())
	if rlm == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing realm")
		return
	}

	rows, err := h.pool.Query(r.Context(), listAuditLog, rlm.ID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	entries := make([]Row, 0, params.PageSize)
	for rows.Next() {
		var e Row
		var apiKeyID, resourceID pgtype.UUID
		if err := rows.Scan(&e.ID, &e.RealmID, &e.Subject, &apiKeyID, &e.Action, &e.Resource, &resourceID,
			&e.Detail, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		if apiKeyID.Valid {
			id := uuid.UUID(apiKeyID.Bytes)
			e.APIKeyID = &id
		}
		if resourceID.Valid {
			id := uuid.UUID(resourceID.Bytes)
			e.ResourceID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("reading audit log rows", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
