package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/httpserver"
)

// Record is a single invocation_audit_log row as returned over HTTP.
type Record struct {
	ID               int64     `json:"-"`
	HubID            string    `json:"hub_id"`
	InvocationTarget string    `json:"invocation_target"`
	Action           string    `json:"action"`
	Invoker          string    `json:"invoker"`
	Outcome          string    `json:"outcome"`
	IPAddress        *string   `json:"ip_address,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Handler exposes read access to the invocation audit log, scoped to a
// single hub. Mounted behind the session-authenticated account plane, not
// behind capability invocation: the audit log is an operator surface, not
// a hub resource.
type Handler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(pool *pgxpool.Pool, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, logger: logger}
}

// Routes returns a chi.Router with audit log routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{hubId}", h.handleList)
	return r
}

// handleList paginates the audit log by keyset (created_at, id) rather than
// offset: this table is append-only and can grow without bound, so an
// OFFSET that re-scans skipped rows on every page gets steadily more
// expensive. The cursor opaquely encodes the last row's (created_at, id).
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	query := `
		SELECT id, hub_id, invocation_target, action, invoker, outcome, ip_address, created_at
		FROM invocation_audit_log
		WHERE hub_id = $1`
	args := []any{hubID}

	if params.After != nil {
		afterID, err := strconv.ParseInt(params.After.ID, 10, 64)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cursor id")
			return
		}
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, params.After.CreatedAt, afterID)
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, params.Limit+1)

	rows, err := h.pool.Query(r.Context(), query, args...)
	if err != nil {
		h.logger.Error("listing audit log", "error", err, "hub_id", hubID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.HubID, &rec.InvocationTarget, &rec.Action, &rec.Invoker,
			&rec.Outcome, &rec.IPAddress, &rec.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err, "hub_id", hubID)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		records = append(records, rec)
	}

	page := httpserver.NewCursorPage(records, params.Limit, func(rec Record) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: rec.CreatedAt, ID: strconv.FormatInt(rec.ID, 10)}
	})
	httpserver.Respond(w, http.StatusOK, page)
}
