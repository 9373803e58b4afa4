package account

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vaultmesh/datahub/internal/httpserver"
)

// CreatePATRequest is the JSON body for POST /auth/tokens.
type CreatePATRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=100"`
	ExpiresInDay *int   `json:"expires_in_days"`
}

// CreatePATResponse includes the raw token, which is only ever shown once.
type CreatePATResponse struct {
	PersonalAccessToken
	RawToken string `json:"raw_token"`
}

// PATHandler exposes personal-access-token lifecycle management to an
// authenticated account. It is mounted behind the session/OIDC/PAT
// Middleware, never behind capability invocation (§6 account-plane routes).
type PATHandler struct {
	store  *PATStore
	logger *slog.Logger
}

// NewPATHandler creates a personal-access-token handler.
func NewPATHandler(store *PATStore, logger *slog.Logger) *PATHandler {
	return &PATHandler{store: store, logger: logger}
}

// Routes returns a chi.Router mounting the PAT management endpoints.
func (h *PATHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleRevoke)
	return r
}

func (h *PATHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req CreatePATRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInDay != nil && *req.ExpiresInDay > 0 {
		d := time.Duration(*req.ExpiresInDay) * 24 * time.Hour
		expiresIn = &d
	}

	token, raw, err := h.store.Create(r.Context(), id.AccountID, req.Name, expiresIn)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, CreatePATResponse{
		PersonalAccessToken: token,
		RawToken:            raw,
	})
}

func (h *PATHandler) handleList(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	tokens, err := h.store.List(r.Context(), id.AccountID)
	if err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	if tokens == nil {
		tokens = []PersonalAccessToken{}
	}

	total := len(tokens)
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.PageSize
	if end > total {
		end = total
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(tokens[start:end], params, total))
}

func (h *PATHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	tokenID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid token id")
		return
	}

	if err := h.store.Revoke(r.Context(), id.AccountID, tokenID); err != nil {
		httpserver.RespondErr(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
