package hub

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/account"
	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/identifier"
	"github.com/vaultmesh/datahub/internal/store"
)

// createConfigRequest is the body of POST /data-hubs: a HubConfig without id
// or sequence, both of which the server assigns.
type createConfigRequest struct {
	Controller      string       `json:"controller" validate:"required"`
	Invoker         []string     `json:"invoker"`
	Delegator       []string     `json:"delegator"`
	ReferenceID     *string      `json:"referenceId"`
	KeyAgreementKey store.KeyRef `json:"keyAgreementKey" validate:"required"`
	HMAC            store.KeyRef `json:"hmac" validate:"required"`
}

// handleCreateConfig implements POST /data-hubs (§6, C7-bridged).
func (h *Handler) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	id := account.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := h.Bridge.Allow(r.Context(), *id, account.PermissionCreateHub, id.AccountID.String()); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	var req createConfigRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hubID, err := identifier.Generate()
	if err != nil {
		h.Logger.Error("generating hub id", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
		return
	}

	invoker := req.Invoker
	if len(invoker) == 0 {
		invoker = []string{req.Controller}
	}
	delegator := req.Delegator
	if len(delegator) == 0 {
		delegator = []string{req.Controller}
	}

	cfg := store.HubConfig{
		ID:              hubID,
		Sequence:        0,
		Controller:      req.Controller,
		Invoker:         invoker,
		Delegator:       delegator,
		ReferenceID:     req.ReferenceID,
		KeyAgreementKey: req.KeyAgreementKey,
		HMAC:            req.HMAC,
	}

	rec, err := h.Store.InsertConfig(r.Context(), cfg)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	w.Header().Set("Location", h.hubURL(hubID, ""))
	httpserver.Respond(w, http.StatusCreated, rec)
}

// handleFindConfig implements GET /data-hubs?controller=&referenceId= (§6).
func (h *Handler) handleFindConfig(w http.ResponseWriter, r *http.Request) {
	if account.FromContext(r.Context()) == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	controller := r.URL.Query().Get("controller")
	referenceID := r.URL.Query().Get("referenceId")
	if controller == "" || referenceID == "" {
		httpserver.RespondErr(w, h.Logger, apperr.Data("controller and referenceId query parameters are both required"))
		return
	}

	recs, err := h.Store.FindConfig(r.Context(), controller, referenceID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, recs)
}

// handleUpdateConfig implements POST /data-hubs/:hubId (§6).
func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if account.FromContext(r.Context()) == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	hubID := chi.URLParam(r, "hubId")

	var cfg store.HubConfig
	if !httpserver.DecodeAndValidate(w, r, &cfg) {
		return
	}
	if cfg.ID != hubID {
		httpserver.RespondErr(w, h.Logger, apperr.Data("body id %q does not match path hub id %q", cfg.ID, hubID))
		return
	}

	if err := h.Store.UpdateConfig(r.Context(), cfg); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetConfig implements GET /data-hubs/:hubId (§6).
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if account.FromContext(r.Context()) == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	hubID := chi.URLParam(r, "hubId")
	rec, err := h.Store.GetConfig(r.Context(), hubID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}
