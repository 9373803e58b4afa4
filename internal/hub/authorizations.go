package hub

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/invocation"
)

// handleInsertAuthorization implements POST /data-hubs/:hubId/authorizations
// (§6, C4). The caller must be a root delegator of the hub; Insert enforces
// this against the live hub config.
func (h *Handler) handleInsertAuthorization(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	result, err := h.authorize(r.Context(), r, hubID, "authorizations", invocation.ActionWrite)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	var zcap capability.ZCap
	if !httpserver.DecodeAndValidate(w, r, &zcap) {
		return
	}

	rec, err := h.Store.GetConfig(r.Context(), hubID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	if err := h.Delegations.Insert(r.Context(), hubID, rec.Config, result.Invoker, zcap); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	w.Header().Set("Location", h.hubURL(hubID, "authorizations/"+zcap.ID))
	httpserver.Respond(w, http.StatusCreated, zcap)
}

// handleListAuthorizations implements GET /data-hubs/:hubId/authorizations?id=
// (§6). With id set it returns the single matching capability; otherwise it
// lists every delegated capability held by the caller.
func (h *Handler) handleListAuthorizations(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	result, err := h.authorize(r.Context(), r, hubID, "authorizations", invocation.ActionRead)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		zcap, err := h.Delegations.FindByID(r.Context(), hubID, id)
		if err != nil {
			httpserver.RespondErr(w, h.Logger, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, zcap)
		return
	}

	zcaps, err := h.Delegations.List(r.Context(), hubID, result.Invoker)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, zcaps)
}

// handleRemoveAuthorization implements DELETE /data-hubs/:hubId/authorizations?id=
// (§6). Root delegators only.
func (h *Handler) handleRemoveAuthorization(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	result, err := h.authorize(r.Context(), r, hubID, "authorizations", invocation.ActionWrite)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		httpserver.RespondErr(w, h.Logger, apperr.Data("id query parameter is required"))
		return
	}

	rec, err := h.Store.GetConfig(r.Context(), hubID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	if err := h.Delegations.Remove(r.Context(), hubID, rec.Config, result.Invoker, id); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
