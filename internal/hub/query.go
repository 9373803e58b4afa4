package hub

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/invocation"
	"github.com/vaultmesh/datahub/internal/query"
)

// handleQuery implements POST /data-hubs/:hubId/query (§6, C3).
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	if _, err := h.authorize(r.Context(), r, hubID, "query", invocation.ActionRead); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	var q query.Query
	if !httpserver.DecodeAndValidate(w, r, &q) {
		return
	}

	recs, err := h.Planner.Find(r.Context(), hubID, q)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, recs)
}
