package hub

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/httpserver"
)

// handleMaterializeZCap implements GET /data-hubs/:hubId/zcaps/*path (§6,
// C4). The root capability is computed fresh on every request; it is never
// looked up in storage.
func (h *Handler) handleMaterializeZCap(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	suffix := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	rec, err := h.Store.GetConfig(r.Context(), hubID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	zcap, err := capability.MaterializeRoot(h.BaseURL, hubID, rec.Config, suffix)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	if zcap == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no root capability for this invocation target")
		return
	}
	httpserver.Respond(w, http.StatusOK, zcap)
}
