package hub

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/invocation"
	"github.com/vaultmesh/datahub/internal/store"
)

// chunks are owned by their parent document, not the hub directly: there is
// no root-zcap suffix for chunk paths (§4.4 lists only documents, query,
// authorizations, and documents/<docId>), so chunk operations authorize
// against the parent document's invocation target.

func (h *Handler) chunkIndex(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := chi.URLParam(r, "chunkIndex")
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		httpserver.RespondErr(w, h.Logger, apperr.Data("chunk index %q must be a non-negative integer", raw))
		return 0, false
	}
	return int32(n), true
}

// handleUpdateChunk implements POST /data-hubs/:hubId/documents/:docId/chunks/:chunkIndex (§6).
func (h *Handler) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	docSuffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, docSuffix, invocation.ActionWrite); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	index, ok := h.chunkIndex(w, r)
	if !ok {
		return
	}

	var chunk store.Chunk
	if !httpserver.DecodeAndValidate(w, r, &chunk) {
		return
	}
	if chunk.Index != index {
		httpserver.RespondErr(w, h.Logger, apperr.Data("body index %d does not match path chunk index %d", chunk.Index, index))
		return
	}
	if chunk.Offset < 0 {
		httpserver.RespondErr(w, h.Logger, apperr.Data("chunk offset %d must be non-negative", chunk.Offset))
		return
	}
	chunk.DataHubID = hubID
	chunk.DocID = docID

	if err := h.Store.UpdateChunk(r.Context(), chunk); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetChunk implements GET /data-hubs/:hubId/documents/:docId/chunks/:chunkIndex (§6).
func (h *Handler) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	docSuffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, docSuffix, invocation.ActionRead); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	index, ok := h.chunkIndex(w, r)
	if !ok {
		return
	}

	rec, err := h.Store.GetChunk(r.Context(), hubID, docID, index)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}

// handleRemoveChunk implements DELETE /data-hubs/:hubId/documents/:docId/chunks/:chunkIndex (§6).
// It deliberately does not validate that the parent document still exists
// (Open Question (b), resolved to match source behavior exactly).
func (h *Handler) handleRemoveChunk(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	docSuffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, docSuffix, invocation.ActionWrite); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	index, ok := h.chunkIndex(w, r)
	if !ok {
		return
	}

	if err := h.Store.RemoveChunk(r.Context(), hubID, docID, index); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
