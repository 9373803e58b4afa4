package hub

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/identifier"
	"github.com/vaultmesh/datahub/internal/invocation"
	"github.com/vaultmesh/datahub/internal/store"
)

// handleInsertDocument implements POST /data-hubs/:hubId/documents (§6).
func (h *Handler) handleInsertDocument(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")

	if _, err := h.authorize(r.Context(), r, hubID, "documents", invocation.ActionWrite); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	var doc store.Document
	if !httpserver.DecodeAndValidate(w, r, &doc) {
		return
	}
	if err := identifier.Validate(doc.ID); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	rec, err := h.Store.InsertDocument(r.Context(), hubID, doc)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	w.Header().Set("Location", h.hubURL(hubID, fmt.Sprintf("documents/%s", doc.ID)))
	httpserver.Respond(w, http.StatusCreated, rec)
}

// handleUpdateDocument implements POST /data-hubs/:hubId/documents/:docId (§6).
func (h *Handler) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	suffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, suffix, invocation.ActionWrite); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	var doc store.Document
	if !httpserver.DecodeAndValidate(w, r, &doc) {
		return
	}
	if doc.ID != docID {
		httpserver.RespondErr(w, h.Logger, apperr.Data("body id %q does not match path document id %q", doc.ID, docID))
		return
	}

	if err := h.Store.UpdateDocument(r.Context(), hubID, doc); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDocument implements GET /data-hubs/:hubId/documents/:docId (§6).
func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	suffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, suffix, invocation.ActionRead); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	rec, err := h.Store.GetDocument(r.Context(), hubID, docID)
	if err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}

// handleRemoveDocument implements DELETE /data-hubs/:hubId/documents/:docId (§6).
func (h *Handler) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	hubID := chi.URLParam(r, "hubId")
	docID := chi.URLParam(r, "docId")
	suffix := fmt.Sprintf("documents/%s", docID)

	if _, err := h.authorize(r.Context(), r, hubID, suffix, invocation.ActionWrite); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}

	if _, err := h.Store.GetDocument(r.Context(), hubID, docID); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	if err := h.Store.RemoveDocument(r.Context(), hubID, docID); err != nil {
		httpserver.RespondErr(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
