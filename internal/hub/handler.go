// Package hub is the service facade (C6): it binds HTTP routes to sequences
// of (C1 validate -> C5 authorize -> C2/C3 execute) and maps store/domain
// errors to HTTP status codes per §7. Hub lifecycle routes are
// session-authenticated (account plane, C7 permission bridge); every other
// route is capability-authenticated via an HTTP-signature invocation proof
// (C5).
package hub

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/vaultmesh/datahub/internal/account"
	"github.com/vaultmesh/datahub/internal/alerting"
	"github.com/vaultmesh/datahub/internal/audit"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/invocation"
	"github.com/vaultmesh/datahub/internal/query"
	"github.com/vaultmesh/datahub/internal/store"
)

// Handler wires C1-C5 together behind the routes in §6.
type Handler struct {
	Store       *store.Store
	Planner     *query.Planner
	Delegations *capability.DelegationStore
	Verifier    *invocation.Verifier
	Bridge      account.Bridge
	Alerts      *alerting.Notifier
	Audit       *audit.Writer
	Logger      *slog.Logger
	BaseURL     string
}

// New creates a Handler.
func New(s *store.Store, p *query.Planner, d *capability.DelegationStore, v *invocation.Verifier, bridge account.Bridge, alerts *alerting.Notifier, auditLog *audit.Writer, logger *slog.Logger, baseURL string) *Handler {
	return &Handler{
		Store:       s,
		Planner:     p,
		Delegations: d,
		Verifier:    v,
		Bridge:      bridge,
		Alerts:      alerts,
		Audit:       auditLog,
		Logger:      logger,
		BaseURL:     baseURL,
	}
}

// Routes mounts every §6 route onto r. sessionAuth wraps the hub-lifecycle
// routes with account authentication; capability-authenticated routes carry
// no middleware of their own since C5 is invoked per-handler (it needs the
// route-specific expectedTarget/action, which chi middleware can't see).
func (h *Handler) Routes(r chi.Router, sessionAuth func(chi.Router)) {
	r.Group(func(r chi.Router) {
		sessionAuth(r)
		r.Post("/data-hubs", h.handleCreateConfig)
		r.Get("/data-hubs", h.handleFindConfig)
		r.Post("/data-hubs/{hubId}", h.handleUpdateConfig)
		r.Get("/data-hubs/{hubId}", h.handleGetConfig)
	})

	r.Get("/data-hubs/{hubId}/zcaps/*", h.handleMaterializeZCap)

	r.Post("/data-hubs/{hubId}/documents", h.handleInsertDocument)
	r.Post("/data-hubs/{hubId}/documents/{docId}", h.handleUpdateDocument)
	r.Get("/data-hubs/{hubId}/documents/{docId}", h.handleGetDocument)
	r.Delete("/data-hubs/{hubId}/documents/{docId}", h.handleRemoveDocument)
	r.Post("/data-hubs/{hubId}/query", h.handleQuery)

	r.Post("/data-hubs/{hubId}/documents/{docId}/chunks/{chunkIndex}", h.handleUpdateChunk)
	r.Get("/data-hubs/{hubId}/documents/{docId}/chunks/{chunkIndex}", h.handleGetChunk)
	r.Delete("/data-hubs/{hubId}/documents/{docId}/chunks/{chunkIndex}", h.handleRemoveChunk)

	r.Post("/data-hubs/{hubId}/authorizations", h.handleInsertAuthorization)
	r.Get("/data-hubs/{hubId}/authorizations", h.handleListAuthorizations)
	r.Delete("/data-hubs/{hubId}/authorizations", h.handleRemoveAuthorization)
}
