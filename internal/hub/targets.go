package hub

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/invocation"
)

// authorize runs C5 for a capability-authenticated route. suffix is the
// invocation-target path below the hub base (e.g. "documents",
// "documents/<docId>", "query", "authorizations") — the same string C4 uses
// to materialize the matching root zCap.
func (h *Handler) authorize(ctx context.Context, r *http.Request, hubID, suffix string, action invocation.Action) (invocation.Result, error) {
	expectedTarget := capability.ExpectedTarget(h.BaseURL, hubID, suffix)
	expectedRootCapability := fmt.Sprintf("%s/data-hubs/%s/zcaps/%s", strings.TrimRight(h.BaseURL, "/"), hubID, suffix)

	result, err := h.Verifier.Verify(ctx, r, hubID, expectedTarget, expectedRootCapability, action)
	outcome := "allowed"
	if err != nil {
		outcome = "rejected"
		if h.Alerts != nil {
			h.Alerts.RecordFailure(hubID)
		}
	}
	if h.Audit != nil {
		h.Audit.LogInvocation(r, hubID, suffix, string(action), result.Invoker, outcome)
	}
	return result, err
}

// hubURL builds the externally-visible URL for a hub resource.
func (h *Handler) hubURL(hubID, suffix string) string {
	return fmt.Sprintf("%s/data-hubs/%s/%s", strings.TrimRight(h.BaseURL, "/"), hubID, suffix)
}
