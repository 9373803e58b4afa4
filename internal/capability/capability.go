// Package capability materializes root zCaps on demand (C4) and stores
// delegated capabilities proved against them. Root capabilities are never
// persisted: MaterializeRoot is a pure function of the hub config and the
// requested suffix.
package capability

import (
	"fmt"
	"strings"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/identifier"
	"github.com/vaultmesh/datahub/internal/store"
)

// SecurityContext is the fixed JSON-LD context value used on every
// materialized capability document.
const SecurityContext = "https://w3id.org/security/v2"

// ZCap is a capability document as returned from root materialization or
// stored as a delegated grant.
type ZCap struct {
	Context          string   `json:"@context"`
	ID               string   `json:"id"`
	InvocationTarget string   `json:"invocationTarget"`
	Controller       string   `json:"controller"`
	Invoker          []string `json:"invoker,omitempty"`
	Delegator        []string `json:"delegator,omitempty"`
	ParentCapability string   `json:"parentCapability,omitempty"`
	Proof            any      `json:"proof,omitempty"`
}

// supportedSuffixes are the literal, non-parameterized root-zcap suffixes.
var supportedSuffixes = map[string]struct{}{
	"documents":      {},
	"query":          {},
	"authorizations": {},
}

// MaterializeRoot returns the root capability for <baseURL>/data-hubs/<hubID>/zcaps/<suffix>,
// or nil if suffix does not name a supported invocation target (§4.4). For
// suffix of the form "documents/<docId>", docId must be a valid identifier.
func MaterializeRoot(baseURL, hubID string, cfg store.HubConfig, suffix string) (*ZCap, error) {
	invocationPath, ok := resolveSuffix(suffix)
	if !ok {
		return nil, nil
	}

	hubBase := fmt.Sprintf("%s/data-hubs/%s", strings.TrimRight(baseURL, "/"), hubID)
	return &ZCap{
		Context:          SecurityContext,
		ID:               fmt.Sprintf("%s/zcaps/%s", hubBase, suffix),
		InvocationTarget: fmt.Sprintf("%s/%s", hubBase, invocationPath),
		Controller:       cfg.Controller,
		Invoker:          cfg.Invoker,
		Delegator:        cfg.Delegator,
	}, nil
}

// resolveSuffix validates suffix against the supported set: the three bare
// names, or "documents/<docId>" with docId a valid 128-bit identifier.
func resolveSuffix(suffix string) (string, bool) {
	if _, ok := supportedSuffixes[suffix]; ok {
		return suffix, true
	}

	const docPrefix = "documents/"
	if strings.HasPrefix(suffix, docPrefix) {
		docID := strings.TrimPrefix(suffix, docPrefix)
		if err := identifier.Validate(docID); err == nil {
			return suffix, true
		}
	}
	return "", false
}

// ExpectedTarget computes the invocationTarget a request is expected to
// invoke against, given the route it resolved to. C6 calls this once per
// request to feed C5.
func ExpectedTarget(baseURL, hubID, path string) string {
	return fmt.Sprintf("%s/data-hubs/%s/%s", strings.TrimRight(baseURL, "/"), hubID, strings.TrimPrefix(path, "/"))
}

// RequireRootDelegator returns an apperr.NotAllowed if actor is not among
// cfg.Delegator. Used by the delegated-capability store before allowing an
// insert or removal (§4.4).
func RequireRootDelegator(cfg store.HubConfig, actor string) error {
	for _, d := range cfg.Delegator {
		if d == actor {
			return nil
		}
	}
	return apperr.NotAllowed(fmt.Sprintf("actor %q is not a root delegator of hub %q", actor, cfg.ID))
}
