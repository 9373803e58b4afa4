// Package invocation implements the capability invocation verifier (C5):
// parsing the HTTP Signature header, resolving the signing key via
// did:key, validating the signature and capability-invocation proof, and
// returning the invoking identity. Every failure mode collapses to a
// single NotAllowedError so the wire never distinguishes "no capability"
// from "bad signature" from "wrong target" (§4.5).
package invocation

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"strings"
	"time"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/store"
)

// Action is the capability action a request declares: read or write.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Result is the outcome of a successful verification.
type Result struct {
	Invoker string
}

// ConfigGetter is the slice of *store.Store the verifier needs to
// materialize a root capability.
type ConfigGetter interface {
	GetConfig(ctx context.Context, id string) (store.ConfigRecord, error)
}

// DelegationGetter is the slice of *capability.DelegationStore the
// verifier needs to resolve a non-root capability.
type DelegationGetter interface {
	Get(ctx context.Context, hubID, id, invocationTarget string) (capability.ZCap, error)
}

// Verifier implements C5 against a config store, a delegated-capability
// store, and an optional replay guard.
type Verifier struct {
	Store       ConfigGetter
	Delegations DelegationGetter
	Replay      *ReplayGuard

	// Host is the server host the "host" covered field must equal.
	Host string
	// BaseURL is this server's externally visible base URL, used to
	// re-derive the zcaps suffix from expectedRootCapability.
	BaseURL string
	// ClockSkew bounds how far created/expires may drift from local time.
	ClockSkew time.Duration
	// NonceTTL bounds how long a (keyId, created) pair is remembered by
	// the replay guard; it should be at least the maximum allowed
	// created→expires window.
	NonceTTL time.Duration
}

// Verify runs the full protocol and returns the invoking identity, or a
// NotAllowedError on any failure.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, hubID, expectedTarget, expectedRootCapability string, action Action) (Result, error) {
	result, err := v.verify(ctx, r, hubID, expectedTarget, expectedRootCapability, action)
	if err != nil {
		if apperr.Is(err, apperr.KindNotAllowed) {
			return Result{}, err
		}
		return Result{}, apperr.NotAllowed(err.Error())
	}
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, r *http.Request, hubID, expectedTarget, expectedRootCapability string, action Action) (Result, error) {
	raw := r.Header.Get("Signature")
	if raw == "" {
		return Result{}, apperr.NotAllowed("request has no Signature header")
	}

	sig, err := ParseSignatureHeader(raw)
	if err != nil {
		return Result{}, err
	}

	hasBody := r.ContentLength > 0
	if err := RequireCoveredFields(sig, hasBody); err != nil {
		return Result{}, err
	}

	host := r.Header.Get("host")
	if host == "" {
		host = r.Host
	}
	if !strings.EqualFold(host, v.Host) {
		return Result{}, apperr.NotAllowed("host does not match")
	}

	key, err := ResolveKeyID(sig.KeyID)
	if err != nil {
		return Result{}, err
	}

	signingString, err := CanonicalSigningString(r, sig)
	if err != nil {
		return Result{}, err
	}
	if !ed25519.Verify(key.PublicKey, []byte(signingString), sig.Signature) {
		return Result{}, apperr.NotAllowed("signature does not verify")
	}

	if err := v.checkTimestamps(sig); err != nil {
		return Result{}, err
	}

	if v.Replay != nil {
		if err := v.Replay.Check(ctx, sig.KeyID, sig.Created, v.NonceTTL); err != nil {
			return Result{}, err
		}
	}

	declaredAction := Action(r.Header.Get("authorization-capability-action"))
	if declaredAction != action {
		return Result{}, apperr.NotAllowed("capability action does not match")
	}

	declaredCapability := r.Header.Get("authorization-capability")
	cap, err := v.resolveCapability(ctx, hubID, expectedTarget, expectedRootCapability, declaredCapability)
	if err != nil {
		return Result{}, err
	}
	if cap.InvocationTarget != expectedTarget {
		return Result{}, apperr.NotAllowed("capability invocation target does not match")
	}

	if !invokerAuthorized(cap, key.Controller, sig.KeyID) {
		return Result{}, apperr.NotAllowed("key is not an authorized invoker of this capability")
	}

	invoker := key.Controller
	if invoker == "" {
		invoker = sig.KeyID
	}
	return Result{Invoker: invoker}, nil
}

func (v *Verifier) checkTimestamps(sig SignatureHeader) error {
	if sig.Created == 0 || sig.Expires == 0 {
		return apperr.NotAllowed("signature missing created/expires")
	}
	if sig.Expires <= sig.Created {
		return apperr.NotAllowed("signature expires before it was created")
	}
	now := time.Now().Unix()
	skew := int64(v.ClockSkew.Seconds())
	if sig.Created > now+skew {
		return apperr.NotAllowed("signature created in the future")
	}
	if sig.Expires < now-skew {
		return apperr.NotAllowed("signature has expired")
	}
	return nil
}

// resolveCapability determines the invoked capability (§4.5 step 5): the
// materialized root capability if the declared id matches
// expectedRootCapability, otherwise a lookup in the delegated store keyed
// by (id, invocationTarget=expectedTarget).
func (v *Verifier) resolveCapability(ctx context.Context, hubID, expectedTarget, expectedRootCapability, declaredCapability string) (capability.ZCap, error) {
	if declaredCapability == expectedRootCapability {
		suffix, ok := strings.CutPrefix(expectedRootCapability, v.BaseURL+"/data-hubs/"+hubID+"/zcaps/")
		if !ok {
			return capability.ZCap{}, apperr.NotAllowed("root capability id has unexpected shape")
		}

		cfgRec, err := v.Store.GetConfig(ctx, hubID)
		if err != nil {
			return capability.ZCap{}, apperr.NotAllowed("hub config not found")
		}

		rootCap, err := capability.MaterializeRoot(v.BaseURL, hubID, cfgRec.Config, suffix)
		if err != nil || rootCap == nil {
			return capability.ZCap{}, apperr.NotAllowed("root capability could not be materialized")
		}
		return *rootCap, nil
	}

	if v.Delegations == nil {
		return capability.ZCap{}, apperr.NotAllowed("no delegated capability for this target")
	}
	return v.Delegations.Get(ctx, hubID, declaredCapability, expectedTarget)
}

func invokerAuthorized(cap capability.ZCap, controller, keyID string) bool {
	if controller != "" && controller == cap.Controller {
		return true
	}
	for _, inv := range cap.Invoker {
		if inv == controller || inv == keyID {
			return true
		}
	}
	return false
}
