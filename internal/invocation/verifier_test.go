package invocation

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/multiformats/go-multibase"

	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/store"
)

type fakeConfigGetter struct {
	rec store.ConfigRecord
	err error
}

func (f fakeConfigGetter) GetConfig(ctx context.Context, id string) (store.ConfigRecord, error) {
	return f.rec, f.err
}

type fakeDelegationGetter struct {
	cap capability.ZCap
	err error
}

func (f fakeDelegationGetter) Get(ctx context.Context, hubID, id, invocationTarget string) (capability.ZCap, error) {
	return f.cap, f.err
}

func newDIDKey(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	buf := append(append([]byte{}, ed25519MulticodecPrefix...), pub...)
	s, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return "did:key:" + s
}

type signedRequestOpts struct {
	method, target, host string
	keyID                string
	priv                 ed25519.PrivateKey
	created, expires     int64
	action, capabilityID string
	extraHeaders         map[string]string
	tamperSignature      bool
}

func buildSignedRequest(t *testing.T, o signedRequestOpts) *http.Request {
	t.Helper()
	r := httptest.NewRequest(o.method, o.target, nil)
	r.Host = o.host
	r.Header.Set("host", o.host)
	r.Header.Set("authorization-capability", o.capabilityID)
	r.Header.Set("authorization-capability-action", o.action)
	for k, v := range o.extraHeaders {
		r.Header.Set(k, v)
	}

	headersList := "(key-id) (created) (expires) (request-target) host authorization-capability authorization-capability-action"
	sig := SignatureHeader{
		KeyID:   o.keyID,
		Created: o.created,
		Expires: o.expires,
		Headers: strings.Fields(headersList),
	}
	signingString, err := CanonicalSigningString(r, sig)
	if err != nil {
		t.Fatalf("CanonicalSigningString: %v", err)
	}

	signature := ed25519.Sign(o.priv, []byte(signingString))
	if o.tamperSignature {
		signature[0] ^= 0xFF
	}

	header := fmt.Sprintf(
		`keyId="%s",algorithm="ed25519",created=%d,expires=%d,headers="%s",signature="%s"`,
		o.keyID, o.created, o.expires, headersList, base64.StdEncoding.EncodeToString(signature))
	r.Header.Set("Signature", header)
	return r
}

func TestVerifyRootCapabilitySuccess(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyID := newDIDKey(t, pub)

	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	const host = "hub.example"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)

	cfg := store.ConfigRecord{Config: store.HubConfig{
		ID:         hubID,
		Controller: "did:key:z6MkController",
		Invoker:    []string{keyID},
	}}

	v := &Verifier{
		Store:     fakeConfigGetter{rec: cfg},
		Host:      host,
		BaseURL:   baseURL,
		ClockSkew: 5 * time.Minute,
		NonceTTL:  time.Minute,
	}

	now := time.Now().Unix()
	r := buildSignedRequest(t, signedRequestOpts{
		method: http.MethodPost, target: target, host: host,
		keyID: keyID, priv: priv, created: now, expires: now + 60,
		action: "write", capabilityID: rootCapID,
	})

	result, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Invoker != keyID {
		t.Errorf("Invoker = %q, want %q", result.Invoker, keyID)
	}
}

func TestVerifyRejectsWrongAction(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	keyID := newDIDKey(t, pub)

	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	const host = "hub.example"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)

	cfg := store.ConfigRecord{Config: store.HubConfig{ID: hubID, Invoker: []string{keyID}}}
	v := &Verifier{Store: fakeConfigGetter{rec: cfg}, Host: host, BaseURL: baseURL, ClockSkew: 5 * time.Minute}

	now := time.Now().Unix()
	r := buildSignedRequest(t, signedRequestOpts{
		method: http.MethodPost, target: target, host: host,
		keyID: keyID, priv: priv, created: now, expires: now + 60,
		action: "read", capabilityID: rootCapID,
	})

	_, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("Verify error = %v, want not_allowed", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	keyID := newDIDKey(t, pub)

	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	const host = "hub.example"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)

	cfg := store.ConfigRecord{Config: store.HubConfig{ID: hubID, Invoker: []string{keyID}}}
	v := &Verifier{Store: fakeConfigGetter{rec: cfg}, Host: host, BaseURL: baseURL, ClockSkew: 5 * time.Minute}

	now := time.Now().Unix()
	r := buildSignedRequest(t, signedRequestOpts{
		method: http.MethodPost, target: target, host: host,
		keyID: keyID, priv: priv, created: now, expires: now + 60,
		action: "write", capabilityID: rootCapID, tamperSignature: true,
	})

	_, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("Verify error = %v, want not_allowed", err)
	}
}

func TestVerifyRejectsExpiredSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	keyID := newDIDKey(t, pub)

	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	const host = "hub.example"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)

	cfg := store.ConfigRecord{Config: store.HubConfig{ID: hubID, Invoker: []string{keyID}}}
	v := &Verifier{Store: fakeConfigGetter{rec: cfg}, Host: host, BaseURL: baseURL, ClockSkew: 5 * time.Second}

	now := time.Now().Unix()
	r := buildSignedRequest(t, signedRequestOpts{
		method: http.MethodPost, target: target, host: host,
		keyID: keyID, priv: priv, created: now - 120, expires: now - 60,
		action: "write", capabilityID: rootCapID,
	})

	_, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("Verify error = %v, want not_allowed", err)
	}
}

func TestVerifyDelegatedCapability(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	keyID := newDIDKey(t, pub)

	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	const host = "hub.example"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)
	delegatedID := baseURL + "/data-hubs/" + hubID + "/authorizations/z22222222222222222222222222"

	cfg := store.ConfigRecord{Config: store.HubConfig{ID: hubID}}
	delegated := capability.ZCap{
		ID:               delegatedID,
		InvocationTarget: target,
		Controller:       "did:key:z6MkSomeoneElse",
		Invoker:          []string{keyID},
	}

	v := &Verifier{
		Store:       fakeConfigGetter{rec: cfg},
		Delegations: fakeDelegationGetter{cap: delegated},
		Host:        host, BaseURL: baseURL, ClockSkew: 5 * time.Minute,
	}

	now := time.Now().Unix()
	r := buildSignedRequest(t, signedRequestOpts{
		method: http.MethodPost, target: target, host: host,
		keyID: keyID, priv: priv, created: now, expires: now + 60,
		action: "write", capabilityID: delegatedID,
	})

	result, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Invoker != keyID {
		t.Errorf("Invoker = %q, want %q", result.Invoker, keyID)
	}
}

func TestVerifyRejectsMissingSignatureHeader(t *testing.T) {
	const baseURL = "https://hub.example"
	const hubID = "z1111111111111111111111111"
	target := fmt.Sprintf("%s/data-hubs/%s/documents", baseURL, hubID)
	rootCapID := fmt.Sprintf("%s/data-hubs/%s/zcaps/documents", baseURL, hubID)

	v := &Verifier{Host: "hub.example", BaseURL: baseURL}
	r := httptest.NewRequest(http.MethodPost, target, nil)

	_, err := v.Verify(context.Background(), r, hubID, target, rootCapID, ActionWrite)
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("Verify error = %v, want not_allowed", err)
	}
}
