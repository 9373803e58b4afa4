package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultmesh/datahub/internal/account"
	"github.com/vaultmesh/datahub/internal/apperr"
	"github.com/vaultmesh/datahub/internal/capability"
	"github.com/vaultmesh/datahub/internal/httpserver"
	"github.com/vaultmesh/datahub/internal/query"
	"github.com/vaultmesh/datahub/internal/store"
)

// fakeBridge lets tests control the C7 permission decision without a real
// account store.
type fakeBridge struct {
	err error
}

func (b fakeBridge) Allow(ctx context.Context, actor account.Identity, permission, resourceSet string) error {
	return b.err
}

func newTestHandler(t *testing.T, bridge account.Bridge) *Handler {
	t.Helper()
	return New(nil, nil, nil, nil, bridge, nil, nil, slog.Default(), "https://hub.example")
}

func withIdentity(r *http.Request, id *account.Identity) *http.Request {
	return r.WithContext(account.NewContext(r.Context(), id))
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) httpserver.ErrorResponse {
	t.Helper()
	var resp httpserver.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleCreateConfigRequiresAuthentication(t *testing.T) {
	h := newTestHandler(t, fakeBridge{})
	r := httptest.NewRequest(http.MethodPost, "/data-hubs", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.handleCreateConfig(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleCreateConfigRejectedByBridge(t *testing.T) {
	h := newTestHandler(t, fakeBridge{err: apperr.PermissionDenied("account may not create hubs")})
	r := httptest.NewRequest(http.MethodPost, "/data-hubs", strings.NewReader(`{}`))
	r = withIdentity(r, &account.Identity{Method: account.MethodSession})
	rec := httptest.NewRecorder()

	h.handleCreateConfig(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if resp := decodeErrorResponse(t, rec); resp.Error != string(apperr.KindPermissionDenied) {
		t.Errorf("error kind = %q, want %q", resp.Error, apperr.KindPermissionDenied)
	}
}

func TestHandleCreateConfigRejectsInvalidBody(t *testing.T) {
	h := newTestHandler(t, fakeBridge{})
	r := httptest.NewRequest(http.MethodPost, "/data-hubs", strings.NewReader(`{}`))
	r = withIdentity(r, &account.Identity{Method: account.MethodSession})
	rec := httptest.NewRecorder()

	h.handleCreateConfig(rec, r)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d (missing required fields)", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleFindConfigRequiresAuthentication(t *testing.T) {
	h := newTestHandler(t, fakeBridge{})
	r := httptest.NewRequest(http.MethodGet, "/data-hubs?controller=did:key:z6MkController&referenceId=ref-1", nil)
	rec := httptest.NewRecorder()

	h.handleFindConfig(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleFindConfigRequiresBothQueryParams(t *testing.T) {
	h := newTestHandler(t, fakeBridge{})
	r := httptest.NewRequest(http.MethodGet, "/data-hubs?controller=did:key:z6MkController", nil)
	r = withIdentity(r, &account.Identity{Method: account.MethodSession})
	rec := httptest.NewRecorder()

	h.handleFindConfig(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, rec); resp.Error != string(apperr.KindData) {
		t.Errorf("error kind = %q, want %q", resp.Error, apperr.KindData)
	}
}

func TestHandleUpdateConfigRejectsMismatchedID(t *testing.T) {
	h := newTestHandler(t, fakeBridge{})
	body := `{"id":"z2222222222222222222222222","sequence":1,"controller":"did:key:z6MkController"}`
	r := httptest.NewRequest(http.MethodPost, "/data-hubs/z1111111111111111111111111", strings.NewReader(body))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("hubId", "z1111111111111111111111111")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	r = withIdentity(r, &account.Identity{Method: account.MethodSession})

	rec := httptest.NewRecorder()
	h.handleUpdateConfig(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// --- integration: full create-hub flow against a real store ---

func newIntegrationHandler(t *testing.T) *Handler {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping hub integration test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE hub_configs CASCADE"); err != nil {
		t.Fatalf("truncating hub_configs: %v", err)
	}

	s := store.New(pool)
	planner := query.New(s)
	delegations := capability.NewDelegationStore(pool)

	return New(s, planner, delegations, nil, fakeBridge{}, nil, nil, slog.Default(), "https://hub.example")
}

func TestCreateAndGetConfigIntegration(t *testing.T) {
	h := newIntegrationHandler(t)

	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, withIdentity(r, &account.Identity{Method: account.MethodSession}))
			})
		})
		r.Post("/data-hubs", h.handleCreateConfig)
		r.Get("/data-hubs/{hubId}", h.handleGetConfig)
	})

	createBody := `{
		"controller": "did:key:z6MkController",
		"keyAgreementKey": {"id": "did:key:z6MkController#key-agreement", "type": "X25519KeyAgreementKey2020"},
		"hmac": {"id": "did:key:z6MkController#hmac", "type": "Sha256HmacKey2019"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/data-hubs", strings.NewReader(createBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created store.ConfigRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	if created.Config.ID == "" {
		t.Fatal("created config has no id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/data-hubs/"+created.Config.ID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", getRec.Code, getRec.Body.String())
	}

	var fetched store.ConfigRecord
	if err := json.Unmarshal(getRec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decoding get response: %v", err)
	}
	if fetched.Config.ID != created.Config.ID {
		t.Errorf("fetched id = %q, want %q", fetched.Config.ID, created.Config.ID)
	}
}
