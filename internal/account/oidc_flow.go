package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const oidcStateTTL = 10 * time.Minute

// OIDCFlowHandler handles the OAuth2 authorization-code flow for browser
// login, as distinct from OIDCAuthenticator which only verifies a bearer ID
// token already held by a caller (§4.7, the account plane's OIDC path).
type OIDCFlowHandler struct {
	oauth2Cfg  *oauth2.Config
	oidcAuth   *OIDCAuthenticator
	sessionMgr *SessionManager
	accounts   *Store
	redis      *redis.Client
	logger     *slog.Logger
}

// NewOIDCFlowHandler creates a handler for the full OIDC authorization-code
// flow. clientSecret and redirectURL come from OIDC_CLIENT_SECRET /
// OIDC_REDIRECT_URL.
func NewOIDCFlowHandler(oidcAuth *OIDCAuthenticator, clientID, clientSecret, redirectURL string, sm *SessionManager, accounts *Store, rdb *redis.Client, logger *slog.Logger) *OIDCFlowHandler {
	return &OIDCFlowHandler{
		oauth2Cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     oidcAuth.Provider.Endpoint(),
			Scopes:       []string{"openid", "email", "profile"},
		},
		oidcAuth:   oidcAuth,
		sessionMgr: sm,
		accounts:   accounts,
		redis:      rdb,
		logger:     logger,
	}
}

// HandleLogin redirects the browser to the identity provider.
func (h *OIDCFlowHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal_error", "failed to generate state")
		return
	}

	if err := h.redis.Set(r.Context(), "oidc_state:"+state, "1", oidcStateTTL).Err(); err != nil {
		h.logger.Error("oidc: storing state", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal_error", "failed to store state")
		return
	}

	http.Redirect(w, r, h.oauth2Cfg.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback exchanges the authorization code for tokens, resolves or
// creates the matching account by email, and issues a session JWT.
func (h *OIDCFlowHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	if state == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "missing state parameter")
		return
	}
	if result, err := h.redis.GetDel(ctx, "oidc_state:"+state).Result(); err != nil || result == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid or expired state")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oidc: provider returned error", "error", errParam, "description", r.URL.Query().Get("error_description"))
		respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "missing code parameter")
		return
	}

	token, err := h.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("oidc: code exchange failed", "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "code exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "no id_token in token response")
		return
	}

	claims, err := h.oidcAuth.Authenticate(ctx, "Bearer "+rawIDToken)
	if err != nil {
		h.logger.Error("oidc: id_token verification failed", "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid id_token")
		return
	}

	acc, err := h.findOrCreateAccount(ctx, claims)
	if err != nil {
		h.logger.Error("oidc: resolving account", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal_error", "failed to resolve account")
		return
	}

	sessionToken, err := h.sessionMgr.IssueToken(SessionClaims{
		AccountID:   acc.ID.String(),
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		Method:      MethodOIDC,
	})
	if err != nil {
		h.logger.Error("oidc: issuing session token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal_error", "failed to issue session")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s?token=%s", h.oauth2Cfg.RedirectURL, sessionToken), http.StatusFound)
}

// findOrCreateAccount resolves an OIDC claimant to an account row, creating
// one on first login. Accounts are matched by email since this service has
// no separate external-subject column.
func (h *OIDCFlowHandler) findOrCreateAccount(ctx context.Context, claims *OIDCClaims) (Account, error) {
	acc, err := h.accounts.GetByEmail(ctx, claims.Email)
	if err == nil {
		return acc, nil
	}

	displayName := claims.DisplayName
	if displayName == "" {
		displayName = claims.Email
	}
	acc, err = h.accounts.Create(ctx, claims.Email, displayName, nil)
	if err != nil {
		return Account{}, fmt.Errorf("creating account for %s: %w", claims.Email, err)
	}
	h.logger.Info("oidc: created account on first login", "account_id", acc.ID, "email", acc.Email)
	return acc, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
