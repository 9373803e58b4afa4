package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token   string  `json:"token"`
	Account Summary `json:"account"`
}

// Summary is the public account information returned in auth responses.
type Summary struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// AuthConfigResponse tells a client which auth methods are available.
type AuthConfigResponse struct {
	OIDCEnabled  bool `json:"oidc_enabled"`
	LocalEnabled bool `json:"local_enabled"`
}

// LoginHandler handles local email/password login and auth discovery.
type LoginHandler struct {
	sessionMgr  *SessionManager
	accounts    *Store
	limiter     *RateLimiter
	logger      *slog.Logger
	oidcEnabled bool
}

// NewLoginHandler creates a login handler. limiter may be nil to disable
// rate limiting (e.g. in tests).
func NewLoginHandler(sm *SessionManager, accounts *Store, limiter *RateLimiter, logger *slog.Logger, oidcEnabled bool) *LoginHandler {
	return &LoginHandler{
		sessionMgr:  sm,
		accounts:    accounts,
		limiter:     limiter,
		logger:      logger,
		oidcEnabled: oidcEnabled,
	}
}

// HandleLogin authenticates an account with email/password and returns a
// session JWT.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.limiter != nil {
		result, err := h.limiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login: rate limit check failed", "error", err)
		} else if !result.Allowed {
			respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts, try again later")
			return
		}
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	acct, err := h.accounts.GetByEmail(r.Context(), req.Email)
	if err != nil || acct.PasswordHash == nil {
		h.recordFailure(r.Context(), ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*acct.PasswordHash), []byte(req.Password)); err != nil {
		h.recordFailure(r.Context(), ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if h.limiter != nil {
		_ = h.limiter.Reset(r.Context(), ip)
	}

	token, err := h.sessionMgr.IssueToken(SessionClaims{
		AccountID:   acct.ID.String(),
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		Method:      "local",
	})
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		Account: Summary{
			ID:          acct.ID.String(),
			Email:       acct.Email,
			DisplayName: acct.DisplayName,
		},
	})
}

func (h *LoginHandler) recordFailure(ctx context.Context, ip string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Record(ctx, ip); err != nil {
		h.logger.Error("login: recording rate limit failure", "error", err)
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host
}

// HandleAuthConfig returns the available authentication methods.
func (h *LoginHandler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, AuthConfigResponse{
		OIDCEnabled:  h.oidcEnabled,
		LocalEnabled: true,
	})
}

// HandleMe returns the current session's account info.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	respondJSON(w, http.StatusOK, Summary{
		ID:          id.AccountID.String(),
		Email:       id.Email,
		DisplayName: id.DisplayName,
	})
}

// HandleLogout is a no-op endpoint; session JWTs are stateless and simply
// expire client-side. Kept as a stable interface for future server-side
// session revocation.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
