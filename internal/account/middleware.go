package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// MethodSession indicates authentication via self-issued session JWT.
const MethodSession = "session"

// MethodOIDC indicates authentication via an external OIDC provider.
const MethodOIDC = "oidc"

// Identity is the authenticated account attached to the request context by
// Middleware. It answers "who is calling", not "what may they do" — the
// permission bridge (C7) answers the latter per-operation.
type Identity struct {
	AccountID   uuid.UUID
	Email       string
	DisplayName string
	Method      string
}

type contextKey string

const identityKey contextKey = "account_identity"

// NewContext returns a context carrying the given identity.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the authenticated identity, or nil if unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Middleware authenticates the caller via personal access token, session
// JWT, or OIDC bearer token and stores the resulting Identity in the request
// context. oidcAuth may be nil when OIDC login is not configured.
//
// Precedence, all via the Authorization: Bearer <token> header:
//  1. dhub_pat_ prefix  → personal access token
//  2. otherwise         → session JWT (HMAC), falling back to OIDC
func Middleware(sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, pats *PATStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") && !strings.HasPrefix(authHeader, "bearer ") {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			rawToken := strings.TrimSpace(authHeader[len("Bearer "):])

			var identity *Identity

			if strings.HasPrefix(rawToken, PATPrefix) && pats != nil {
				result, err := pats.Authenticate(r.Context(), rawToken)
				if err != nil {
					logger.Warn("PAT authentication failed", "error", err)
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid personal access token")
					return
				}
				identity = &Identity{
					AccountID:   result.AccountID,
					Email:       result.Email,
					DisplayName: result.DisplayName,
					Method:      MethodPAT,
				}
			}

			if identity == nil && sessionMgr != nil {
				if claims, err := sessionMgr.ValidateToken(rawToken); err == nil {
					accountID, _ := uuid.Parse(claims.AccountID)
					identity = &Identity{
						AccountID:   accountID,
						Email:       claims.Email,
						DisplayName: claims.DisplayName,
						Method:      MethodSession,
					}
				}
			}

			if identity == nil {
				if oidcAuth == nil {
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				claims, err := oidcAuth.Authenticate(r.Context(), authHeader)
				if err != nil {
					logger.Warn("OIDC authentication failed", "error", err)
					respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
					return
				}
				identity = &Identity{
					Email:       claims.Email,
					DisplayName: claims.DisplayName,
					Method:      MethodOIDC,
				}
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
