package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"entadmin.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticator verifies the bearer token once per request and attaches the principal.
// A request that already carries a principal passes straight through.
func Authenticator(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.PrincipalFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}
			payload, ok := tokens.VerifyAccessToken(token)
			if !ok {
				writeUnauthorized(w, r, "invalid token")
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), auth.PrincipalFromPayload(payload))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate is Authenticator bound to the API's token service.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return Authenticator(a.tokens)(next)
}

// RequireRole admits principals holding one of roles. It must run after Authenticate.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			switch err := principal.Authorize(roles...); {
			case errors.Is(err, auth.ErrUnauthenticated):
				writeUnauthorized(w, r, "authentication required")
			case errors.Is(err, auth.ErrForbidden):
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "insufficient role")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
