package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"entadmin.org/internal/audit"
	"entadmin.org/internal/auth"
	"entadmin.org/internal/oauth"
	"entadmin.org/internal/obs"
)

const stateCookie = "oauth_state"

var errStateMismatch = errors.New("oauth state does not match the browser session")

// provider returns the configured strategy for the route's provider segment, or nil.
func (a *API) provider(r *http.Request) oauth.Provider {
	switch auth.StrategyKind(r.PathValue("provider")) {
	case auth.StrategyGoogle:
		if a.providers.Google != nil {
			return a.providers.Google
		}
	case auth.StrategyGitHub:
		if a.providers.GitHub != nil {
			return a.providers.GitHub
		}
	}
	return nil
}

func (a *API) handleOAuthBegin(w http.ResponseWriter, r *http.Request) {
	p := a.provider(r)
	if p == nil {
		writeError(w, r, http.StatusNotFound, "provider not enabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	state, csrf, err := a.states.Issue()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    csrf,
		Path:     "/api/auth",
		MaxAge:   int(oauth.StateTTL / time.Second),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	p := a.provider(r)
	if p == nil {
		writeError(w, r, http.StatusNotFound, "provider not enabled")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	flow := "oauth_" + string(p.Kind())
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})

	user, err := a.completeOAuth(r, p)
	if err != nil {
		obs.AuthAttempt(flow, outcome(err))
		obs.Warn("oauth_callback_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"provider":   string(p.Kind()),
			"error":      err,
		})
		http.Redirect(w, r, a.frontendURL+"/login?error=oauth_failed", http.StatusFound)
		return
	}
	token, _, err := a.tokens.IssueAccessToken(payloadFor(user))
	if err != nil {
		obs.AuthAttempt(flow, "error")
		http.Redirect(w, r, a.frontendURL+"/login?error=oauth_failed", http.StatusFound)
		return
	}
	obs.AuthAttempt(flow, "success")
	_ = audit.LogEvent(r.Context(), "auth.oauth.login", map[string]any{
		"user_id":  user.ID,
		"provider": string(p.Kind()),
	})
	http.Redirect(w, r, a.frontendURL+"?token="+url.QueryEscape(token), http.StatusFound)
}

// completeOAuth checks the state round trip and resolves the provider identity.
func (a *API) completeOAuth(r *http.Request, p oauth.Provider) (auth.User, error) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		return auth.User{}, errors.New("provider returned error: " + providerErr)
	}
	st, err := a.states.Verify(q.Get("state"))
	if err != nil {
		return auth.User{}, err
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(st.CSRF)) != 1 {
		return auth.User{}, errStateMismatch
	}
	ttl := time.Until(time.Unix(st.ExpiresAt, 0))
	if ttl <= 0 {
		return auth.User{}, oauth.ErrStateExpired
	}
	fresh, err := a.nonces.Consume(r.Context(), st.CSRF, ttl)
	if err != nil {
		return auth.User{}, err
	}
	if !fresh {
		return auth.User{}, errors.New("oauth state already used")
	}
	return p.ResolveIdentity(r.Context(), auth.AuthorizationCode{Code: strings.TrimSpace(q.Get("code"))})
}
