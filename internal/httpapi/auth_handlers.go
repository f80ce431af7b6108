package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"entadmin.org/internal/audit"
	"entadmin.org/internal/auth"
	"entadmin.org/internal/obs"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	Message      string    `json:"message"`
	User         auth.User `json:"user"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.resolver.Register(r.Context(), auth.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		obs.AuthAttempt("register", outcome(err))
		if errors.Is(err, auth.ErrConflict) {
			writeError(w, r, http.StatusConflict, "User already exists")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.session(user, "User registered successfully")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs.AuthAttempt("register", "success")
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.local.ResolveIdentity(r.Context(), auth.PasswordCredentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		obs.AuthAttempt("login", outcome(err))
		if errors.Is(err, auth.ErrUnauthenticated) {
			_ = audit.LogEvent(r.Context(), "auth.login.failure", map[string]any{
				"strategy": string(a.local.Kind()),
			})
			writeUnauthorized(w, r, "Invalid credentials")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	resp, err := a.session(user, "Login successful")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs.AuthAttempt("login", "success")
	_ = audit.LogEvent(r.Context(), "auth.login.success", map[string]any{
		"user_id":  user.ID,
		"strategy": string(a.local.Kind()),
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh trades a refresh token for a new access token. The refresh token is
// not rotated and stays valid until it expires.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	payload, ok := a.tokens.VerifyRefreshToken(req.RefreshToken)
	if !ok {
		obs.AuthAttempt("refresh", "unauthenticated")
		writeUnauthorized(w, r, "Invalid refresh token")
		return
	}
	user, err := a.resolver.FindUser(r.Context(), payload.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			obs.AuthAttempt("refresh", "unauthenticated")
			writeUnauthorized(w, r, "Invalid refresh token")
			return
		}
		obs.AuthAttempt("refresh", outcome(err))
		writeServiceError(w, r, err)
		return
	}
	token, _, err := a.tokens.IssueAccessToken(payloadFor(user))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	obs.AuthAttempt("refresh", "success")
	_ = audit.LogEvent(r.Context(), "auth.token.refresh", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Tokens are stateless; logging out is the client discarding them.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r, "authentication required")
		return
	}
	user, err := a.resolver.FindUser(r.Context(), principal.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "User not found")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": a.providers.Enabled()})
}

func (a *API) session(user auth.User, message string) (sessionResponse, error) {
	token, _, err := a.tokens.IssueAccessToken(payloadFor(user))
	if err != nil {
		return sessionResponse{}, err
	}
	refresh, _, err := a.tokens.IssueRefreshToken(auth.Payload{ID: user.ID})
	if err != nil {
		return sessionResponse{}, err
	}
	return sessionResponse{
		Message:      message,
		User:         user.Public(),
		Token:        token,
		RefreshToken: refresh,
	}, nil
}

func payloadFor(user auth.User) auth.Payload {
	return auth.Payload{ID: user.ID, Email: user.Email, Role: user.Role}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
