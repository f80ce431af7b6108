package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"entadmin.org/internal/auth"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleOptions configures the Google strategy. Zero endpoint, issuer and key set
// select Google's production values.
type GoogleOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	Issuer       string
	KeySet       oidc.KeySet
	HTTPClient   *http.Client
}

// GoogleStrategy signs users in with Google and trusts the verified id_token claims.
type GoogleStrategy struct {
	config     oauth2.Config
	verifier   *oidc.IDTokenVerifier
	resolver   *auth.Resolver
	httpClient *http.Client
}

var _ Provider = (*GoogleStrategy)(nil)

func NewGoogleStrategy(ctx context.Context, opts GoogleOptions, resolver *auth.Resolver) (*GoogleStrategy, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("oauth: google client id and secret are required")
	}
	if resolver == nil {
		return nil, errors.New("oauth: resolver is required")
	}
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = endpoints.Google
	}
	issuer := opts.Issuer
	if issuer == "" {
		issuer = googleIssuer
	}
	keySet := opts.KeySet
	if keySet == nil {
		keyCtx := ctx
		if opts.HTTPClient != nil {
			keyCtx = oidc.ClientContext(ctx, opts.HTTPClient)
		}
		keySet = oidc.NewRemoteKeySet(keyCtx, googleJWKSURL)
	}
	return &GoogleStrategy{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier:   oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: opts.ClientID}),
		resolver:   resolver,
		httpClient: opts.HTTPClient,
	}, nil
}

func (g *GoogleStrategy) Kind() auth.StrategyKind { return auth.StrategyGoogle }

func (g *GoogleStrategy) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ResolveIdentity exchanges the code, verifies the id_token and maps it to a user.
func (g *GoogleStrategy) ResolveIdentity(ctx context.Context, creds auth.Credentials) (auth.User, error) {
	code, err := authorizationCode(creds)
	if err != nil {
		return auth.User{}, err
	}
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return auth.User{}, fmt.Errorf("%w: google code exchange: %w", auth.ErrUnauthenticated, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.User{}, fmt.Errorf("%w: no id_token field in oauth2 token", auth.ErrUnauthenticated)
	}
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.User{}, fmt.Errorf("%w: verify id_token: %w", auth.ErrUnauthenticated, err)
	}
	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return auth.User{}, fmt.Errorf("%w: decode id_token claims: %w", auth.ErrUnauthenticated, err)
	}

	profile := auth.FederatedProfile{
		Subject:   idToken.Subject,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
	}
	if claims.EmailVerified {
		profile.Email = strings.TrimSpace(claims.Email)
	}
	return g.resolver.ResolveFederated(ctx, string(auth.StrategyGoogle), profile)
}

func authorizationCode(creds auth.Credentials) (string, error) {
	ac, ok := creds.(auth.AuthorizationCode)
	if !ok {
		return "", fmt.Errorf("%w: expected an authorization code", auth.ErrInvalidInput)
	}
	code := strings.TrimSpace(ac.Code)
	if code == "" {
		return "", fmt.Errorf("%w: authorization code is empty", auth.ErrInvalidInput)
	}
	return code, nil
}
