// Package oauth implements the federated sign-in strategies and the state handling
// around the provider redirect.
package oauth

import (
	"context"
	"fmt"
	"strings"

	"entadmin.org/internal/auth"
)

// Provider is a strategy that starts with a browser redirect.
type Provider interface {
	auth.Strategy
	AuthCodeURL(state string) string
}

// Client is one provider's registered application.
type Client struct {
	ClientID     string
	ClientSecret string
}

func (c Client) enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// Config lists the credentials of every supported provider.
type Config struct {
	PublicURL string
	Google    Client
	GitHub    Client
}

// Providers is the set of federated strategies enabled at startup. A nil field
// means the provider is not configured.
type Providers struct {
	Google *GoogleStrategy
	GitHub *GitHubStrategy
}

// NewProviders builds a strategy for every provider with complete credentials.
func NewProviders(ctx context.Context, cfg Config, resolver *auth.Resolver) (Providers, error) {
	var (
		p   Providers
		err error
	)
	base := strings.TrimRight(cfg.PublicURL, "/")
	if cfg.Google.enabled() {
		p.Google, err = NewGoogleStrategy(ctx, GoogleOptions{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  base + "/api/auth/google/callback",
		}, resolver)
		if err != nil {
			return Providers{}, fmt.Errorf("google: %w", err)
		}
	}
	if cfg.GitHub.enabled() {
		p.GitHub, err = NewGitHubStrategy(GitHubOptions{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  base + "/api/auth/github/callback",
		}, resolver)
		if err != nil {
			return Providers{}, fmt.Errorf("github: %w", err)
		}
	}
	return p, nil
}

// Enabled lists the configured providers in a stable order.
func (p Providers) Enabled() []auth.StrategyKind {
	kinds := []auth.StrategyKind{}
	if p.Google != nil {
		kinds = append(kinds, auth.StrategyGoogle)
	}
	if p.GitHub != nil {
		kinds = append(kinds, auth.StrategyGitHub)
	}
	return kinds
}

// Any reports whether at least one provider is enabled.
func (p Providers) Any() bool { return p.Google != nil || p.GitHub != nil }
