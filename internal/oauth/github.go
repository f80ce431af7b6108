package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"entadmin.org/internal/auth"
)

const githubAPIBase = "https://api.github.com"

// GitHubOptions configures the GitHub strategy. Zero endpoint and API base select
// github.com.
type GitHubOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	APIBaseURL   string
	HTTPClient   *http.Client
}

// GitHubStrategy signs users in with GitHub and reads the profile from its REST API.
type GitHubStrategy struct {
	config     oauth2.Config
	apiBase    string
	resolver   *auth.Resolver
	httpClient *http.Client
}

var _ Provider = (*GitHubStrategy)(nil)

func NewGitHubStrategy(opts GitHubOptions, resolver *auth.Resolver) (*GitHubStrategy, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("oauth: github client id and secret are required")
	}
	if resolver == nil {
		return nil, errors.New("oauth: resolver is required")
	}
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = endpoints.GitHub
	}
	apiBase := strings.TrimRight(opts.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = githubAPIBase
	}
	return &GitHubStrategy{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBase:    apiBase,
		resolver:   resolver,
		httpClient: opts.HTTPClient,
	}, nil
}

func (g *GitHubStrategy) Kind() auth.StrategyKind { return auth.StrategyGitHub }

func (g *GitHubStrategy) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GitHubStrategy) ResolveIdentity(ctx context.Context, creds auth.Credentials) (auth.User, error) {
	code, err := authorizationCode(creds)
	if err != nil {
		return auth.User{}, err
	}
	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return auth.User{}, fmt.Errorf("%w: github code exchange: %w", auth.ErrUnauthenticated, err)
	}
	client := g.config.Client(ctx, token)

	var user githubUser
	if err := g.getJSON(ctx, client, "/user", &user); err != nil {
		return auth.User{}, err
	}
	if user.ID == 0 && user.Login == "" {
		return auth.User{}, fmt.Errorf("%w: github returned an empty profile", auth.ErrUpstream)
	}

	// Apps without the email permission get 403 here; fall through to the placeholder.
	var emails []githubEmail
	if err := g.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		var se *githubStatusError
		if !errors.As(err, &se) || (se.code != http.StatusForbidden && se.code != http.StatusNotFound) {
			return auth.User{}, err
		}
		emails = nil
	}

	profile := auth.FederatedProfile{
		Username:  user.Login,
		Email:     primaryVerifiedEmail(emails),
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if user.ID != 0 {
		profile.Subject = strconv.FormatInt(user.ID, 10)
	}
	return g.resolver.ResolveFederated(ctx, string(auth.StrategyGitHub), profile)
}

func (g *GitHubStrategy) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: github %s: %w", auth.ErrUpstream, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: github %s: %w", auth.ErrUpstream, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &githubStatusError{path: path, code: resp.StatusCode}
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: github %s: decode: %w", auth.ErrUpstream, path, err)
	}
	return nil
}

func primaryVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.TrimSpace(e.Email)
		}
	}
	return ""
}

type githubStatusError struct {
	path string
	code int
}

func (e *githubStatusError) Error() string {
	return fmt.Sprintf("%s: github %s: status %d", auth.ErrUpstream, e.path, e.code)
}

func (e *githubStatusError) Unwrap() error { return auth.ErrUpstream }
