package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/catalog"
	"entadmin.org/internal/oauth"
	"entadmin.org/internal/obs"
)

const serviceName = "entadmin-api"

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the API to its collaborators. Tokens, Resolver and Products are
// required; the OAuth fields matter only when Providers has an enabled strategy.
type Options struct {
	Version     string
	Ready       readinessChecker
	Tokens      *auth.TokenService
	Resolver    *auth.Resolver
	Products    catalog.Store
	Providers   oauth.Providers
	States      *oauth.StateSigner
	Nonces      oauth.NonceStore
	FrontendURL string
	// SecureCookies marks the OAuth state cookie Secure. Enable behind TLS.
	SecureCookies bool
	RateBurst     int
	RatePerSec    float64

	// TrustedProxies may set X-Forwarded-For for rate limiting. Empty means none.
	TrustedProxies ProxyTrust
}

// API — HTTP слой.
type API struct {
	mux         *http.ServeMux
	ready       readinessChecker
	version     string
	tokens      *auth.TokenService
	resolver    *auth.Resolver
	local       *auth.LocalStrategy
	products    catalog.Store
	providers   oauth.Providers
	states      *oauth.StateSigner
	nonces      oauth.NonceStore
	frontendURL string
	secure      bool

	rateBurst  int
	ratePerSec float64
	proxies    ProxyTrust
}

func New(opts Options) (*API, error) {
	if opts.Tokens == nil || opts.Resolver == nil || opts.Products == nil {
		return nil, errors.New("httpapi: tokens, resolver and products are required")
	}
	if opts.Providers.Any() && (opts.States == nil || opts.Nonces == nil) {
		return nil, errors.New("httpapi: oauth providers need a state signer and nonce store")
	}
	ready := opts.Ready
	if ready == nil {
		ready = ReadyProbe{}
	}
	a := &API{
		mux:         http.NewServeMux(),
		ready:       ready,
		version:     opts.Version,
		tokens:      opts.Tokens,
		resolver:    opts.Resolver,
		local:       auth.NewLocalStrategy(opts.Resolver),
		products:    opts.Products,
		providers:   opts.Providers,
		states:      opts.States,
		nonces:      opts.Nonces,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		secure:      opts.SecureCookies,
		rateBurst:   opts.RateBurst,
		ratePerSec:  opts.RatePerSec,
		proxies:     opts.TrustedProxies,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}

	// health/ready/info
	a.mux.HandleFunc("/api/health", a.Healthz)
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/api/auth/", RateLimit(a.authRoutes(), a.rateBurst, a.ratePerSec, a.proxies))

	a.mux.HandleFunc("/api/products", a.handleProductsCollection)
	a.mux.HandleFunc("/api/products/{id}", a.handleProductResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a, nil
}

func (a *API) authRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", a.handleRegister)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/auth/refresh", a.handleRefresh)
	mux.HandleFunc("/api/auth/logout", a.handleLogout)
	mux.Handle("/api/auth/me", a.Authenticate(http.HandlerFunc(a.handleMe)))
	mux.HandleFunc("/api/auth/providers", a.handleProviders)
	mux.HandleFunc("/api/auth/{provider}", a.handleOAuthBegin)
	mux.HandleFunc("/api/auth/{provider}/callback", a.handleOAuthCallback)
	return mux
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	var h http.Handler = otelhttp.NewHandler(a.mux, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + obs.CanonicalPath(r.URL.Path)
		}),
	)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.frontendURL)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// Providers lists the OAuth providers this API serves.
func (a *API) Providers() []auth.StrategyKind { return a.providers.Enabled() }

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
