// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the validated runtime configuration of the API.
type Config struct {
	AppEnv      string `env:"APP_ENV"      envDefault:"development"`
	Port        int    `env:"PORT"         envDefault:"5000"`
	GRPCPort    int    `env:"GRPC_PORT"    envDefault:"5001"`
	PublicURL   string `env:"PUBLIC_URL"   envDefault:"http://localhost:5000"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	DBDriver    string `env:"DB_DRIVER"    envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"entadmin.db"`

	JWTSecret          string   `env:"JWT_SECRET"`
	JWTExpiry          Lifetime `env:"JWT_EXPIRY"           envDefault:"7d"`
	RefreshTokenSecret string   `env:"REFRESH_TOKEN_SECRET"`
	BcryptCost         int      `env:"BCRYPT_COST"          envDefault:"10"`

	Google           OAuthClient `envPrefix:"GOOGLE_"`
	GitHub           OAuthClient `envPrefix:"GITHUB_"`
	OAuthStateSecret string      `env:"OAUTH_STATE_SECRET"`
	RedisURL         string      `env:"REDIS_URL"`

	RateLimitBurst  int     `env:"RATE_LIMIT_BURST"   envDefault:"20"`
	RateLimitPerSec float64 `env:"RATE_LIMIT_PER_SEC" envDefault:"5"`

	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Warnings lists non-fatal findings, such as a half-configured provider.
	Warnings []string
}

// OAuthClient is one provider's registered application.
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Enabled reports whether both halves of the credential pair are present.
func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c OAuthClient) partial() bool {
	return (c.ClientID == "") != (c.ClientSecret == "")
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	c.FrontendURL = strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	c.RefreshTokenSecret = strings.TrimSpace(c.RefreshTokenSecret)
	for _, p := range []*OAuthClient{&c.Google, &c.GitHub} {
		p.ClientID = strings.TrimSpace(p.ClientID)
		p.ClientSecret = strings.TrimSpace(p.ClientSecret)
	}
	c.Warnings = nil
	if c.Google.partial() {
		c.Warnings = append(c.Warnings, "google oauth disabled: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must both be set")
		c.Google = OAuthClient{}
	}
	if c.GitHub.partial() {
		c.Warnings = append(c.Warnings, "github oauth disabled: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must both be set")
		c.GitHub = OAuthClient{}
	}
}

// Validate refuses configurations that would run with missing or weak secrets.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RefreshTokenSecret == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET is required"))
	}
	if c.JWTSecret != "" && c.JWTSecret == c.RefreshTokenSecret {
		errs = append(errs, errors.New("JWT_SECRET and REFRESH_TOKEN_SECRET must differ"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d outside [4,31]", c.BcryptCost))
	}
	if c.JWTExpiry.Duration() <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be positive"))
	}
	if err := c.validateDatabase(); err != nil {
		errs = append(errs, err)
	}
	if (c.Google.Enabled() || c.GitHub.Enabled()) && strings.TrimSpace(c.OAuthStateSecret) == "" {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET is required when an oauth provider is enabled"))
	}
	for name, raw := range map[string]string{"PUBLIC_URL": c.PublicURL, "FRONTEND_URL": c.FrontendURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute url", name, raw))
		}
	}
	if c.Port <= 0 || c.GRPCPort <= 0 {
		errs = append(errs, errors.New("PORT and GRPC_PORT must be positive"))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerSec <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_PER_SEC must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) validateDatabase() error {
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.DBDriver)
	}
	return nil
}

// LoadDatabase reads the environment like Load but validates only the database
// settings. The migration tool uses it so it can run without token secrets.
func LoadDatabase() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.validateDatabase(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. A bare address becomes a single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES entry %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// HTTPAddr is the listen address of the REST API.
func (c Config) HTTPAddr() string { return ":" + strconv.Itoa(c.Port) }

// GRPCAddr is the listen address of the gRPC health service.
func (c Config) GRPCAddr() string { return ":" + strconv.Itoa(c.GRPCPort) }

// IsProduction reports whether APP_ENV selects production behaviour.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Lifetime is a duration that also accepts a day unit ("7d") or bare seconds ("3600").
type Lifetime time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Lifetime) UnmarshalText(text []byte) error {
	d, err := ParseLifetime(string(text))
	if err != nil {
		return err
	}
	*l = Lifetime(d)
	return nil
}

func (l Lifetime) Duration() time.Duration { return time.Duration(l) }

// ParseLifetime accepts "<n>d", any time.ParseDuration form, or a number of seconds.
func ParseLifetime(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0, errors.New("empty lifetime")
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		return scaleLifetime(raw, days, 24*time.Hour)
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return scaleLifetime(raw, raw, time.Second)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid lifetime %q", raw)
	}
	return d, nil
}

// scaleLifetime multiplies a positive count by unit, refusing values that overflow.
func scaleLifetime(raw, count string, unit time.Duration) (time.Duration, error) {
	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lifetime %q", raw)
	}
	if n <= 0 || n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("lifetime %q out of range", raw)
	}
	return time.Duration(n) * unit, nil
}
