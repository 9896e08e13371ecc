// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Addr         string        `env:"ADDR,default=:8080"`
	DBPath       string        `env:"DB_PATH,default=data/snippet-keeper.db"`
	BaseURL      string        `env:"BASE_URL,default=http://localhost:8080"`
	JWTSecret    string        `env:"JWT_SECRET,required"`
	CookieSecure bool          `env:"COOKIE_SECURE,default=false"`
	RefreshAfter time.Duration `env:"SESSION_REFRESH_AFTER,default=15m"`
	TokenTTL     time.Duration `env:"TOKEN_TTL,default=1h"`

	LogFormat string `env:"LOG_FORMAT,default=text"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	SMTP   SMTP   `env:",prefix=SMTP_"`
	S3     S3     `env:",prefix=S3_"`
	GitHub OAuth  `env:",prefix=GITHUB_"`
	Google OAuth  `env:",prefix=GOOGLE_"`
	NATS   NATS   `env:",prefix=NATS_"`
	OTel   OTel   `env:",prefix=OTEL_"`
	Rate   Limits `env:",prefix=RATE_LIMIT_"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT,default=587"`
	User     string `env:"USER"`
	Password string `env:"PASS"`
	From     string `env:"FROM,default=noreply@example.com"`
}

type S3 struct {
	Endpoint      string `env:"ENDPOINT"`
	Region        string `env:"REGION,default=us-east-1"`
	Bucket        string `env:"BUCKET"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	PathStyle     bool   `env:"FORCE_PATH_STYLE,default=true"`
}

type OAuth struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Enabled reports whether both credentials are set.
func (o OAuth) Enabled() bool { return o.ClientID != "" && o.ClientSecret != "" }

type NATS struct {
	URL string `env:"URL"`
}

type OTel struct {
	Endpoint string `env:"EXPORTER_OTLP_ENDPOINT"`
	Insecure bool   `env:"EXPORTER_OTLP_INSECURE,default=true"`
}

// Limits throttle the unauthenticated auth endpoints per client IP.
type Limits struct {
	Requests int           `env:"REQUESTS,default=10"`
	Window   time.Duration `env:"WINDOW,default=1m"`
}

// Load reads .env (if any) and the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	return load(ctx, envconfig.OsLookuper())
}

// Database is the subset of Config the migrate command needs. It does not
// require JWT_SECRET.
type Database struct {
	DBPath string `env:"DB_PATH,default=data/snippet-keeper.db"`
}

// LoadDatabase reads only the database settings.
func LoadDatabase(ctx context.Context) (*Database, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	return loadDatabase(ctx, envconfig.OsLookuper())
}

func loadDatabase(ctx context.Context, l envconfig.Lookuper) (*Database, error) {
	var db Database
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &db, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &db, nil
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: reading .env: %w", err)
	}
	return nil
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: BASE_URL %q must be an absolute URL", c.BaseURL)
	}
	if c.TokenTTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}
	if c.Rate.Requests <= 0 || c.Rate.Window <= 0 {
		return errors.New("config: RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// CallbackURL is the OAuth redirect for provider.
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/auth/" + provider + "/callback"
}
