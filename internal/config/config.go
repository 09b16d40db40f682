// Package config loads the service configuration from the environment.
//
// Values come from (lowest to highest precedence) the env-default tags, an
// optional YAML file named by CONFIG_FILE, a .env file, and the process
// environment. Secrets are never read from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Audit store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// MinSecretLength matches the session token service's minimum.
const MinSecretLength = 16

type Config struct {
	Port        int    `yaml:"port" env:"PORT" env-default:"3001"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
	BaseURL     string `yaml:"base_url" env:"BASE_URL" env-default:""` // derived from Port if empty
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:3000"`
	CORSOrigins string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:""` // comma-separated; FrontendURL if empty
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	DBPath     string `yaml:"db_path" env:"DB_PATH" env-default:"data/ghostwriter.db"`
	AuditStore string `yaml:"audit_store" env:"AUDIT_STORE" env-default:"memory"`

	JWTSecret  string        `yaml:"-" env:"JWT_SECRET"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"168h"`

	GitHub    GitHubConfig    `yaml:"github"`
	Google    GoogleConfig    `yaml:"google"`
	GitHubApp GitHubAppConfig `yaml:"github_app"`
	SMTP      SMTPConfig      `yaml:"smtp"`

	AnalysisEngineURL string `yaml:"analysis_engine_url" env:"ANALYSIS_ENGINE_URL" env-default:"http://localhost:8000/analyze-pr"`
}

// GitHubConfig is the OAuth app plus the REST API settings.
type GitHubConfig struct {
	ClientID      string `yaml:"client_id" env:"GITHUB_CLIENT_ID"`
	ClientSecret  string `yaml:"-" env:"GITHUB_CLIENT_SECRET"`
	CallbackURL   string `yaml:"callback_url" env:"GITHUB_CALLBACK_URL"`
	Token         string `yaml:"-" env:"GITHUB_TOKEN"` // fallback for diff fetches
	APIURL        string `yaml:"api_url" env:"GITHUB_API_URL" env-default:"https://api.github.com"`
	WebhookSecret string `yaml:"-" env:"GITHUB_WEBHOOK_SECRET"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `yaml:"callback_url" env:"GOOGLE_CALLBACK_URL"`
}

type GitHubAppConfig struct {
	ID         string `yaml:"id" env:"GITHUB_APP_ID"`
	Name       string `yaml:"name" env:"GITHUB_APP_NAME"`
	PrivateKey string `yaml:"-" env:"GITHUB_APP_PRIVATE_KEY"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"-" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

// Load reads .env (if any), then CONFIG_FILE (if set), then the environment,
// fills derived fields and validates the result.
func Load() (*Config, error) {
	loadDotenv()

	cfg := &Config{}
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotenv loads the first .env found in the working directory or its
// parents. Variables already set in the environment win.
func loadDotenv() {
	for _, p := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = c.BaseURL + "/api/auth/github/callback"
	}
	if c.Google.CallbackURL == "" {
		c.Google.CallbackURL = c.BaseURL + "/api/auth/google/callback"
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
}

// Validate reports configuration that would make the server misbehave.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength))
	}
	switch c.AuditStore {
	case StoreMemory, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("AUDIT_STORE must be %q or %q, got %q", StoreMemory, StoreSQLite, c.AuditStore))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.GitHubApp.ID != "" && c.GitHubApp.PrivateKey == "" {
		errs = append(errs, errors.New("GITHUB_APP_PRIVATE_KEY is required when GITHUB_APP_ID is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Production turns on secure cookies.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) GitHubConfigured() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

func (c *Config) GoogleConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// GitHubAppConfigured reports whether installation tokens can be issued.
func (c *Config) GitHubAppConfigured() bool {
	return c.GitHubApp.ID != "" && c.GitHubApp.PrivateKey != ""
}

// MailConfigured reports whether audit reports can be emailed.
func (c *Config) MailConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// AllowedOrigins returns the CORS origins, defaulting to the frontend.
func (c *Config) AllowedOrigins() []string {
	raw := c.CORSOrigins
	if raw == "" {
		raw = c.FrontendURL
	}
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Level maps LOG_LEVEL onto slog; unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
