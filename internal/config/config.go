package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/retry"
)

type Config struct {
	SiteKey      string        `env:"RECAPTCHA_SITE_KEY" envDefault:"6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI"`
	SecretKey    string        `env:"RECAPTCHA_SECRET_KEY"`
	PageURL      string        `env:"CAPTCHA_PAGE_URL"`
	Action       string        `env:"CAPTCHA_ACTION" envDefault:"submit"`
	TokenField   string        `env:"CAPTCHA_TOKEN_FIELD" envDefault:"g-recaptcha-response"`
	PollInterval time.Duration `env:"CAPTCHA_POLL_INTERVAL" envDefault:"100ms"`
	Timeout      time.Duration `env:"CAPTCHA_TIMEOUT"` // 0 = unbounded

	Browser   BrowserConfig   `envPrefix:"BROWSER_"`
	Verify    VerifyConfig    `envPrefix:"VERIFY_"`
	Artifacts ArtifactsConfig `envPrefix:"ARTIFACTS_"`
	Azure     AzureConfig
	Retry     RetryConfig `envPrefix:"RETRY_"`
}

type BrowserConfig struct {
	RemoteURL    string `env:"REMOTE_URL"` // DevTools websocket, skips local Chrome
	ExecPath     string `env:"EXEC_PATH"`
	UserAgent    string `env:"USER_AGENT"`
	Headless     bool   `env:"HEADLESS" envDefault:"true"`
	InjectScript bool   `env:"INJECT_SCRIPT" envDefault:"true"`
}

type VerifyConfig struct {
	URL      string        `env:"URL" envDefault:"https://www.google.com/recaptcha/api/siteverify"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MinScore float64       `env:"MIN_SCORE" envDefault:"0"`
	Hostname string        `env:"HOSTNAME"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"2m"`
}

type ArtifactsConfig struct {
	Provider        string `env:"PROVIDER" envDefault:"none"` // "none", "local" or "azure"
	Dir             string `env:"DIR" envDefault:"./artifacts"`
	Prefix          string `env:"PREFIX" envDefault:"captcha/failures"`
	TimestampFormat string `env:"TIMESTAMP_FORMAT" envDefault:"2006-01-02T15-04-05Z"`
}

type AzureConfig struct {
	Account   string `env:"AZURE_STORAGE_ACCOUNT"`
	Container string `env:"AZURE_STORAGE_CONTAINER"`
	SASToken  string `env:"AZURE_STORAGE_SAS"`
	Endpoint  string `env:"AZURE_BLOB_ENDPOINT"`

	ClientID     string `env:"AZURE_CLIENT_ID"`
	ClientSecret string `env:"AZURE_CLIENT_SECRET"`
	TenantID     string `env:"AZURE_TENANT_ID"`
}

type RetryConfig struct {
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"300ms"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"8s"`
	Multiplier   float64       `env:"MULTIPLIER" envDefault:"2.0"`
	EnableJitter bool          `env:"JITTER" envDefault:"true"`
}

// ArtifactsDisabled is the provider value that turns failure capture off.
const ArtifactsDisabled = "none"

// Load reads config from environment variables, applies defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.SiteKey = strings.TrimSpace(c.SiteKey)
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.PageURL = strings.TrimSpace(c.PageURL)
	c.Action = strings.TrimSpace(c.Action)
	c.TokenField = strings.TrimSpace(c.TokenField)
	c.Artifacts.Provider = strings.ToLower(strings.TrimSpace(c.Artifacts.Provider))
	if c.Artifacts.Provider == "" {
		c.Artifacts.Provider = ArtifactsDisabled
	}
}

// validate checks values the acquirer cannot start without.
// Secret and page URL are checked by the commands that need them.
func (c *Config) validate() error {
	if c.SiteKey == "" {
		return errors.New("RECAPTCHA_SITE_KEY must not be empty")
	}
	if c.TokenField == "" {
		return errors.New("CAPTCHA_TOKEN_FIELD must not be empty")
	}
	if c.PollInterval <= 0 {
		return errors.New("CAPTCHA_POLL_INTERVAL must be positive")
	}
	if c.Timeout < 0 {
		return errors.New("CAPTCHA_TIMEOUT must not be negative")
	}
	if c.PageURL != "" {
		if _, err := url.ParseRequestURI(c.PageURL); err != nil {
			return fmt.Errorf("CAPTCHA_PAGE_URL: %w", err)
		}
	}
	if c.Verify.MinScore < 0 || c.Verify.MinScore > 1 {
		return errors.New("VERIFY_MIN_SCORE must be within [0,1]")
	}

	switch c.Artifacts.Provider {
	case ArtifactsDisabled:
	case "local":
		if strings.TrimSpace(c.Artifacts.Dir) == "" {
			return errors.New("local artifacts: ARTIFACTS_DIR is required")
		}
	case "azure":
		if c.Azure.Account == "" || c.Azure.Container == "" {
			return errors.New("azure: AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_CONTAINER are required")
		}
		// Accept SAS or SP (ClientID/Secret/Tenant). If neither, the provider falls back to DefaultAzureCredential.
	default:
		return errors.New("unsupported artifacts provider: " + c.Artifacts.Provider)
	}
	return nil
}

// ArtifactsEnabled reports whether failures should be captured.
func (c Config) ArtifactsEnabled() bool {
	return c.Artifacts.Provider != ArtifactsDisabled
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.EnableJitter,
	}
}
