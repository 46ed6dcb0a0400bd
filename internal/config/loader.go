package config

import (
	"fmt"
	"time"

	"github.com/mleitner/leadenrich/internal/db"
	"github.com/spf13/viper"
)

// ProviderSettings configures one enrichment API client.
type ProviderSettings struct {
	APIKey    string
	BaseURL   string
	Rate      float64 // token refill rate in requests per second
	Burst     int     // token bucket capacity
	BatchSize int     // provider-enforced bulk call cap
}

// WebhookSettings configures the callback listener and the wait phase.
type WebhookSettings struct {
	PublicURL    string // public HTTPS URL Apollo posts callbacks to
	BindAddr     string
	Port         int
	Timeout      time.Duration // max wait for all callbacks
	PollInterval time.Duration // wait-phase ledger poll cadence
}

// RetrySettings configures the provider clients' backoff policy.
type RetrySettings struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64
}

// ColumnSettings configures the column mapper collaborator. An empty
// GeminiAPIKey selects the heuristic mapper.
type ColumnSettings struct {
	GeminiAPIKey string
	GeminiModel  string
}

// Settings is the full configuration surface of the service.
type Settings struct {
	Database    db.Config
	Apollo      ProviderSettings
	Lusha       ProviderSettings
	Webhook     WebhookSettings
	Retry       RetrySettings
	Columns     ColumnSettings
	HTTPTimeout time.Duration
}

// DefaultSettings returns the built-in configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Database: db.DefaultConfig(),
		Apollo: ProviderSettings{
			BaseURL:   "https://api.apollo.io",
			Rate:      50.0 / 60.0, // 50 requests per minute
			Burst:     5,
			BatchSize: 10,
		},
		Lusha: ProviderSettings{
			BaseURL:   "https://api.lusha.com",
			Rate:      25,
			Burst:     25,
			BatchSize: 100,
		},
		Webhook: WebhookSettings{
			BindAddr:     "0.0.0.0",
			Port:         8443,
			Timeout:      10 * time.Minute,
			PollInterval: 5 * time.Second,
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			BackoffMax:  60 * time.Second,
			Jitter:      0.2,
		},
		Columns: ColumnSettings{
			GeminiModel: "gemini-2.0-flash",
		},
		HTTPTimeout: 30 * time.Second,
	}
}

// Load reads config.yaml from configPath and applies environment
// overrides (ENRICH_ prefix, e.g. ENRICH_APOLLO_API_KEY).
func Load(configPath string) (Settings, error) {
	cfg := DefaultSettings()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("ENRICH")

	v.BindEnv("database.host", "ENRICH_DB_HOST")
	v.BindEnv("database.port", "ENRICH_DB_PORT")
	v.BindEnv("database.user", "ENRICH_DB_USER")
	v.BindEnv("database.password", "ENRICH_DB_PASSWORD")
	v.BindEnv("database.dbname", "ENRICH_DB_NAME")
	v.BindEnv("database.sslmode", "ENRICH_DB_SSLMODE")
	v.BindEnv("providers.apollo.api_key", "ENRICH_APOLLO_API_KEY")
	v.BindEnv("providers.lusha.api_key", "ENRICH_LUSHA_API_KEY")
	v.BindEnv("webhook.public_url", "ENRICH_WEBHOOK_URL")
	v.BindEnv("webhook.port", "ENRICH_WEBHOOK_PORT")
	v.BindEnv("columns.gemini_api_key", "ENRICH_GEMINI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	loadProvider(v, "providers.apollo", &cfg.Apollo)
	loadProvider(v, "providers.lusha", &cfg.Lusha)

	if v.IsSet("providers.apollo.rate_per_minute") {
		cfg.Apollo.Rate = v.GetFloat64("providers.apollo.rate_per_minute") / 60.0
	}
	if v.IsSet("providers.lusha.rate_per_second") {
		cfg.Lusha.Rate = v.GetFloat64("providers.lusha.rate_per_second")
	}

	if v.IsSet("webhook.public_url") {
		cfg.Webhook.PublicURL = v.GetString("webhook.public_url")
	}
	if v.IsSet("webhook.bind_addr") {
		cfg.Webhook.BindAddr = v.GetString("webhook.bind_addr")
	}
	if v.IsSet("webhook.port") {
		cfg.Webhook.Port = v.GetInt("webhook.port")
	}
	if v.IsSet("webhook.timeout_seconds") {
		cfg.Webhook.Timeout = time.Duration(v.GetInt("webhook.timeout_seconds")) * time.Second
	}
	if v.IsSet("webhook.poll_seconds") {
		cfg.Webhook.PollInterval = time.Duration(v.GetInt("webhook.poll_seconds")) * time.Second
	}

	if v.IsSet("retry.max_attempts") {
		cfg.Retry.MaxAttempts = v.GetInt("retry.max_attempts")
	}
	if v.IsSet("retry.backoff_base_ms") {
		cfg.Retry.BackoffBase = time.Duration(v.GetInt("retry.backoff_base_ms")) * time.Millisecond
	}
	if v.IsSet("retry.backoff_max_ms") {
		cfg.Retry.BackoffMax = time.Duration(v.GetInt("retry.backoff_max_ms")) * time.Millisecond
	}
	if v.IsSet("retry.jitter") {
		cfg.Retry.Jitter = v.GetFloat64("retry.jitter")
	}

	if v.IsSet("http.timeout_seconds") {
		cfg.HTTPTimeout = time.Duration(v.GetInt("http.timeout_seconds")) * time.Second
	}

	if v.IsSet("columns.gemini_api_key") {
		cfg.Columns.GeminiAPIKey = v.GetString("columns.gemini_api_key")
	}
	if v.IsSet("columns.gemini_model") {
		cfg.Columns.GeminiModel = v.GetString("columns.gemini_model")
	}

	return cfg, nil
}

func loadProvider(v *viper.Viper, prefix string, p *ProviderSettings) {
	if v.IsSet(prefix + ".api_key") {
		p.APIKey = v.GetString(prefix + ".api_key")
	}
	if v.IsSet(prefix + ".base_url") {
		p.BaseURL = v.GetString(prefix + ".base_url")
	}
	if v.IsSet(prefix + ".burst") {
		p.Burst = v.GetInt(prefix + ".burst")
	}
	if v.IsSet(prefix + ".batch_size") {
		p.BatchSize = v.GetInt(prefix + ".batch_size")
	}
}
