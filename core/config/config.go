package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mendhq/mend/core/db"
)

type Config struct {
	Env  string
	Port string

	OTel      OTelConfig
	GitHub    GitHubConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Executor  ExecutorConfig
	Slack     SlackConfig
	Store     StoreConfig
	DB        db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type GitHubConfig struct {
	// Token is the access token the bot acts as.
	Token string
	// WebhookSecret is the HMAC shared secret for inbound webhooks.
	WebhookSecret string
	// BotLogin is the account name the mention trigger refers to.
	BotLogin string
}

type SecurityConfig struct {
	// AllowedRepos holds exact or glob-style repository patterns
	// ("acme/widgets", "acme/*"). Empty means allow all.
	AllowedRepos []string
	// RequireOrgMembership gates requests on the author belonging to the
	// repository owner's organization.
	RequireOrgMembership bool
}

type RateLimitConfig struct {
	// MaxPerHour is the per-author request quota. Zero disables limiting.
	MaxPerHour int
}

type RedisConfig struct {
	URL string
}

type ExecutorConfig struct {
	// AgentBinary is the external code-modification CLI.
	AgentBinary string
	// WorkDir is the parent directory for per-job clones.
	WorkDir string
	// Workers bounds concurrent job execution.
	Workers int
	// QueueSize bounds jobs waiting for a worker.
	QueueSize int

	CloneTimeout time.Duration
	AgentTimeout time.Duration
	TestTimeout  time.Duration
	PushTimeout  time.Duration

	// TestsAreAdvisory keeps test failures from blocking publication.
	TestsAreAdvisory bool
}

type SlackConfig struct {
	BotToken string
	Channel  string
}

type StoreConfig struct {
	// JobTTL is how long terminal jobs stay in the registry.
	JobTTL time.Duration
	// SweepInterval is how often expired jobs are evicted.
	SweepInterval time.Duration
}

func Load() (Config, error) {
	if getEnv("MEND_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("MEND_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "mend"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
			BotLogin:      getEnv("BOT_LOGIN", "mend"),
		},
		Security: SecurityConfig{
			AllowedRepos:         splitList(getEnv("ALLOWED_REPOSITORIES", "")),
			RequireOrgMembership: getEnvBool("REQUIRE_ORG_MEMBERSHIP", false),
		},
		RateLimit: RateLimitConfig{
			MaxPerHour: getEnvInt("RATE_LIMIT_PER_HOUR", 10),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Executor: ExecutorConfig{
			AgentBinary:      getEnv("AGENT_BINARY", "mend-agent"),
			WorkDir:          getEnv("WORK_DIR", os.TempDir()),
			Workers:          getEnvInt("EXECUTOR_WORKERS", 4),
			QueueSize:        getEnvInt("EXECUTOR_QUEUE_SIZE", 64),
			CloneTimeout:     getEnvDuration("CLONE_TIMEOUT", 2*time.Minute),
			AgentTimeout:     getEnvDuration("AGENT_TIMEOUT", 15*time.Minute),
			TestTimeout:      getEnvDuration("TEST_TIMEOUT", 10*time.Minute),
			PushTimeout:      getEnvDuration("PUSH_TIMEOUT", 2*time.Minute),
			TestsAreAdvisory: getEnvBool("TESTS_ARE_ADVISORY", true),
		},
		Slack: SlackConfig{
			BotToken: getEnv("SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("SLACK_CHANNEL", ""),
		},
		Store: StoreConfig{
			JobTTL:        getEnvDuration("JOB_TTL", 24*time.Hour),
			SweepInterval: getEnvDuration("JOB_SWEEP_INTERVAL", 10*time.Minute),
		},
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
		},
	}

	if cfg.GitHub.Token == "" {
		return Config{}, fmt.Errorf("GITHUB_TOKEN is required")
	}
	if cfg.GitHub.WebhookSecret == "" {
		return Config{}, fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c SlackConfig) Enabled() bool {
	return c.BotToken != "" && c.Channel != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
