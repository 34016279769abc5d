package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DriverQStash = "qstash"
	DriverLocal  = "local"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	HTTP       HTTPConfig       `koanf:"http"`
	Database   DatabaseConfig   `koanf:"database"`
	Auth       AuthConfig       `koanf:"auth"`
	DelayQueue DelayQueueConfig `koanf:"delayqueue"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Snooze     SnoozeConfig     `koanf:"snooze"`
	Notify     NotifyConfig     `koanf:"notify"`
	Redis      RedisConfig      `koanf:"redis"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	MCP        MCPConfig        `koanf:"mcp"`
}

type AppConfig struct {
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"`
	// PublicURL is where the delay service reaches this deployment.
	PublicURL string `koanf:"public_url"`
}

type HTTPConfig struct {
	Addr                 string        `koanf:"addr"`
	CORSAllowedOrigins   []string      `koanf:"cors_allowed_origins"`
	CORSAllowCredentials bool          `koanf:"cors_allow_credentials"`
	ReadTimeout          time.Duration `koanf:"read_timeout"`
	WriteTimeout         time.Duration `koanf:"write_timeout"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
	// ReplicaURL serves snooze history reads; empty means the primary.
	ReplicaURL  string `koanf:"replica_url"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	// BillingSecret authenticates subscription updates from the billing
	// provider. Empty disables the billing webhook.
	BillingSecret string `koanf:"billing_secret"`
}

type DelayQueueConfig struct {
	// Enabled must be false when CallbackURL is not reachable by the
	// delay service (local development against hosted QStash).
	Enabled        bool          `koanf:"enabled"`
	Driver         string        `koanf:"driver"`
	CallbackURL    string        `koanf:"callback_url"`
	Timeout        time.Duration `koanf:"timeout"`
	Retries        int           `koanf:"retries"`
	Issuer         string        `koanf:"issuer"`
	SigningKey     string        `koanf:"signing_key"`
	NextSigningKey string        `koanf:"next_signing_key"`
	QStashURL      string        `koanf:"qstash_url"`
	QStashToken    string        `koanf:"qstash_token"`
}

type JobsConfig struct {
	Workers         int           `koanf:"workers"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	MaxAttempts     int           `koanf:"max_attempts"`
	CallbackTimeout time.Duration `koanf:"callback_timeout"`
}

type DispatchConfig struct {
	EarlyTolerance time.Duration `koanf:"early_tolerance"`
	Lease          time.Duration `koanf:"lease"`
	MaxRetries     int           `koanf:"max_retries"`
}

type SnoozeConfig struct {
	DefaultMinutes int `koanf:"default_minutes"`
	MinSamples     int `koanf:"min_samples"`
	WindowDays     int `koanf:"window_days"`
	HistoryLimit   int `koanf:"history_limit"`
}

type NotifyConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	SMTP    SMTPConfig    `koanf:"smtp"`
	Push    PushConfig    `koanf:"push"`
}

type SMTPConfig struct {
	Host        string `koanf:"host"`
	Port        string `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	From        string `koanf:"from"`
	ImplicitTLS bool   `koanf:"implicit_tls"`
}

type PushConfig struct {
	URL         string `koanf:"url"`
	AccessToken string `koanf:"access_token"`
}

type RedisConfig struct {
	Addr           string        `koanf:"addr"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db"`
	EntitlementTTL time.Duration `koanf:"entitlement_ttl"`
}

type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type ReconcileConfig struct {
	Interval           time.Duration `koanf:"interval"`
	Batch              int           `koanf:"batch"`
	StallAfter         time.Duration `koanf:"stall_after"`
	DismissedRetention time.Duration `koanf:"dismissed_retention"`
	JobRetention       time.Duration `koanf:"job_retention"`
}

type MCPConfig struct {
	UserID uint64 `koanf:"user_id"`
}

// envKeys maps the deployment's environment variable names onto config keys.
var envKeys = map[string]string{
	"APP_ENV":                    "app.env",
	"LOG_LEVEL":                  "app.log_level",
	"PUBLIC_URL":                 "app.public_url",
	"HTTP_ADDR":                  "http.addr",
	"CORS_ALLOWED_ORIGINS":       "http.cors_allowed_origins",
	"CORS_ALLOW_CREDENTIALS":     "http.cors_allow_credentials",
	"DATABASE_URL":               "database.url",
	"DATABASE_REPLICA_URL":       "database.replica_url",
	"DATABASE_AUTO_MIGRATE":      "database.auto_migrate",
	"JWT_SECRET":                 "auth.jwt_secret",
	"JWT_ISSUER":                 "auth.issuer",
	"BILLING_WEBHOOK_SECRET":     "auth.billing_secret",
	"DELAY_QUEUE_ENABLED":        "delayqueue.enabled",
	"DELAY_QUEUE_DRIVER":         "delayqueue.driver",
	"DELAY_QUEUE_CALLBACK_URL":   "delayqueue.callback_url",
	"QSTASH_URL":                 "delayqueue.qstash_url",
	"QSTASH_TOKEN":               "delayqueue.qstash_token",
	"QSTASH_CURRENT_SIGNING_KEY": "delayqueue.signing_key",
	"QSTASH_NEXT_SIGNING_KEY":    "delayqueue.next_signing_key",
	"SMTP_HOST":                  "notify.smtp.host",
	"SMTP_PORT":                  "notify.smtp.port",
	"SMTP_USERNAME":              "notify.smtp.username",
	"SMTP_PASSWORD":              "notify.smtp.password",
	"SMTP_FROM":                  "notify.smtp.from",
	"PUSH_URL":                   "notify.push.url",
	"PUSH_ACCESS_TOKEN":          "notify.push.access_token",
	"REDIS_ADDR":                 "redis.addr",
	"REDIS_PASSWORD":             "redis.password",
	"REDIS_DB":                   "redis.db",
	"KAFKA_BROKERS":              "kafka.brokers",
	"KAFKA_TOPIC":                "kafka.topic",
	"MCP_USER_ID":                "mcp.user_id",
}

func defaults() map[string]any {
	return map[string]any{
		"app.env":                       "development",
		"app.log_level":                 "",
		"http.addr":                     ":8080",
		"http.cors_allow_credentials":   false,
		"http.read_timeout":             "15s",
		"http.write_timeout":            "30s",
		"http.shutdown_timeout":         "10s",
		"database.auto_migrate":         true,
		"delayqueue.enabled":            true,
		"delayqueue.driver":             DriverLocal,
		"delayqueue.timeout":            "5s",
		"delayqueue.retries":            5,
		"delayqueue.issuer":             "Upstash",
		"jobs.workers":                  1,
		"jobs.poll_interval":            "800ms",
		"jobs.max_attempts":             8,
		"jobs.callback_timeout":         "30s",
		"dispatch.early_tolerance":      "30s",
		"dispatch.lease":                "2m",
		"dispatch.max_retries":          5,
		"snooze.default_minutes":        15,
		"snooze.min_samples":            3,
		"snooze.window_days":            30,
		"snooze.history_limit":          200,
		"notify.timeout":                "15s",
		"notify.smtp.port":              "465",
		"notify.smtp.implicit_tls":      true,
		"redis.db":                      0,
		"redis.entitlement_ttl":         "5m",
		"kafka.topic":                   "reminder-events",
		"reconcile.interval":            "1m",
		"reconcile.batch":               100,
		"reconcile.stall_after":         "6h",
		"reconcile.dismissed_retention": "720h",
		"reconcile.job_retention":       "168h",
	}
}

// Load layers defaults, an optional YAML file and the environment (after
// .env). path empty falls back to CONFIG_FILE.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// envKey returns "" for variables we do not own so koanf skips them.
func envKey(s string) string {
	return envKeys[s]
}

func (c *Config) normalize() {
	c.HTTP.CORSAllowedOrigins = trimAll(c.HTTP.CORSAllowedOrigins)
	c.Kafka.Brokers = trimAll(c.Kafka.Brokers)
	c.DelayQueue.Driver = strings.ToLower(strings.TrimSpace(c.DelayQueue.Driver))

	if c.DelayQueue.CallbackURL == "" && c.App.PublicURL != "" {
		c.DelayQueue.CallbackURL = strings.TrimRight(c.App.PublicURL, "/") + "/webhooks/reminders/deliver"
	}
	if c.Database.ReplicaURL == "" {
		c.Database.ReplicaURL = c.Database.URL
	}
}

// trimAll splits comma lists (environment values arrive as one string) and
// drops blanks.
func trimAll(in []string) []string {
	var out []string
	for _, v := range in {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c Config) Production() bool {
	return strings.EqualFold(c.App.Env, "production")
}

func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required (DATABASE_URL)"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required (JWT_SECRET)"))
	}
	if c.Dispatch.MaxRetries < 1 {
		errs = append(errs, errors.New("dispatch.max_retries must be at least 1"))
	}
	if c.Dispatch.Lease <= 0 {
		errs = append(errs, errors.New("dispatch.lease must be positive"))
	}

	dq := c.DelayQueue
	switch dq.Driver {
	case DriverQStash, DriverLocal:
	default:
		errs = append(errs, fmt.Errorf("delayqueue.driver %q is not one of %s, %s", dq.Driver, DriverQStash, DriverLocal))
	}
	if dq.SigningKey == "" {
		errs = append(errs, errors.New("delayqueue.signing_key is required (QSTASH_CURRENT_SIGNING_KEY)"))
	}
	if dq.Enabled {
		if dq.CallbackURL == "" {
			errs = append(errs, errors.New("delayqueue.callback_url is required when the delay queue is enabled (DELAY_QUEUE_CALLBACK_URL or PUBLIC_URL)"))
		}
		if dq.Driver == DriverQStash && dq.QStashToken == "" {
			errs = append(errs, errors.New("delayqueue.qstash_token is required for the qstash driver (QSTASH_TOKEN)"))
		}
		errs = append(errs, c.checkCallbackBudget()...)
	}
	return errors.Join(errs...)
}

// checkCallbackBudget makes sure the delay service calls back often enough
// for the dispatcher to reach its own retry limit. A transient cycle answers
// 503, so MaxRetries cycles need MaxRetries callbacks.
func (c Config) checkCallbackBudget() []error {
	need := c.Dispatch.MaxRetries
	if need < 1 {
		return nil
	}
	switch c.DelayQueue.Driver {
	case DriverQStash:
		if c.DelayQueue.Retries+1 < need {
			return []error{fmt.Errorf("delayqueue.retries (%d) must be at least dispatch.max_retries-1 (%d)",
				c.DelayQueue.Retries, need-1)}
		}
	case DriverLocal:
		if c.Jobs.MaxAttempts < need {
			return []error{fmt.Errorf("jobs.max_attempts (%d) must be at least dispatch.max_retries (%d)",
				c.Jobs.MaxAttempts, need)}
		}
	}
	return nil
}
