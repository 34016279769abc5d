package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/remindly")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.Lease != 2*time.Minute || cfg.Dispatch.MaxRetries != 5 {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.DelayQueue.Driver != DriverLocal || !cfg.DelayQueue.Enabled {
		t.Fatalf("delayqueue = %+v", cfg.DelayQueue)
	}
	if cfg.Database.ReplicaURL != cfg.Database.URL {
		t.Fatalf("replica = %q", cfg.Database.ReplicaURL)
	}
	if cfg.Production() {
		t.Fatalf("default env reported production")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("PUBLIC_URL", "https://remindly.example.com/")
	t.Setenv("DELAY_QUEUE_DRIVER", " QStash ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MCP_USER_ID", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Production() {
		t.Fatalf("env = %q", cfg.App.Env)
	}
	if cfg.DelayQueue.Driver != DriverQStash {
		t.Fatalf("driver = %q", cfg.DelayQueue.Driver)
	}
	if cfg.DelayQueue.CallbackURL != "https://remindly.example.com/webhooks/reminders/deliver" {
		t.Fatalf("callback = %q", cfg.DelayQueue.CallbackURL)
	}
	if strings.Join(cfg.Kafka.Brokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("brokers = %q", cfg.Kafka.Brokers)
	}
	if strings.Join(cfg.HTTP.CORSAllowedOrigins, "|") != "https://a.example.com|https://b.example.com" {
		t.Fatalf("origins = %q", cfg.HTTP.CORSAllowedOrigins)
	}
	if cfg.MCP.UserID != 42 {
		t.Fatalf("mcp user = %d", cfg.MCP.UserID)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remindly.yaml")
	yml := `
dispatch:
  max_retries: 9
  early_tolerance: 1m
snooze:
  default_minutes: 20
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.MaxRetries != 9 || cfg.Dispatch.EarlyTolerance != time.Minute {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Snooze.DefaultMinutes != 20 || cfg.Snooze.MinSamples != 3 {
		t.Fatalf("snooze = %+v", cfg.Snooze)
	}
	if cfg.Notify.SMTP.Host != "smtp.example.com" || cfg.Notify.SMTP.Port != "465" {
		t.Fatalf("smtp = %+v", cfg.Notify.SMTP)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{URL: "postgres://x"},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Dispatch: DispatchConfig{Lease: time.Minute, MaxRetries: 3},
		Jobs:     JobsConfig{MaxAttempts: 8},
		DelayQueue: DelayQueueConfig{
			Enabled:     true,
			Driver:      DriverLocal,
			CallbackURL: "http://localhost:8080/webhooks/reminders/deliver",
			SigningKey:  "sig",
			Retries:     5,
			QStashToken: "tok",
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cases := map[string]func(*Config){
		"no database":   func(c *Config) { c.Database.URL = "" },
		"no jwt secret": func(c *Config) { c.Auth.JWTSecret = "" },
		"zero retries":  func(c *Config) { c.Dispatch.MaxRetries = 0 },
		"zero lease":    func(c *Config) { c.Dispatch.Lease = 0 },
		"bad driver":    func(c *Config) { c.DelayQueue.Driver = "sqs" },
		"no signing":    func(c *Config) { c.DelayQueue.SigningKey = "" },
		"no callback":   func(c *Config) { c.DelayQueue.CallbackURL = "" },
		"qstash token": func(c *Config) {
			c.DelayQueue.Driver = DriverQStash
			c.DelayQueue.QStashToken = ""
		},
		"qstash retries": func(c *Config) {
			c.DelayQueue.Driver = DriverQStash
			c.DelayQueue.Retries = 1
		},
		"job attempts": func(c *Config) { c.Jobs.MaxAttempts = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	c := validConfig()
	c.DelayQueue.Driver = DriverQStash
	c.DelayQueue.Retries = 2
	if err := c.Validate(); err != nil {
		t.Fatalf("qstash with retries = max_retries-1: %v", err)
	}

	c = validConfig()
	c.DelayQueue.Enabled = false
	c.DelayQueue.CallbackURL = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("disabled queue needs no callback: %v", err)
	}
}
