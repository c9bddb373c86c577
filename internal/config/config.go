// Package config carga la configuración: defaults, luego el YAML (opcional),
// luego variables de entorno. Validate se llama siempre al final.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod | test
		Env string `yaml:"env" env:"APP_ENV"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Storage struct {
		// memory | sqlite | postgres | mysql
		Driver       string `yaml:"driver" env:"STORAGE_DRIVER"`
		DSN          string `yaml:"dsn" env:"STORAGE_DSN"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"STORAGE_MAX_OPEN_CONNS"`
		MaxIdleConns int    `yaml:"max_idle_conns" env:"STORAGE_MAX_IDLE_CONNS"`
		AutoMigrate  bool   `yaml:"auto_migrate" env:"STORAGE_AUTO_MIGRATE"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
	} `yaml:"redis"`

	Quota struct {
		// store (misma base que las credenciales) | redis
		Backend        string        `yaml:"backend" env:"QUOTA_BACKEND"`
		ReservationTTL time.Duration `yaml:"reservation_ttl" env:"QUOTA_RESERVATION_TTL"`
		SweepInterval  time.Duration `yaml:"sweep_interval" env:"QUOTA_SWEEP_INTERVAL"`
	} `yaml:"quota"`

	Google struct {
		ClientID     string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
		ClientSecret string        `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
		TokenURL     string        `yaml:"token_url" env:"GOOGLE_TOKEN_URL"`
		Timeout      time.Duration `yaml:"timeout" env:"GOOGLE_TIMEOUT"`
	} `yaml:"google"`

	Gateway struct {
		// smtp | relay | log
		Kind string `yaml:"kind" env:"MAIL_GATEWAY"`
		SMTP struct {
			Host               string `yaml:"host" env:"SMTP_HOST"`
			Port               int    `yaml:"port" env:"SMTP_PORT"`
			TLSMode            string `yaml:"tls_mode" env:"SMTP_TLS_MODE"`
			InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"SMTP_INSECURE_SKIP_VERIFY"`
		} `yaml:"smtp"`
		Relay struct {
			URL    string `yaml:"url" env:"MAIL_RELAY_URL"`
			APIKey string `yaml:"api_key" env:"MAIL_RELAY_API_KEY"`
		} `yaml:"relay"`
	} `yaml:"gateway"`

	Dispatch struct {
		SendTimeout       time.Duration `yaml:"send_timeout" env:"DISPATCH_SEND_TIMEOUT"`
		SettleTimeout     time.Duration `yaml:"settle_timeout" env:"DISPATCH_SETTLE_TIMEOUT"`
		RefreshLeadWindow time.Duration `yaml:"refresh_lead_window" env:"DISPATCH_REFRESH_LEAD_WINDOW"`
	} `yaml:"dispatch"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
		Issuer    string `yaml:"issuer" env:"AUTH_JWT_ISSUER"`
		Audience  string `yaml:"audience" env:"AUTH_JWT_AUDIENCE"`
		// ServiceToken autoriza al front de sign-in a registrar credenciales.
		ServiceToken string `yaml:"service_token" env:"AUTH_SERVICE_TOKEN"`
	} `yaml:"auth"`

	Rate struct {
		Enabled bool          `yaml:"enabled" env:"RATE_ENABLED"`
		Limit   int           `yaml:"limit" env:"RATE_LIMIT"`
		Window  time.Duration `yaml:"window" env:"RATE_WINDOW"`
	} `yaml:"rate"`

	Idempotency struct {
		Enabled bool          `yaml:"enabled" env:"IDEMPOTENCY_ENABLED"`
		TTL     time.Duration `yaml:"ttl" env:"IDEMPOTENCY_TTL"`
	} `yaml:"idempotency"`

	Security struct {
		SecretBoxKey string `yaml:"secretbox_master_key" env:"SECRETBOX_MASTER_KEY"`
	} `yaml:"security"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`

	OTel struct {
		Enabled     bool    `yaml:"enabled" env:"OTEL_ENABLED"`
		Endpoint    string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		Insecure    bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
		SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLE_RATIO"`
	} `yaml:"otel"`
}

// Default devuelve una configuración de desarrollo funcional (memory + log).
func Default() *Config {
	var c Config
	c.App.Env = "dev"
	c.Server.Addr = ":8080"
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Storage.Driver = "memory"
	c.Redis.Prefix = "quotamail:"
	c.Quota.Backend = "store"
	c.Quota.ReservationTTL = 2 * time.Minute
	c.Quota.SweepInterval = 30 * time.Second
	c.Google.Timeout = 10 * time.Second
	c.Gateway.Kind = "log"
	c.Gateway.SMTP.Host = "smtp.gmail.com"
	c.Gateway.SMTP.Port = 587
	c.Gateway.SMTP.TLSMode = "auto"
	c.Dispatch.SendTimeout = 45 * time.Second
	c.Dispatch.SettleTimeout = 10 * time.Second
	c.Dispatch.RefreshLeadWindow = 2 * time.Minute
	c.Auth.Issuer = "quotamail"
	c.Rate.Enabled = true
	c.Rate.Limit = 30
	c.Rate.Window = time.Minute
	c.Idempotency.Enabled = true
	c.Idempotency.TTL = 24 * time.Hour
	c.Log.Level = "info"
	c.OTel.SampleRatio = 1
	return &c
}

// Load aplica defaults, el YAML en path (si no es "") y el entorno, y valida.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) normalize() {
	c.App.Env = strings.ToLower(strings.TrimSpace(c.App.Env))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "pg" || c.Storage.Driver == "postgresql" {
		c.Storage.Driver = "postgres"
	}
	c.Quota.Backend = strings.ToLower(strings.TrimSpace(c.Quota.Backend))
	c.Gateway.Kind = strings.ToLower(strings.TrimSpace(c.Gateway.Kind))
}

// IsDev indica entorno de desarrollo o test.
func (c *Config) IsDev() bool { return c.App.Env == "dev" || c.App.Env == "test" }

// Validate devuelve todos los problemas encontrados juntos.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres", "mysql":
		if c.Storage.DSN == "" {
			add("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		add("storage.driver %q is not supported (memory|sqlite|postgres|mysql)", c.Storage.Driver)
	}

	switch c.Quota.Backend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			add("redis.addr is required when quota.backend=redis")
		}
	default:
		add("quota.backend %q is not supported (store|redis)", c.Quota.Backend)
	}

	if c.Quota.ReservationTTL <= c.Dispatch.SendTimeout+c.Dispatch.SettleTimeout {
		add("quota.reservation_ttl (%s) must be greater than dispatch.send_timeout + dispatch.settle_timeout (%s)",
			c.Quota.ReservationTTL, c.Dispatch.SendTimeout+c.Dispatch.SettleTimeout)
	}
	if c.Dispatch.SendTimeout <= 0 {
		add("dispatch.send_timeout must be positive")
	}
	if c.Dispatch.SettleTimeout <= 0 {
		add("dispatch.settle_timeout must be positive")
	}

	switch c.Gateway.Kind {
	case "log":
		if !c.IsDev() {
			add("gateway.kind=log is only allowed in dev/test")
		}
	case "smtp":
		if c.Gateway.SMTP.Host == "" || c.Gateway.SMTP.Port <= 0 {
			add("gateway.smtp.host and gateway.smtp.port are required")
		}
	case "relay":
		if c.Gateway.Relay.URL == "" {
			add("gateway.relay.url is required when gateway.kind=relay")
		}
	default:
		add("gateway.kind %q is not supported (smtp|relay|log)", c.Gateway.Kind)
	}

	if c.Google.ClientID == "" && !c.IsDev() {
		add("google.client_id is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		add("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Rate.Enabled && (c.Rate.Limit <= 0 || c.Rate.Window <= 0) {
		add("rate.limit and rate.window must be positive when rate limiting is enabled")
	}

	if c.Security.SecretBoxKey == "" && !c.IsDev() && c.Storage.Driver != "memory" {
		add("security.secretbox_master_key is required outside dev")
	}

	return errors.Join(errs...)
}
