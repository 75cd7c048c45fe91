package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/app/configs")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	v.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	v.BindEnv("backend.base_url", "BACKEND_BASE_URL", "APP_BACKEND_BASE_URL")
	v.BindEnv("backend.token", "BACKEND_TOKEN", "APP_BACKEND_TOKEN")
	v.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	v.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	v.BindEnv("nats.url", "NATS_URL", "APP_NATS_URL")
	v.BindEnv("rabbitmq.url", "RABBITMQ_URL", "APP_RABBITMQ_URL")
	v.BindEnv("vault.address", "VAULT_ADDR", "APP_VAULT_ADDRESS")
	v.BindEnv("vault.token", "VAULT_TOKEN", "APP_VAULT_TOKEN")
	v.BindEnv("payment.stripe.secret_key", "STRIPE_SECRET_KEY")
	v.BindEnv("app.environment", "APP_ENVIRONMENT")
	v.BindEnv("logging.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sigec-ve-client")
	v.SetDefault("app.version", "v1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.billing_wait", 25*time.Second)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 9090)

	v.SetDefault("backend.base_url", "http://localhost:8081/api")
	v.SetDefault("backend.timeout", 10*time.Second)

	v.SetDefault("polling.charge_point_active", 2*time.Second)
	v.SetDefault("polling.charge_point_idle", 3*time.Second)
	v.SetDefault("polling.transaction", 2*time.Second)
	v.SetDefault("polling.meter_values", 3*time.Second)
	v.SetDefault("polling.meter_window", 30)

	v.SetDefault("cascade.delays", []string{"1s", "2s", "4s", "8s"})

	v.SetDefault("wallet.min_top_up", 1)
	v.SetDefault("wallet.max_top_up", 100000)
	v.SetDefault("wallet.currency", "BRL")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.bolt_path", "data/sessions.db")
	v.SetDefault("queue.driver", "local")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("opentelemetry.service_name", "sigec-ve-client")
	v.SetDefault("opentelemetry.jaeger.sampler_param", 1.0)
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", time.Minute)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 0.6)

	v.SetDefault("cache.resource_ttl", 5*time.Minute)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("config: backend.base_url is required")
	}

	p := c.Polling
	if p.ChargePointActive <= 0 || p.ChargePointIdle <= 0 || p.Transaction <= 0 || p.MeterValues <= 0 {
		return errors.New("config: polling intervals must be positive")
	}

	if len(c.Cascade.Delays) == 0 {
		return errors.New("config: cascade.delays must not be empty")
	}
	var prev time.Duration
	for i, d := range c.Cascade.Delays {
		if d <= prev {
			return fmt.Errorf("config: cascade.delays[%d]=%s must be greater than %s", i, d, prev)
		}
		prev = d
	}

	if c.Wallet.MinTopUp <= 0 || c.Wallet.MaxTopUp < c.Wallet.MinTopUp {
		return fmt.Errorf("config: invalid top-up bounds [%v, %v]", c.Wallet.MinTopUp, c.Wallet.MaxTopUp)
	}

	switch c.Queue.Driver {
	case "", "local", "nats", "rabbitmq":
	default:
		return fmt.Errorf("config: unknown queue driver %q", c.Queue.Driver)
	}

	return nil
}
