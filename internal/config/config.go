package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Log          LogConfig          `mapstructure:"log"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Location     LocationConfig     `mapstructure:"location"`
	Notification NotificationConfig `mapstructure:"notification"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Storage selects the repository driver: "postgres" or "memory".
	Storage      string   `mapstructure:"storage"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LocationConfig tunes fix acquisition and watch polling.
type LocationConfig struct {
	HighAccuracyTimeout   time.Duration `mapstructure:"high_accuracy_timeout"`
	HighAccuracyMaxAge    time.Duration `mapstructure:"high_accuracy_max_age"`
	LowAccuracyTimeout    time.Duration `mapstructure:"low_accuracy_timeout"`
	LowAccuracyMaxAge     time.Duration `mapstructure:"low_accuracy_max_age"`
	HighAccuracyMeters    float64       `mapstructure:"high_accuracy_meters"`
	PatientPollInterval   time.Duration `mapstructure:"patient_poll_interval"`
	ResponderPollInterval time.Duration `mapstructure:"responder_poll_interval"`
	FixCacheTTL           time.Duration `mapstructure:"fix_cache_ttl"`
}

type NotificationConfig struct {
	// Channels in preference order; the first one a recipient can be reached on wins.
	Channels    []string      `mapstructure:"channels"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`

	// AppURL is linked from invitation emails.
	AppURL string     `mapstructure:"app_url"`
	SMS    SMSConfig  `mapstructure:"sms"`
	SMTP   SMTPConfig `mapstructure:"smtp"`
}

type SMSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Sender  string        `mapstructure:"sender"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	Retention       time.Duration `mapstructure:"retention"`

	// HealthPort serves the worker's health and metrics endpoints.
	HealthPort int `mapstructure:"health_port"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Secrets are read from the environment after the config file, so they never
// need to live in YAML.
type Secrets struct {
	DatabasePassword string `envconfig:"DB_PASSWORD"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	RedisURL         string `envconfig:"REDIS_URL"`
	SMSAPIKey        string `envconfig:"SMS_API_KEY"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
}

const envPrefix = "ALLERAID"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.storage", "postgres")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "alleraid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("jwt.issuer", "alleraid")

	v.SetDefault("log.level", "info")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("location.high_accuracy_timeout", 30*time.Second)
	v.SetDefault("location.high_accuracy_max_age", 5*time.Minute)
	v.SetDefault("location.low_accuracy_timeout", 15*time.Second)
	v.SetDefault("location.low_accuracy_max_age", 10*time.Minute)
	v.SetDefault("location.high_accuracy_meters", 50.0)
	v.SetDefault("location.patient_poll_interval", 5*time.Second)
	v.SetDefault("location.responder_poll_interval", 10*time.Second)
	v.SetDefault("location.fix_cache_ttl", 15*time.Minute)

	v.SetDefault("notification.channels", []string{"sms", "push", "email"})
	v.SetDefault("notification.send_timeout", 20*time.Second)
	v.SetDefault("notification.sms.timeout", 10*time.Second)
	v.SetDefault("notification.smtp.port", 587)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)
	v.SetDefault("outbox.cleanup_schedule", "@hourly")
	v.SetDefault("outbox.retention", 24*time.Hour)
	v.SetDefault("outbox.health_port", 8081)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "alleraid")
}

// LoadConfig reads config.yaml from the usual search paths, applies
// ALLERAID_* environment overrides and secrets, then validates the result.
// A missing config file is not an error; defaults apply.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(envPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	config.applySecrets(secrets)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
	}
	if s.SMSAPIKey != "" {
		c.Notification.SMS.APIKey = s.SMSAPIKey
	}
	if s.SMTPPassword != "" {
		c.Notification.SMTP.Password = s.SMTPPassword
	}
}

var knownChannels = map[string]bool{"sms": true, "push": true, "email": true}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	switch c.Server.Storage {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for postgres storage"))
		}
		if c.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("redis.url is required for postgres storage"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("server.storage must be postgres or memory, got %q", c.Server.Storage))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt.secret is required"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, fmt.Errorf("rate_limit needs positive requests_per_second and burst"))
	}
	if c.Location.HighAccuracyTimeout <= 0 || c.Location.LowAccuracyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("location timeouts must be positive"))
	}
	if c.Location.PatientPollInterval <= 0 || c.Location.ResponderPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("location poll intervals must be positive"))
	}
	if len(c.Notification.Channels) == 0 {
		errs = append(errs, fmt.Errorf("notification.channels must list at least one channel"))
	}
	for _, ch := range c.Notification.Channels {
		if !knownChannels[ch] {
			errs = append(errs, fmt.Errorf("unknown notification channel %q", ch))
		}
	}
	if c.Notification.SMS.Enabled && c.Notification.SMS.BaseURL == "" {
		errs = append(errs, fmt.Errorf("notification.sms.base_url is required when sms is enabled"))
	}
	if c.Notification.SMTP.Enabled && (c.Notification.SMTP.Host == "" || c.Notification.SMTP.From == "") {
		errs = append(errs, fmt.Errorf("notification.smtp.host and from are required when smtp is enabled"))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 || c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("outbox batch_size, poll_interval, retry_attempts and retry_delay must be positive"))
	}

	return errors.Join(errs...)
}
