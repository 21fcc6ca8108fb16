package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/medication-api/pkg/messaging/redis"
	"github.com/jwalitptl/medication-api/pkg/worker"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	Mode           string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
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

type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	Lookahead          time.Duration `mapstructure:"lookahead"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	MissedGracePeriod  time.Duration `mapstructure:"missed_grace_period"`
	SweepBatchSize     int           `mapstructure:"sweep_batch_size"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	OccurrenceCacheTTL time.Duration `mapstructure:"occurrence_cache_ttl"`
	// Lock is "redis" to run one tick across replicas, or "local".
	Lock    string        `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// Timezone is an IANA name the schedule wall-clock times are read in.
	// "Local" or empty means the process zone.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves Timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type NotificationConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	EmailTo         string        `mapstructure:"email_to"`
	PushChannel     string        `mapstructure:"push_channel"`
	SMTP            SMTPConfig    `mapstructure:"smtp"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Enabled reports whether email delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Channel         string        `mapstructure:"channel"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// envOverrides are the secrets and hosts a deployment sets through the
// environment, e.g. MEDAPI_DB_HOST or MEDAPI_JWT_SECRET.
type envOverrides struct {
	DBHost       string `envconfig:"DB_HOST"`
	DBPort       int    `envconfig:"DB_PORT"`
	DBUser       string `envconfig:"DB_USER"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME"`
	DBDriver     string `envconfig:"DB_DRIVER"`
	RedisURL     string `envconfig:"REDIS_URL"`
	JWTSecret    string `envconfig:"JWT_SECRET"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	ServerPort   int    `envconfig:"SERVER_PORT"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	Timezone     string `envconfig:"TIMEZONE"`
}

const envPrefix = "MEDAPI"

// LoadConfig reads the YAML file at path, or config.yaml from the usual
// locations when path is empty, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	env.apply(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "medication_db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.issuer", "medication-api")

	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.lookahead", 5*time.Minute)
	v.SetDefault("scheduler.sweep_interval", 5*time.Minute)
	v.SetDefault("scheduler.missed_grace_period", time.Hour)
	v.SetDefault("scheduler.sweep_batch_size", 500)
	v.SetDefault("scheduler.max_concurrency", 8)
	v.SetDefault("scheduler.occurrence_cache_ttl", 24*time.Hour)
	v.SetDefault("scheduler.lock", "local")
	v.SetDefault("scheduler.lock_ttl", 55*time.Second)
	v.SetDefault("scheduler.timezone", "Local")

	v.SetDefault("notification.dispatch_timeout", 10*time.Second)
	v.SetDefault("notification.max_in_flight", 32)
	v.SetDefault("notification.push_channel", "notifications")
	v.SetDefault("notification.smtp.port", 587)
	v.SetDefault("notification.breaker.max_requests", 1)
	v.SetDefault("notification.breaker.interval", time.Minute)
	v.SetDefault("notification.breaker.timeout", 30*time.Second)
	v.SetDefault("notification.breaker.failure_threshold", 5)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.channel", "dose-events")
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.cleanup_interval", time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("logging.level", "info")
}

func (e envOverrides) apply(c *Config) {
	if e.DBHost != "" {
		c.Database.Host = e.DBHost
	}
	if e.DBPort != 0 {
		c.Database.Port = e.DBPort
	}
	if e.DBUser != "" {
		c.Database.User = e.DBUser
	}
	if e.DBPassword != "" {
		c.Database.Password = e.DBPassword
	}
	if e.DBName != "" {
		c.Database.Name = e.DBName
	}
	if e.DBDriver != "" {
		c.Database.Driver = e.DBDriver
	}
	if e.RedisURL != "" {
		c.Redis.URL = e.RedisURL
	}
	if e.JWTSecret != "" {
		c.JWT.Secret = e.JWTSecret
	}
	if e.SMTPPassword != "" {
		c.Notification.SMTP.Password = e.SMTPPassword
	}
	if e.ServerPort != 0 {
		c.Server.Port = e.ServerPort
	}
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.Timezone != "" {
		c.Scheduler.Timezone = e.Timezone
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid database.driver %q: want postgres or memory", c.Database.Driver)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.Lookahead < 0 {
		return fmt.Errorf("scheduler.lookahead must not be negative")
	}
	switch c.Scheduler.Lock {
	case "local", "redis":
	default:
		return fmt.Errorf("invalid scheduler.lock %q: want local or redis", c.Scheduler.Lock)
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 || c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0 {
		return fmt.Errorf("outbox batch_size, poll_interval, retry_attempts and retry_delay must be positive")
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		Channel:       c.Channel,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
