package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Authority      AuthorityConfig
	Vault          VaultConfig
	Lifecycle      LifecycleConfig
	Reconciliation ReconciliationConfig
	Storage        StorageConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// AuthorityConfig holds tax authority bulk download endpoint settings
type AuthorityConfig struct {
	BaseURL     string
	Timeout     time.Duration // per remote call
	UserAgent   string
	Environment string // "production" or "sandbox"
}

// VaultConfig holds the signing-credential service settings
type VaultConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	CacheTTL time.Duration // credential cache entry lifetime in Redis
}

// LifecycleConfig holds the bulk request advancement engine settings
type LifecycleConfig struct {
	Enabled       bool
	TickInterval  time.Duration // how often due requests are claimed
	BatchLimit    int           // max requests claimed per tick
	MaxAttempts   int           // transient retry ceiling per state
	PollInterval  time.Duration // re-poll delay while the authority prepares
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxConcurrent int // parallel request advancement per tick
	ClaimLease    time.Duration
}

// ReconciliationConfig holds cash-basis reconciliation settings
type ReconciliationConfig struct {
	Epsilon float64 // settlement tolerance in currency units
}

// StorageConfig holds raw package archive settings
type StorageConfig struct {
	Enabled   bool
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for MinIO-style deployments
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FISCALDESK_ prefix (e.g., FISCALDESK_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("FISCALDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Authority: AuthorityConfig{
			BaseURL:     v.GetString("authority.base_url"),
			Timeout:     v.GetDuration("authority.timeout"),
			UserAgent:   v.GetString("authority.user_agent"),
			Environment: v.GetString("authority.environment"),
		},
		Vault: VaultConfig{
			BaseURL:  v.GetString("vault.base_url"),
			Token:    v.GetString("vault.token"),
			Timeout:  v.GetDuration("vault.timeout"),
			CacheTTL: v.GetDuration("vault.cache_ttl"),
		},
		Lifecycle: LifecycleConfig{
			Enabled:       v.GetBool("lifecycle.enabled"),
			TickInterval:  v.GetDuration("lifecycle.tick_interval"),
			BatchLimit:    v.GetInt("lifecycle.batch_limit"),
			MaxAttempts:   v.GetInt("lifecycle.max_attempts"),
			PollInterval:  v.GetDuration("lifecycle.poll_interval"),
			BackoffBase:   v.GetDuration("lifecycle.backoff_base"),
			BackoffMax:    v.GetDuration("lifecycle.backoff_max"),
			MaxConcurrent: v.GetInt("lifecycle.max_concurrent"),
			ClaimLease:    v.GetDuration("lifecycle.claim_lease"),
		},
		Reconciliation: ReconciliationConfig{
			Epsilon: v.GetFloat64("reconciliation.epsilon"),
		},
		Storage: StorageConfig{
			Enabled:   v.GetBool("storage.enabled"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			PathStyle: v.GetBool("storage.path_style"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fiscaldesk-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fiscaldesk"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.Authority.Timeout == 0 {
		cfg.Authority.Timeout = 2 * time.Minute
	}
	if cfg.Authority.UserAgent == "" {
		cfg.Authority.UserAgent = "fiscaldesk/1.0"
	}
	if cfg.Authority.Environment == "" {
		cfg.Authority.Environment = "sandbox"
	}
	if cfg.Vault.Timeout == 0 {
		cfg.Vault.Timeout = 10 * time.Second
	}
	if cfg.Vault.CacheTTL == 0 {
		cfg.Vault.CacheTTL = 15 * time.Minute
	}
	if cfg.Lifecycle.TickInterval == 0 {
		cfg.Lifecycle.TickInterval = 15 * time.Minute
	}
	if cfg.Lifecycle.BatchLimit == 0 {
		cfg.Lifecycle.BatchLimit = 20
	}
	if cfg.Lifecycle.MaxAttempts == 0 {
		cfg.Lifecycle.MaxAttempts = 5
	}
	if cfg.Lifecycle.PollInterval == 0 {
		cfg.Lifecycle.PollInterval = 5 * time.Minute
	}
	if cfg.Lifecycle.BackoffBase == 0 {
		cfg.Lifecycle.BackoffBase = 30 * time.Second
	}
	if cfg.Lifecycle.BackoffMax == 0 {
		cfg.Lifecycle.BackoffMax = 30 * time.Minute
	}
	if cfg.Lifecycle.MaxConcurrent == 0 {
		cfg.Lifecycle.MaxConcurrent = 4
	}
	if cfg.Lifecycle.ClaimLease == 0 {
		cfg.Lifecycle.ClaimLease = 5 * time.Minute
	}
	if cfg.Reconciliation.Epsilon == 0 {
		cfg.Reconciliation.Epsilon = 0.05
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "fiscaldesk-packages"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Lifecycle.BatchLimit <= 0 {
		return fmt.Errorf("lifecycle.batch_limit must be positive")
	}
	if c.Lifecycle.MaxConcurrent <= 0 {
		return fmt.Errorf("lifecycle.max_concurrent must be positive")
	}
	if c.Lifecycle.BackoffMax < c.Lifecycle.BackoffBase {
		return fmt.Errorf("lifecycle.backoff_max (%s) cannot be below lifecycle.backoff_base (%s)",
			c.Lifecycle.BackoffMax, c.Lifecycle.BackoffBase)
	}
	if c.Reconciliation.Epsilon < 0 {
		return fmt.Errorf("reconciliation.epsilon cannot be negative")
	}
	if c.Authority.Environment != "sandbox" && c.Authority.Environment != "production" {
		return fmt.Errorf("authority.environment must be 'sandbox' or 'production', got %q", c.Authority.Environment)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Authority.BaseURL == "" {
			return fmt.Errorf("authority.base_url is required in production")
		}
		if c.Vault.BaseURL == "" {
			return fmt.Errorf("vault.base_url is required in production")
		}
		if c.Vault.Token == "" {
			return fmt.Errorf("vault.token is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
