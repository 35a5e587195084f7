package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage auth types.
const (
	StorageAuthKeys    = "keys"
	StorageAuthSTSRole = "sts_role"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Cache     CacheConfig     `yaml:"cache"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string `yaml:"name"`
	Env   string `yaml:"env"`
	Debug bool   `yaml:"debug"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodySize limits JSON bodies. Multipart uploads are bounded by the
	// evidence limits instead.
	MaxBodySize int64 `yaml:"max_body_size"`
	// H2C serves cleartext HTTP/2 for deployments behind a TLS-terminating
	// proxy that speaks h2 to the backend.
	H2C bool `yaml:"h2c"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	MinIdleConns  int           `yaml:"min_idle_conns"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	TLSEnabled    bool          `yaml:"tls_enabled"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	MaxRetries    int           `yaml:"max_retries"`
	MinRetryDelay time.Duration `yaml:"min_retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

// StorageConfig configures the S3 compatible evidence bucket.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AuthType        string `yaml:"auth_type"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	RoleARN         string `yaml:"role_arn"`
	ExternalID      string `yaml:"external_id"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// AuthConfig holds bearer token verification settings. Tokens are issued by
// the identity provider, the API only verifies them.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	Audience  string        `yaml:"audience"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// EvidenceConfig holds upload limits.
type EvidenceConfig struct {
	MaxFilesPerUpload int      `yaml:"max_files_per_upload"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	AllowedMIMETypes  []string `yaml:"allowed_mime_types"`
	UploadConcurrency int      `yaml:"upload_concurrency"`
}

// JobsConfig configures the asynq worker and the orphan blob sweeper.
type JobsConfig struct {
	Concurrency int           `yaml:"concurrency"`
	SweepSpec   string        `yaml:"sweep_spec"`
	SweepGrace  time.Duration `yaml:"sweep_grace"`
	SweepBatch  int           `yaml:"sweep_batch"`
}

// CacheConfig holds cache TTLs.
type CacheConfig struct {
	MembershipTTL time.Duration `yaml:"membership_ttl"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
	UploadsPerMin   float64       `yaml:"uploads_per_min"`
	UploadBurst     int           `yaml:"upload_burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level             string  `yaml:"level"`
	Format            string  `yaml:"format"`
	AddSource         bool    `yaml:"add_source"`
	SamplingEnabled   bool    `yaml:"sampling_enabled"`
	SamplingThreshold int     `yaml:"sampling_threshold"`
	SamplingRate      float64 `yaml:"sampling_rate"`
	ErrorSamplingRate float64 `yaml:"error_sampling_rate"`
	SkipHealthLogs    bool    `yaml:"skip_health_logs"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	return &Config{
		App: AppConfig{Name: "vexscan-api", Env: EnvDevelopment},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "vexscan",
			Password:        "secret",
			Name:            "vexscan",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:          "localhost",
			Port:          6379,
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			MaxRetries:    3,
			MinRetryDelay: 100 * time.Millisecond,
			MaxRetryDelay: 3 * time.Second,
		},
		Storage: StorageConfig{
			Region:   "us-east-1",
			Bucket:   "vexscan-evidence",
			AuthType: StorageAuthKeys,
		},
		Auth: AuthConfig{
			JWTIssuer: "vexscan",
			Audience:  "vexscan-api",
			TokenTTL:  time.Hour,
		},
		Evidence: EvidenceConfig{
			MaxFilesPerUpload: 20,
			MaxFileSize:       50 << 20,
			UploadConcurrency: 4,
		},
		Jobs: JobsConfig{
			Concurrency: 5,
			SweepSpec:   "@every 15m",
			SweepGrace:  10 * time.Minute,
			SweepBatch:  200,
		},
		Cache: CacheConfig{MembershipTTL: 2 * time.Minute},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Content-Encoding", "X-Request-ID"},
			MaxAge:         86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RequestsPerSec:  50,
			Burst:           100,
			UploadsPerMin:   30,
			UploadBurst:     10,
			CleanupInterval: time.Minute,
		},
		Log: LogConfig{
			Level:             "info",
			Format:            "json",
			SamplingThreshold: 100,
			SamplingRate:      0.1,
			ErrorSamplingRate: 1.0,
			SkipHealthLogs:    true,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Debug = getEnvBool("APP_DEBUG", c.App.Debug)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.MaxBodySize = getEnvInt64("SERVER_MAX_BODY_SIZE", c.Server.MaxBodySize)
	c.Server.H2C = getEnvBool("SERVER_H2C", c.Server.H2C)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.MinIdleConns = getEnvInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)
	c.Redis.TLSEnabled = getEnvBool("REDIS_TLS_ENABLED", c.Redis.TLSEnabled)
	c.Redis.TLSSkipVerify = getEnvBool("REDIS_TLS_SKIP_VERIFY", c.Redis.TLSSkipVerify)
	c.Redis.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.MinRetryDelay = getEnvDuration("REDIS_MIN_RETRY_DELAY", c.Redis.MinRetryDelay)
	c.Redis.MaxRetryDelay = getEnvDuration("REDIS_MAX_RETRY_DELAY", c.Redis.MaxRetryDelay)

	c.Storage.Endpoint = getEnv("S3_ENDPOINT", c.Storage.Endpoint)
	c.Storage.Region = getEnv("S3_REGION", c.Storage.Region)
	c.Storage.Bucket = getEnv("S3_BUCKET", c.Storage.Bucket)
	c.Storage.AuthType = getEnv("S3_AUTH_TYPE", c.Storage.AuthType)
	c.Storage.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.Storage.RoleARN = getEnv("S3_ROLE_ARN", c.Storage.RoleARN)
	c.Storage.ExternalID = getEnv("S3_EXTERNAL_ID", c.Storage.ExternalID)
	c.Storage.UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", c.Storage.UsePathStyle)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTIssuer = getEnv("AUTH_JWT_ISSUER", c.Auth.JWTIssuer)
	c.Auth.Audience = getEnv("AUTH_JWT_AUDIENCE", c.Auth.Audience)
	c.Auth.TokenTTL = getEnvDuration("AUTH_TOKEN_TTL", c.Auth.TokenTTL)

	c.Evidence.MaxFilesPerUpload = getEnvInt("EVIDENCE_MAX_FILES", c.Evidence.MaxFilesPerUpload)
	c.Evidence.MaxFileSize = getEnvInt64("EVIDENCE_MAX_FILE_SIZE", c.Evidence.MaxFileSize)
	c.Evidence.AllowedExtensions = getEnvSlice("EVIDENCE_ALLOWED_EXTENSIONS", c.Evidence.AllowedExtensions)
	c.Evidence.AllowedMIMETypes = getEnvSlice("EVIDENCE_ALLOWED_MIME_TYPES", c.Evidence.AllowedMIMETypes)
	c.Evidence.UploadConcurrency = getEnvInt("EVIDENCE_UPLOAD_CONCURRENCY", c.Evidence.UploadConcurrency)

	c.Jobs.Concurrency = getEnvInt("JOBS_CONCURRENCY", c.Jobs.Concurrency)
	c.Jobs.SweepSpec = getEnv("JOBS_SWEEP_SPEC", c.Jobs.SweepSpec)
	c.Jobs.SweepGrace = getEnvDuration("JOBS_SWEEP_GRACE", c.Jobs.SweepGrace)
	c.Jobs.SweepBatch = getEnvInt("JOBS_SWEEP_BATCH", c.Jobs.SweepBatch)

	c.Cache.MembershipTTL = getEnvDuration("CACHE_MEMBERSHIP_TTL", c.Cache.MembershipTTL)

	c.CORS.AllowedOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", c.CORS.AllowedOrigins)
	c.CORS.AllowedMethods = getEnvSlice("CORS_ALLOWED_METHODS", c.CORS.AllowedMethods)
	c.CORS.AllowedHeaders = getEnvSlice("CORS_ALLOWED_HEADERS", c.CORS.AllowedHeaders)
	c.CORS.MaxAge = getEnvInt("CORS_MAX_AGE", c.CORS.MaxAge)

	c.RateLimit.Enabled = getEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerSec = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RequestsPerSec)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.UploadsPerMin = getEnvFloat("RATE_LIMIT_UPLOADS_PER_MIN", c.RateLimit.UploadsPerMin)
	c.RateLimit.UploadBurst = getEnvInt("RATE_LIMIT_UPLOAD_BURST", c.RateLimit.UploadBurst)
	c.RateLimit.CleanupInterval = getEnvDuration("RATE_LIMIT_CLEANUP", c.RateLimit.CleanupInterval)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.AddSource = getEnvBool("LOG_ADD_SOURCE", c.Log.AddSource)
	c.Log.SamplingEnabled = getEnvBool("LOG_SAMPLING_ENABLED", c.Log.SamplingEnabled)
	c.Log.SamplingThreshold = getEnvInt("LOG_SAMPLING_THRESHOLD", c.Log.SamplingThreshold)
	c.Log.SamplingRate = getEnvFloat("LOG_SAMPLING_RATE", c.Log.SamplingRate)
	c.Log.ErrorSamplingRate = getEnvFloat("LOG_ERROR_SAMPLING_RATE", c.Log.ErrorSamplingRate)
	c.Log.SkipHealthLogs = getEnvBool("LOG_SKIP_HEALTH", c.Log.SkipHealthLogs)

	c.Tracing.Enabled = getEnvBool("OTEL_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)
	c.Tracing.SampleRatio = getEnvFloat("OTEL_SAMPLE_RATIO", c.Tracing.SampleRatio)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.IsProduction() {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Storage.Bucket == "" {
		return errors.New("S3_BUCKET is required")
	}
	switch c.Storage.AuthType {
	case StorageAuthKeys:
	case StorageAuthSTSRole:
		if c.Storage.RoleARN == "" {
			return errors.New("S3_ROLE_ARN is required when S3_AUTH_TYPE=sts_role")
		}
	default:
		return fmt.Errorf("invalid S3_AUTH_TYPE: %s (must be keys or sts_role)", c.Storage.AuthType)
	}
	if c.Evidence.MaxFilesPerUpload < 1 {
		return fmt.Errorf("EVIDENCE_MAX_FILES must be at least 1, got %d", c.Evidence.MaxFilesPerUpload)
	}
	if c.Evidence.MaxFileSize < 1 {
		return fmt.Errorf("EVIDENCE_MAX_FILE_SIZE must be positive, got %d", c.Evidence.MaxFileSize)
	}
	if c.Evidence.UploadConcurrency < 1 {
		return fmt.Errorf("EVIDENCE_UPLOAD_CONCURRENCY must be at least 1, got %d", c.Evidence.UploadConcurrency)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0.0 and 1.0, got %f", c.Tracing.SampleRatio)
	}
	return c.validateLog()
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text", "pretty":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json, text or pretty)", c.Log.Format)
	}
	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Log.ErrorSamplingRate < 0.0 || c.Log.ErrorSamplingRate > 1.0 {
		return fmt.Errorf("LOG_ERROR_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.ErrorSamplingRate)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required in production")
	}
	if slices.Contains(c.CORS.AllowedOrigins, "*") {
		return errors.New("CORS wildcard origin not allowed in production")
	}
	if c.Database.SSLMode == "disable" {
		return errors.New("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if !c.RateLimit.Enabled {
		return errors.New("rate limiting must be enabled in production")
	}
	if c.App.Debug {
		return errors.New("debug mode must be disabled in production")
	}
	if c.Storage.AuthType == StorageAuthKeys && (c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "") {
		return errors.New("S3 access keys must be set in production when S3_AUTH_TYPE=keys")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as expected by
// the migration driver.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
