package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"assesslab/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	S3       S3Config
	Log      LogConfig
	CORS     CORSConfig
	Auth     AuthConfig
	Model    ModelConfig
	OpenAI   OpenAIConfig
	Pipeline PipelineConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings for the OCR text store.
// An empty Host disables the store.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Enabled reports whether a database host is configured.
func (d *DBConfig) Enabled() bool {
	return d.Host != ""
}

// RedisConfig holds the OCR text cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// S3Config holds the evaluation archive settings.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ArchiveEnabled bool   `mapstructure:"archive_enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig holds bearer token verification settings. An empty JWTSecret disables verification.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// ModelConfig holds settings for the model invocation endpoint.
type ModelConfig struct {
	Provider        string        `mapstructure:"provider"`
	ModelID         string        `mapstructure:"model_id"`
	Region          string        `mapstructure:"region"`
	Service         string        `mapstructure:"service"`
	EndpointPrefix  string        `mapstructure:"endpoint_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// BaseURL returns the endpoint override, or the regional endpoint derived from prefix and region.
func (m *ModelConfig) BaseURL() string {
	if m.Endpoint != "" {
		return strings.TrimRight(m.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.%s.amazonaws.com", m.EndpointPrefix, m.Region)
}

// OpenAIConfig holds settings for the bearer-token completion endpoint.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// PipelineConfig holds evaluation pipeline limits.
type PipelineConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	BatchSize       int           `mapstructure:"batch_size"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	HeadTimeout     time.Duration `mapstructure:"head_timeout"`
	ParallelBatches bool          `mapstructure:"parallel_batches"`
	FetchWorkers    int           `mapstructure:"fetch_workers"`
}

// Load reads configuration from environment variables with the ASSESSLAB_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ASSESSLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "330s")
	v.SetDefault("server.environment", "development")

	// DB defaults (disabled unless a host is set)
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "postgres")
	v.SetDefault("db.sslmode", "require")
	v.SetDefault("db.max_open", 10)
	v.SetDefault("db.max_idle", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "assesslab-evaluations")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.archive_enabled", false)

	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	// Model defaults target the signed Bedrock runtime endpoint.
	v.SetDefault("model.provider", "bedrock")
	v.SetDefault("model.model_id", "anthropic.claude-3-sonnet-20240229-v1:0")
	v.SetDefault("model.region", "")
	v.SetDefault("model.service", "bedrock")
	v.SetDefault("model.endpoint_prefix", "bedrock-runtime")
	v.SetDefault("model.endpoint", "")
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("model.timeout", "120s")

	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")

	v.SetDefault("pipeline.timeout", "5m")
	v.SetDefault("pipeline.batch_size", 4)
	v.SetDefault("pipeline.fetch_timeout", "30s")
	v.SetDefault("pipeline.head_timeout", "15s")
	v.SetDefault("pipeline.parallel_batches", false)
	v.SetDefault("pipeline.fetch_workers", 4)

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":               "ASSESSLAB_SERVER_PORT",
		"server.read_timeout":       "ASSESSLAB_SERVER_READ_TIMEOUT",
		"server.write_timeout":      "ASSESSLAB_SERVER_WRITE_TIMEOUT",
		"server.environment":        "ASSESSLAB_SERVER_ENVIRONMENT",
		"db.host":                   "ASSESSLAB_DB_HOST",
		"db.port":                   "ASSESSLAB_DB_PORT",
		"db.user":                   "ASSESSLAB_DB_USER",
		"db.password":               "ASSESSLAB_DB_PASSWORD",
		"db.name":                   "ASSESSLAB_DB_NAME",
		"db.sslmode":                "ASSESSLAB_DB_SSLMODE",
		"db.max_open":               "ASSESSLAB_DB_MAX_OPEN",
		"db.max_idle":               "ASSESSLAB_DB_MAX_IDLE",
		"redis.addr":                "ASSESSLAB_REDIS_ADDR",
		"redis.password":            "ASSESSLAB_REDIS_PASSWORD",
		"redis.db":                  "ASSESSLAB_REDIS_DB",
		"redis.ttl":                 "ASSESSLAB_REDIS_TTL",
		"s3.region":                 "ASSESSLAB_S3_REGION",
		"s3.bucket":                 "ASSESSLAB_S3_BUCKET",
		"s3.endpoint":               "ASSESSLAB_S3_ENDPOINT",
		"s3.access_key":             "ASSESSLAB_S3_ACCESS_KEY",
		"s3.secret_key":             "ASSESSLAB_S3_SECRET_KEY",
		"s3.archive_enabled":        "ASSESSLAB_S3_ARCHIVE_ENABLED",
		"log.level":                 "ASSESSLAB_LOG_LEVEL",
		"log.format":                "ASSESSLAB_LOG_FORMAT",
		"cors.allowed_origins":      "ASSESSLAB_CORS_ALLOWED_ORIGINS",
		"auth.jwt_secret":           "ASSESSLAB_AUTH_JWT_SECRET",
		"auth.issuer":               "ASSESSLAB_AUTH_ISSUER",
		"model.provider":            "ASSESSLAB_MODEL_PROVIDER",
		"model.model_id":            "ASSESSLAB_MODEL_MODEL_ID",
		"model.region":              "ASSESSLAB_MODEL_REGION",
		"model.service":             "ASSESSLAB_MODEL_SERVICE",
		"model.endpoint_prefix":     "ASSESSLAB_MODEL_ENDPOINT_PREFIX",
		"model.endpoint":            "ASSESSLAB_MODEL_ENDPOINT",
		"model.access_key_id":       "ASSESSLAB_MODEL_ACCESS_KEY_ID",
		"model.secret_access_key":   "ASSESSLAB_MODEL_SECRET_ACCESS_KEY",
		"model.max_tokens":          "ASSESSLAB_MODEL_MAX_TOKENS",
		"model.temperature":         "ASSESSLAB_MODEL_TEMPERATURE",
		"model.timeout":             "ASSESSLAB_MODEL_TIMEOUT",
		"openai.api_key":            "ASSESSLAB_OPENAI_API_KEY",
		"openai.base_url":           "ASSESSLAB_OPENAI_BASE_URL",
		"openai.model":              "ASSESSLAB_OPENAI_MODEL",
		"pipeline.timeout":          "ASSESSLAB_PIPELINE_TIMEOUT",
		"pipeline.batch_size":       "ASSESSLAB_PIPELINE_BATCH_SIZE",
		"pipeline.fetch_timeout":    "ASSESSLAB_PIPELINE_FETCH_TIMEOUT",
		"pipeline.head_timeout":     "ASSESSLAB_PIPELINE_HEAD_TIMEOUT",
		"pipeline.parallel_batches": "ASSESSLAB_PIPELINE_PARALLEL_BATCHES",
		"pipeline.fetch_workers":    "ASSESSLAB_PIPELINE_FETCH_WORKERS",
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Hosting platforms set PORT. Use it if ASSESSLAB_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("ASSESSLAB_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
		TTL:      v.GetDuration("redis.ttl"),
	}
	cfg.S3 = S3Config{
		Region:         v.GetString("s3.region"),
		Bucket:         v.GetString("s3.bucket"),
		Endpoint:       v.GetString("s3.endpoint"),
		AccessKey:      v.GetString("s3.access_key"),
		SecretKey:      v.GetString("s3.secret_key"),
		ArchiveEnabled: v.GetBool("s3.archive_enabled"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	cfg.Auth = AuthConfig{
		JWTSecret: v.GetString("auth.jwt_secret"),
		Issuer:    v.GetString("auth.issuer"),
	}

	cfg.Model = ModelConfig{
		Provider:        v.GetString("model.provider"),
		ModelID:         v.GetString("model.model_id"),
		Region:          firstNonEmpty(v.GetString("model.region"), os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION")),
		Service:         v.GetString("model.service"),
		EndpointPrefix:  v.GetString("model.endpoint_prefix"),
		Endpoint:        v.GetString("model.endpoint"),
		AccessKeyID:     firstNonEmpty(v.GetString("model.access_key_id"), os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: firstNonEmpty(v.GetString("model.secret_access_key"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
		MaxTokens:       v.GetInt("model.max_tokens"),
		Temperature:     v.GetFloat64("model.temperature"),
		Timeout:         v.GetDuration("model.timeout"),
	}

	cfg.OpenAI = OpenAIConfig{
		APIKey:  firstNonEmpty(v.GetString("openai.api_key"), os.Getenv("OPENAI_API_KEY")),
		BaseURL: v.GetString("openai.base_url"),
		Model:   v.GetString("openai.model"),
	}

	cfg.Pipeline = PipelineConfig{
		Timeout:         v.GetDuration("pipeline.timeout"),
		BatchSize:       v.GetInt("pipeline.batch_size"),
		FetchTimeout:    v.GetDuration("pipeline.fetch_timeout"),
		HeadTimeout:     v.GetDuration("pipeline.head_timeout"),
		ParallelBatches: v.GetBool("pipeline.parallel_batches"),
		FetchWorkers:    v.GetInt("pipeline.fetch_workers"),
	}

	if cfg.Pipeline.BatchSize < 1 || cfg.Pipeline.BatchSize > 4 {
		return nil, fmt.Errorf("pipeline.batch_size must be between 1 and 4, got %d", cfg.Pipeline.BatchSize)
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// CheckModelCredentials reports which credentials the selected provider is missing.
// It is evaluated per request so a misconfigured deployment still boots and answers 401.
func (c *Config) CheckModelCredentials() error {
	var missing []string
	switch c.Model.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		if c.Model.AccessKeyID == "" {
			missing = append(missing, "AWS_ACCESS_KEY_ID")
		}
		if c.Model.SecretAccessKey == "" {
			missing = append(missing, "AWS_SECRET_ACCESS_KEY")
		}
		if c.Model.Region == "" {
			missing = append(missing, "AWS_REGION")
		}
		if c.Model.Service == "" {
			missing = append(missing, "ASSESSLAB_MODEL_SERVICE")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}
