package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Identity IdentityConfig `mapstructure:"identity"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings of the job gateway.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JobsPerDay     int      `mapstructure:"jobs_per_day"`
	ClamdAddr      string   `mapstructure:"clamd_addr"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port for go-redis and asynq.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// JobsConfig 描述三个远端 AI 任务服务的 WebSocket 地址与超时参数。
// SpeechURL/AgeURL/BackgroundURL 为空时由 Host 推导（wss://<host>/ws/...）。
type JobsConfig struct {
	Host             string        `mapstructure:"host"`
	SpeechURL        string        `mapstructure:"speech_url"`
	AgeURL           string        `mapstructure:"age_url"`
	BackgroundURL    string        `mapstructure:"background_url"`
	SpeechTimeout    time.Duration `mapstructure:"speech_timeout"`
	ImageTimeout     time.Duration `mapstructure:"image_timeout"`
	CloseGrace       time.Duration `mapstructure:"close_grace"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// BackendConfig points at the REST backend that owns projects and uploads.
type BackendConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	BaseURL     string        `mapstructure:"base_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// IdentityConfig configures the hosted identity provider used for sign-in.
type IdentityConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	TokenURL    string `mapstructure:"token_url"`
	SessionFile string `mapstructure:"session_file"`
}

// AuthConfig 用于网关校验浏览器携带的 ID Token。
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkerConfig holds asynq server options.
type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	fillJobEndpoints(&cfg.Jobs)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.jobs_per_day", 50)
	v.SetDefault("api.max_upload_bytes", 10*1024*1024)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "portrait")
	v.SetDefault("database.user", "portrait")
	v.SetDefault("database.password", "portrait")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "portraits")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("jobs.speech_timeout", 60*time.Second)
	v.SetDefault("jobs.image_timeout", 120*time.Second)
	v.SetDefault("jobs.close_grace", time.Second)
	v.SetDefault("jobs.handshake_timeout", 15*time.Second)
	v.SetDefault("backend.api_url", "http://localhost:8000/api")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.http_timeout", 30*time.Second)
	v.SetDefault("identity.base_url", "https://identitytoolkit.googleapis.com/v1")
	v.SetDefault("identity.token_url", "https://securetoken.googleapis.com/v1/token")
	v.SetDefault("identity.session_file", ".portrait-session.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.metrics_addr", ":9091")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"api.allowed_origins":      "API_ALLOWED_ORIGINS",
		"api.jobs_per_day":         "API_JOBS_PER_DAY",
		"api.clamd_addr":           "CLAMD_ADDR",
		"api.max_upload_bytes":     "API_MAX_UPLOAD_BYTES",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.region":             "MINIO_REGION",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"jobs.host":                "JOBS_HOST",
		"jobs.speech_url":          "JOBS_SPEECH_URL",
		"jobs.age_url":             "JOBS_AGE_URL",
		"jobs.background_url":      "JOBS_BACKGROUND_URL",
		"jobs.speech_timeout":      "JOBS_SPEECH_TIMEOUT",
		"jobs.image_timeout":       "JOBS_IMAGE_TIMEOUT",
		"jobs.close_grace":         "JOBS_CLOSE_GRACE",
		"jobs.handshake_timeout":   "JOBS_HANDSHAKE_TIMEOUT",
		"backend.api_url":          "API_URL",
		"backend.base_url":         "BACKEND_URL",
		"backend.http_timeout":     "BACKEND_HTTP_TIMEOUT",
		"identity.api_key":         "IDENTITY_API_KEY",
		"identity.base_url":        "IDENTITY_BASE_URL",
		"identity.token_url":       "IDENTITY_TOKEN_URL",
		"identity.session_file":    "SESSION_FILE",
		"auth.public_key_path":     "AUTH_PUBLIC_KEY_PATH",
		"auth.issuer":              "AUTH_ISSUER",
		"auth.audience":            "AUTH_AUDIENCE",
		"log.level":                "LOG_LEVEL",
		"log.format":               "LOG_FORMAT",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"worker.metrics_addr":      "WORKER_METRICS_ADDR",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func fillJobEndpoints(j *JobsConfig) {
	host := strings.TrimRight(strings.TrimSpace(j.Host), "/")
	if host == "" {
		return
	}
	if j.SpeechURL == "" {
		j.SpeechURL = "wss://" + host + "/ws/tts"
	}
	if j.AgeURL == "" {
		j.AgeURL = "wss://" + host + "/ws/age"
	}
	if j.BackgroundURL == "" {
		j.BackgroundURL = "wss://" + host + "/ws/background"
	}
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Jobs.SpeechTimeout <= 0 {
		return errors.New("jobs speech timeout must be positive")
	}
	if cfg.Jobs.ImageTimeout <= 0 {
		return errors.New("jobs image timeout must be positive")
	}
	if cfg.Jobs.CloseGrace < 0 {
		return errors.New("jobs close grace must not be negative")
	}
	for name, raw := range map[string]string{
		"speech":     cfg.Jobs.SpeechURL,
		"age":        cfg.Jobs.AgeURL,
		"background": cfg.Jobs.BackgroundURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse %s job url: %w", name, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%s job url must use ws or wss scheme, got %q", name, u.Scheme)
		}
	}
	if cfg.Backend.HTTPTimeout <= 0 {
		return errors.New("backend http timeout must be positive")
	}
	return nil
}

// ValidateGateway checks the sections only the api and worker binaries need.
func ValidateGateway(cfg *Config) error {
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.PublicKeyPath == "" {
		return errors.New("auth public key path is required")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
