package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr     = ":8080"
	defaultRedisURL = "redis://localhost:6379/0"
	defaultMode     = "all"
	defaultWorkers  = 4
)

type Config struct {
	Addr          string
	DBPath        string
	RedisURL      string
	Env           string
	Mode          string // all, api or worker
	Workers       int
	ProvidersFile string
	APIToken      string
	TLSCertFile   string
	TLSKeyFile    string

	Storage    string // local or s3
	StorageDir string
	PublicURL  string
	Mirror     bool
	S3         S3Settings

	WebhookSecret string

	RetentionTTL      time.Duration
	RetentionSchedule string

	LogFile  string
	LogLevel slog.Level
}

type S3Settings struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

func (c Config) RunAPI() bool    { return c.Mode == "all" || c.Mode == "api" }
func (c Config) RunWorker() bool { return c.Mode == "all" || c.Mode == "worker" }

// LoadConfig reads GENPULSE_* variables and lets args override them.
func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	workers, err := envInt("GENPULSE_WORKERS", defaultWorkers)
	if err != nil {
		return Config{}, err
	}
	mirror, err := envBool("GENPULSE_STORAGE_MIRROR", false)
	if err != nil {
		return Config{}, err
	}
	pathStyle, err := envBool("GENPULSE_S3_PATH_STYLE", false)
	if err != nil {
		return Config{}, err
	}

	flagSet := flag.NewFlagSet("genpulse-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", envOrDefault("GENPULSE_ADDR", defaultAddr), "HTTP listen address")
	flagDB := flagSet.String("db", envOrDefault("GENPULSE_DB_PATH", filepath.Join(cwd, "genpulse.db")), "path to SQLite database")
	flagRedis := flagSet.String("redis-url", envOrDefault("GENPULSE_REDIS_URL", defaultRedisURL), "Redis connection URL")
	flagEnv := flagSet.String("env", envOrDefault("GENPULSE_ENV", "dev"), "environment: dev|test|prod (selects the Redis key prefix)")
	flagMode := flagSet.String("mode", envOrDefault("GENPULSE_MODE", defaultMode), "run mode: all|api|worker")
	flagWorkers := flagSet.Int("workers", workers, "number of dispatch goroutines")
	flagProviders := flagSet.String("providers", envOrDefault("GENPULSE_PROVIDERS_FILE", filepath.Join(cwd, "providers.yaml")), "provider settings YAML")
	flagToken := flagSet.String("token", os.Getenv("GENPULSE_API_TOKEN"), "bearer token required by the API (empty disables auth)")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("GENPULSE_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("GENPULSE_TLS_KEY"), "TLS key file")
	flagStorage := flagSet.String("storage", envOrDefault("GENPULSE_STORAGE", "local"), "artifact storage: local|s3")
	flagStorageDir := flagSet.String("storage-dir", envOrDefault("GENPULSE_STORAGE_DIR", filepath.Join(cwd, "data")), "root directory for local storage")
	flagPublicURL := flagSet.String("public-url", envOrDefault("GENPULSE_PUBLIC_URL", "http://localhost:8080"), "externally reachable base URL of this gateway")
	flagMirror := flagSet.Bool("mirror", mirror, "re-host vendor result URLs in our storage")
	flagSecret := flagSet.String("webhook-secret", os.Getenv("GENPULSE_WEBHOOK_SECRET"), "HMAC secret for callback signatures")
	flagRetention := flagSet.String("retention", envOrDefault("GENPULSE_RETENTION_TTL", "0"), "delete terminal tasks older than this (0 disables)")
	flagSchedule := flagSet.String("retention-schedule", envOrDefault("GENPULSE_RETENTION_SCHEDULE", "@hourly"), "cron schedule of the retention sweep")
	flagLogFile := flagSet.String("log-file", os.Getenv("GENPULSE_LOG_FILE"), "additional JSON log file")
	flagLogLevel := flagSet.String("log-level", envOrDefault("GENPULSE_LOG_LEVEL", "info"), "log level: debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	retention, err := time.ParseDuration(*flagRetention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retention: %w", err)
	}
	if retention < 0 {
		return Config{}, errors.New("retention must not be negative")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*flagLogLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q", *flagLogLevel)
	}

	cfg := Config{
		Addr:          strings.TrimSpace(*flagAddr),
		DBPath:        resolvePath(*flagDB, cwd),
		RedisURL:      strings.TrimSpace(*flagRedis),
		Env:           strings.ToLower(strings.TrimSpace(*flagEnv)),
		Mode:          strings.ToLower(strings.TrimSpace(*flagMode)),
		Workers:       *flagWorkers,
		ProvidersFile: resolvePath(*flagProviders, cwd),
		APIToken:      *flagToken,
		TLSCertFile:   resolvePath(*flagTLSCert, cwd),
		TLSKeyFile:    resolvePath(*flagTLSKey, cwd),
		Storage:       strings.ToLower(strings.TrimSpace(*flagStorage)),
		StorageDir:    resolvePath(*flagStorageDir, cwd),
		PublicURL:     strings.TrimRight(strings.TrimSpace(*flagPublicURL), "/"),
		Mirror:        *flagMirror,
		S3: S3Settings{
			Bucket:    os.Getenv("GENPULSE_S3_BUCKET"),
			Region:    envOrDefault("GENPULSE_S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("GENPULSE_S3_ENDPOINT"),
			AccessKey: os.Getenv("GENPULSE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("GENPULSE_S3_SECRET_KEY"),
			PathStyle: pathStyle,
		},
		WebhookSecret:     *flagSecret,
		RetentionTTL:      retention,
		RetentionSchedule: strings.TrimSpace(*flagSchedule),
		LogFile:           strings.TrimSpace(*flagLogFile),
		LogLevel:          level,
	}

	if cfg.Addr == "" && cfg.RunAPI() {
		return Config{}, errors.New("addr cannot be empty")
	}
	if cfg.RedisURL == "" {
		return Config{}, errors.New("redis-url cannot be empty")
	}
	if cfg.Mode != "all" && cfg.Mode != "api" && cfg.Mode != "worker" {
		return Config{}, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
	if cfg.Workers <= 0 {
		return Config{}, errors.New("workers must be positive")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}
	switch cfg.Storage {
	case "local":
	case "s3":
		if cfg.S3.Bucket == "" {
			return Config{}, errors.New("storage=s3 requires GENPULSE_S3_BUCKET")
		}
	default:
		return Config{}, fmt.Errorf("unsupported storage: %s", cfg.Storage)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
