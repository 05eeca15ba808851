// Package config loads process configuration from VIVARIUM_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"vivarium/internal/blob"
	"vivarium/internal/core"
	"vivarium/internal/infra/logging"
)

const envPrefix = "VIVARIUM_"

// DefaultEnvFile is read when VIVARIUM_ENV_FILE is unset. A missing default
// file is not an error.
const DefaultEnvFile = ".env"

// TraceMode selects the span exporter.
type TraceMode string

const (
	TraceNone TraceMode = "none"
	TraceJSON TraceMode = "json"
)

// Config holds every setting the binaries consume.
type Config struct {
	HTTPAddr        string
	PublicBaseURL   string
	ShutdownTimeout time.Duration

	Storage core.StorageConfig
	Blob    blob.Config

	JWTSecret          string
	TokenTTL           time.Duration
	PrincipalCacheSize int
	PrincipalCacheTTL  time.Duration

	LogLevel  string
	LogFormat logging.Format
	Trace     TraceMode

	BootstrapAdminEmail string
	BootstrapAdminName  string
}

// Load reads the optional env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPAddr:            getEnvDefault("HTTP_ADDR", ":8080"),
		PublicBaseURL:       getEnvDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		JWTSecret:           os.Getenv(envPrefix + "JWT_SECRET"),
		LogLevel:            getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:           logging.Format(getEnvDefault("LOG_FORMAT", string(logging.FormatJSON))),
		Trace:               TraceMode(getEnvDefault("TRACE", string(TraceNone))),
		BootstrapAdminEmail: os.Getenv(envPrefix + "BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminName:  getEnvDefault("BOOTSTRAP_ADMIN_NAME", "Administrator"),
	}
	var err error

	cfg.Storage = core.StorageConfig{
		Driver:      core.StorageDriver(getEnvDefault("STORAGE_DRIVER", string(core.StorageSQLite))),
		SQLitePath:  getEnvDefault("SQLITE_PATH", "vivarium.db"),
		PostgresDSN: os.Getenv(envPrefix + "POSTGRES_DSN"),
	}
	switch cfg.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("%sPOSTGRES_DSN: required when storage driver is postgres", envPrefix)
		}
	default:
		return nil, fmt.Errorf("%sSTORAGE_DRIVER: unknown driver %q", envPrefix, cfg.Storage.Driver)
	}

	cfg.Blob = blob.Config{
		Driver: blob.Driver(getEnvDefault("BLOB_DRIVER", string(blob.DriverFilesystem))),
		FSRoot: getEnvDefault("BLOB_FS_ROOT", "./blobdata"),
		S3: blob.S3Config{
			Region:          os.Getenv(envPrefix + "BLOB_S3_REGION"),
			Bucket:          os.Getenv(envPrefix + "BLOB_S3_BUCKET"),
			Endpoint:        os.Getenv(envPrefix + "BLOB_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv(envPrefix + "BLOB_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv(envPrefix + "BLOB_S3_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv(envPrefix + "BLOB_S3_SESSION_TOKEN"),
		},
	}
	if cfg.Blob.S3.PathStyle, err = getEnvBool("BLOB_S3_PATH_STYLE", false); err != nil {
		return nil, err
	}
	switch cfg.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if cfg.Blob.S3.Bucket == "" {
			return nil, fmt.Errorf("%sBLOB_S3_BUCKET: required when blob driver is s3", envPrefix)
		}
	default:
		return nil, fmt.Errorf("%sBLOB_DRIVER: unknown driver %q", envPrefix, cfg.Blob.Driver)
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err)
	}
	if cfg.LogFormat != logging.FormatJSON && cfg.LogFormat != logging.FormatConsole {
		return nil, fmt.Errorf("%sLOG_FORMAT: unknown format %q", envPrefix, cfg.LogFormat)
	}
	if cfg.Trace != TraceNone && cfg.Trace != TraceJSON {
		return nil, fmt.Errorf("%sTRACE: unknown mode %q", envPrefix, cfg.Trace)
	}

	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PrincipalCacheTTL, err = getEnvDuration("PRINCIPAL_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PrincipalCacheSize, err = getEnvInt("PRINCIPAL_CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.PrincipalCacheSize < 1 {
		return nil, fmt.Errorf("%sPRINCIPAL_CACHE_SIZE: must be positive", envPrefix)
	}
	return cfg, nil
}

// RequireJWTSecret reports an error when no signing secret is configured.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("%sJWT_SECRET: required", envPrefix)
	}
	return nil
}

func loadEnvFile() error {
	path, explicit := os.LookupEnv(envPrefix + "ENV_FILE")
	if !explicit {
		path = DefaultEnvFile
	}
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func getEnvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid integer %q", envPrefix, key, v)
	}
	return n, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, key, v)
	}
	return b, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: invalid duration %q", envPrefix, key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s: must be positive", envPrefix, key)
	}
	return d, nil
}
