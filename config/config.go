package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`

	StoreDriver  string `yaml:"store_driver"`
	MongoURI     string `yaml:"mongo_uri"`
	DatabaseName string `yaml:"database_name"`
	PostgresDSN  string `yaml:"postgres_dsn"`

	StorageBackend     string `yaml:"storage_backend"`
	B2ApplicationKeyID string `yaml:"b2_application_key_id"`
	B2ApplicationKey   string `yaml:"b2_application_key"`
	B2BucketName       string `yaml:"b2_bucket_name"`
	S3Endpoint         string `yaml:"s3_endpoint"`
	S3Region           string `yaml:"s3_region"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3AccessKey        string `yaml:"s3_access_key"`
	S3SecretKey        string `yaml:"s3_secret_key"`
	LocalStorageDir    string `yaml:"local_storage_dir"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	MaxFileSize    int64    `yaml:"max_file_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	ArchiveWorkers int `yaml:"archive_workers"`

	TrashCleanupInterval time.Duration `yaml:"trash_cleanup_interval"`
	TrashRetention       time.Duration `yaml:"trash_retention"`
	TrashCleanupWorkers  int           `yaml:"trash_cleanup_workers"`

	MailMock      bool   `yaml:"mail_mock"`
	MailgunAPIKey string `yaml:"mailgun_api_key"`
	MailgunDomain string `yaml:"mailgun_domain"`
	FromEmail     string `yaml:"from_email"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port: "8080",
		Env:  "development",

		StoreDriver:  "mongo",
		MongoURI:     "mongodb://localhost:27017",
		DatabaseName: "minidrive",

		StorageBackend:  "local",
		S3Region:        "us-east-1",
		LocalStorageDir: "./data",

		JWTIssuer: "minidrive",

		MaxFileSize:    104857600,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},

		ArchiveWorkers: 4,

		TrashCleanupInterval: 24 * time.Hour,
		TrashRetention:       30 * 24 * time.Hour,
		TrashCleanupWorkers:  5,

		MailMock:  true,
		FromEmail: "noreply@minidrive.local",

		LogLevel:  "info",
		LogFormat: "console",

		ShutdownTimeout: 30 * time.Second,
	}
}

// Load layers defaults, the YAML file named by MINIDRIVE_CONFIG, and the
// environment, then validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MINIDRIVE_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays settings from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	errs []error
}

func (r *envReader) str(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func (r *envReader) int64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = i
	}
}

func (r *envReader) int(dst *int, key string) {
	i := int64(*dst)
	r.int64(&i, key)
	*dst = int(i)
}

func (r *envReader) duration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
}

func (r *envReader) bool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
			return
		}
		*dst = b
	}
}

func (r *envReader) list(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = parseStringSlice(v)
	}
}

func (c *Config) applyEnv() error {
	r := &envReader{}

	r.str(&c.Port, "PORT")
	r.str(&c.Env, "ENV")

	r.str(&c.StoreDriver, "STORE_DRIVER")
	r.str(&c.MongoURI, "MONGO_URI", "MONGODB_URI")
	r.str(&c.DatabaseName, "DATABASE_NAME")
	r.str(&c.PostgresDSN, "POSTGRES_DSN", "DATABASE_URL")

	r.str(&c.StorageBackend, "STORAGE_BACKEND")
	r.str(&c.B2ApplicationKeyID, "B2_APPLICATION_KEY_ID", "B2_KEY_ID", "BACKBLAZE_KEY_ID")
	r.str(&c.B2ApplicationKey, "B2_APPLICATION_KEY", "B2_APP_KEY", "BACKBLAZE_APP_KEY")
	r.str(&c.B2BucketName, "B2_BUCKET_NAME", "B2_BUCKET", "BACKBLAZE_BUCKET")
	r.str(&c.S3Endpoint, "S3_ENDPOINT")
	r.str(&c.S3Region, "S3_REGION")
	r.str(&c.S3Bucket, "S3_BUCKET")
	r.str(&c.S3AccessKey, "S3_ACCESS_KEY")
	r.str(&c.S3SecretKey, "S3_SECRET_KEY")
	r.str(&c.LocalStorageDir, "LOCAL_STORAGE_DIR")

	r.str(&c.JWTSecret, "JWT_SECRET")
	r.str(&c.JWTIssuer, "JWT_ISSUER")

	r.int64(&c.MaxFileSize, "MAX_FILE_SIZE")
	r.list(&c.AllowedOrigins, "ALLOWED_ORIGINS")

	r.int(&c.ArchiveWorkers, "ARCHIVE_WORKERS")

	r.duration(&c.TrashCleanupInterval, "TRASH_CLEANUP_INTERVAL")
	r.duration(&c.TrashRetention, "TRASH_RETENTION")
	r.int(&c.TrashCleanupWorkers, "TRASH_CLEANUP_WORKERS")

	r.bool(&c.MailMock, "MAIL_MOCK")
	r.str(&c.MailgunAPIKey, "MAILGUN_API_KEY")
	r.str(&c.MailgunDomain, "MAILGUN_DOMAIN")
	r.str(&c.FromEmail, "FROM_EMAIL")

	r.str(&c.LogLevel, "LOG_LEVEL")
	r.str(&c.LogFormat, "LOG_FORMAT")

	r.duration(&c.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	return errors.Join(r.errs...)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var missingVars []string
	require := func(name, value string) {
		if value == "" {
			missingVars = append(missingVars, name)
		}
	}

	require("JWT_SECRET", c.JWTSecret)

	switch c.StoreDriver {
	case "mongo":
		require("MONGO_URI", c.MongoURI)
		require("DATABASE_NAME", c.DatabaseName)
	case "postgres":
		require("POSTGRES_DSN", c.PostgresDSN)
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be mongo, postgres or memory, got %q", c.StoreDriver)
	}

	switch c.StorageBackend {
	case "b2":
		require("B2_APPLICATION_KEY_ID", c.B2ApplicationKeyID)
		require("B2_APPLICATION_KEY", c.B2ApplicationKey)
		require("B2_BUCKET_NAME", c.B2BucketName)
	case "s3":
		require("S3_BUCKET", c.S3Bucket)
		require("S3_REGION", c.S3Region)
	case "local":
		require("LOCAL_STORAGE_DIR", c.LocalStorageDir)
	case "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be b2, s3, local or memory, got %q", c.StorageBackend)
	}

	if !c.MailMock {
		require("MAILGUN_API_KEY", c.MailgunAPIKey)
		require("MAILGUN_DOMAIN", c.MailgunDomain)
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missingVars, ", "))
	}

	switch {
	case c.ArchiveWorkers < 1:
		return fmt.Errorf("ARCHIVE_WORKERS must be at least 1, got %d", c.ArchiveWorkers)
	case c.TrashCleanupWorkers < 1:
		return fmt.Errorf("TRASH_CLEANUP_WORKERS must be at least 1, got %d", c.TrashCleanupWorkers)
	case c.TrashRetention <= 0:
		return fmt.Errorf("TRASH_RETENTION must be positive, got %v", c.TrashRetention)
	case c.TrashCleanupInterval < 0:
		return fmt.Errorf("TRASH_CLEANUP_INTERVAL cannot be negative, got %v", c.TrashCleanupInterval)
	case c.MaxFileSize <= 0:
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	return nil
}

// LogSummary writes the effective configuration with secrets masked.
func (c *Config) LogSummary(logger zerolog.Logger) {
	logger.Info().
		Str("port", c.Port).
		Str("env", c.Env).
		Str("store_driver", c.StoreDriver).
		Str("mongo_uri", maskConnectionString(c.MongoURI)).
		Str("postgres_dsn", maskConnectionString(c.PostgresDSN)).
		Str("storage_backend", c.StorageBackend).
		Str("b2_key_id", maskSecret(c.B2ApplicationKeyID)).
		Str("s3_access_key", maskSecret(c.S3AccessKey)).
		Str("jwt_secret", maskSecret(c.JWTSecret)).
		Int64("max_file_size", c.MaxFileSize).
		Strs("allowed_origins", c.AllowedOrigins).
		Int("archive_workers", c.ArchiveWorkers).
		Dur("trash_cleanup_interval", c.TrashCleanupInterval).
		Dur("trash_retention", c.TrashRetention).
		Int("trash_cleanup_workers", c.TrashCleanupWorkers).
		Bool("mail_mock", c.MailMock).
		Msg("Configuration loaded")
}

func maskSecret(secret string) string {
	if secret == "" {
		return "[NOT SET]"
	}
	if len(secret) <= 8 {
		return "[HIDDEN]"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

func maskConnectionString(uri string) string {
	if uri == "" {
		return "[NOT SET]"
	}
	if i := strings.LastIndex(uri, "@"); i >= 0 {
		return "[CREDENTIALS_HIDDEN]@" + uri[i+1:]
	}
	return uri
}

func parseStringSlice(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LoadEnvFile loads the first .env found in the working directory or its
// parents. A missing file is not an error.
func LoadEnvFile() {
	pwd, err := os.Getwd()
	if err != nil {
		log.Warn().Err(err).Msg("Could not get working directory")
		return
	}

	envPaths := []string{
		filepath.Join(pwd, ".env"),
		filepath.Join(filepath.Dir(pwd), ".env"),
		filepath.Join(filepath.Dir(filepath.Dir(pwd)), ".env"),
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			log.Warn().Err(err).Str("path", envPath).Msg("Failed to load .env")
			continue
		}
		log.Info().Str("path", envPath).Msg("Loaded environment variables")
		return
	}

	log.Debug().Msg("No .env file found, using process environment")
}
