package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSheets   = "sheets"
	StoreWorkbook = "workbook"
	StorePostgres = "postgres"
)

// Blob drivers.
const (
	BlobMemory = "memory"
	BlobS3     = "s3"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	StoreDriver     string        `mapstructure:"STORE_DRIVER"`
	SheetsURL       string        `mapstructure:"SHEETS_URL"`
	SheetsAPIKey    string        `mapstructure:"SHEETS_API_KEY"`
	StoreTimeout    time.Duration `mapstructure:"STORE_TIMEOUT"`
	ListMaxAttempts int           `mapstructure:"LIST_MAX_ATTEMPTS"`
	ListRetryDelay  time.Duration `mapstructure:"LIST_RETRY_DELAY"`
	WorkbookPath    string        `mapstructure:"WORKBOOK_PATH"`
	WorkbookSheet   string        `mapstructure:"WORKBOOK_SHEET"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`

	BlobDriver  string `mapstructure:"BLOB_DRIVER"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	UploadLimit string `mapstructure:"UPLOAD_LIMIT"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	ClinicPassword string `mapstructure:"CLINIC_PASSWORD"`
	AdminPassword  string `mapstructure:"ADMIN_PASSWORD"`
	ProxyAPIKey    string `mapstructure:"PROXY_API_KEY"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ScheduleFile string `mapstructure:"SCHEDULE_FILE"`
	LabTimezone  string `mapstructure:"LAB_TIMEZONE"`
}

var defaults = map[string]any{
	"PORT":              "8000",
	"ENV":               "development",
	"STORE_DRIVER":      StoreMemory,
	"STORE_TIMEOUT":     "10s",
	"LIST_MAX_ATTEMPTS": 3,
	"LIST_RETRY_DELAY":  "1s",
	"DB_MAX_CONNS":      10,
	"DB_MIN_CONNS":      2,
	"DB_SCHEMA":         "public",
	"CACHE_TTL":         "30s",
	"BLOB_DRIVER":       BlobMemory,
	"UPLOAD_LIMIT":      "30M",
	"AUTH_ISSUER":       "britlab",
	"CORS_ORIGINS":      "http://localhost:3000",
	"RATE_LIMIT_RPS":    10,
	"RATE_LIMIT_BURST":  20,
	"REQUEST_TIMEOUT":   "30s",
	"LAB_TIMEZONE":      "America/Argentina/Buenos_Aires",
}

var keys = []string{
	"PORT", "ENV",
	"STORE_DRIVER", "SHEETS_URL", "SHEETS_API_KEY", "STORE_TIMEOUT",
	"LIST_MAX_ATTEMPTS", "LIST_RETRY_DELAY", "WORKBOOK_PATH", "WORKBOOK_SHEET",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"REDIS_URL", "CACHE_TTL",
	"BLOB_DRIVER", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "UPLOAD_LIMIT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CLINIC_PASSWORD", "ADMIN_PASSWORD", "PROXY_API_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SCHEDULE_FILE", "LAB_TIMEZONE",
}

// Load reads .env (when present) and the environment. It does not validate;
// call Validate before serving.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma-separated string does not decode into a slice on its own.
	origins := v.GetString("CORS_ORIGINS")
	if len(cfg.CORSOrigins) <= 1 && origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.BlobDriver = strings.ToLower(strings.TrimSpace(cfg.BlobDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves LAB_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.LabTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.LabTimezone)
	if err != nil {
		return nil, fmt.Errorf("LAB_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the selected drivers have what they need. Outside
// development the auth secrets are mandatory.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSheets:
		if c.SheetsURL == "" || c.SheetsAPIKey == "" {
			return fmt.Errorf("SHEETS_URL and SHEETS_API_KEY are required when STORE_DRIVER=sheets")
		}
	case StoreWorkbook:
		if c.WorkbookPath == "" {
			return fmt.Errorf("WORKBOOK_PATH is required when STORE_DRIVER=workbook")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be memory, sheets, workbook or postgres, got %q", c.StoreDriver)
	}

	switch c.BlobDriver {
	case BlobMemory:
	case BlobS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_DRIVER=s3")
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be memory or s3, got %q", c.BlobDriver)
	}

	if c.ListMaxAttempts < 1 {
		return fmt.Errorf("LIST_MAX_ATTEMPTS must be at least 1, got %d", c.ListMaxAttempts)
	}
	if c.ListRetryDelay < 0 || c.StoreTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT and REQUEST_TIMEOUT must be positive, LIST_RETRY_DELAY non-negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if !c.IsDev() {
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes outside development")
		}
		if c.ClinicPassword == "" || c.AdminPassword == "" {
			return fmt.Errorf("CLINIC_PASSWORD and ADMIN_PASSWORD are required outside development")
		}
	}
	return nil
}
