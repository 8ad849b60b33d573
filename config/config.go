package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Ingest   IngestConfig   `yaml:"ingest"`
	HTTP     HTTPConfig     `yaml:"http"`
	Source   SourceConfig   `yaml:"source"`
	Universe UniverseConfig `yaml:"universe"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type IngestConfig struct {
	// Mode selects the source adapter: "slice" for the ZIP/CSV dissemination
	// files, "api" for the dashboard JSON API.
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"`
	// Backoff is the shorter sleep applied after an unexpected cycle failure.
	Backoff time.Duration `yaml:"backoff"`
}

type HTTPConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	UserAgent string          `yaml:"user_agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type SourceConfig struct {
	Slice SliceSourceConfig `yaml:"slice"`
	API   APISourceConfig   `yaml:"api"`
}

type SliceSourceConfig struct {
	// DashboardURL is the page listing the disseminated slice archives.
	DashboardURL string `yaml:"dashboard_url"`
}

type APISourceConfig struct {
	BaseURL       string `yaml:"base_url"`
	DashboardPath string `yaml:"dashboard_path"`
	// DefaultEndpoint is the static fallback used when endpoint discovery
	// fails or finds nothing.
	DefaultEndpoint string `yaml:"default_endpoint"`
	Product         string `yaml:"product"`
	Region          string `yaml:"region"`
	Limit           int    `yaml:"limit"`
	// MaxEndpoints caps how many discovered endpoints one cycle will try.
	MaxEndpoints int `yaml:"max_endpoints"`
}

type UniverseConfig struct {
	AssetClass string `yaml:"asset_class"`
	Currency   string `yaml:"currency"`
	// HighYieldTicker is the single issuer code bucketed HIGH_YIELD in slice
	// mode.
	HighYieldTicker string `yaml:"high_yield_ticker"`
	// Entities maps issuer legal name to its short ticker.
	Entities map[string]string `yaml:"entities"`
}

type DedupConfig struct {
	// Capacity bounds the in-memory key set; oldest keys are evicted first.
	Capacity int `yaml:"capacity"`
	// SeedLimit is how many recent keys to preload from the sink at startup.
	SeedLimit int `yaml:"seed_limit"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// S3Config drives optional archival of raw upstream payloads.
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
	MetricsRegion string `yaml:"metrics_region"`
}

// defaultEntities is the subject universe shipped with the service: European
// issuers keyed by the legal name used in the dissemination files.
func defaultEntities() map[string]string {
	return map[string]string{
		"VODAFONE GROUP PLC": "VODFON",
		"DEUTSCHE BANK AG":   "DBKGN",
		"BNP PARIBAS SA":     "BNPPR",
		"BANCO SANTANDER SA": "SANES",
		"TELECOM ITALIA SPA": "TITIM",
		"TOTALENERGIES SE":   "TOTFP",
		"SHELL PLC":          "SHEL",
		"SIEMENS AG":         "SIE",
		"BMW AG":             "BMW",
		"SAP SE":             "SAP",
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	// Credentials come from the environment when present.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.Mode == "" {
		cfg.Ingest.Mode = "slice"
	}
	if cfg.Ingest.Interval <= 0 {
		cfg.Ingest.Interval = 60 * time.Second
	}
	if cfg.Ingest.Backoff <= 0 {
		cfg.Ingest.Backoff = 30 * time.Second
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"
	}
	if cfg.HTTP.RateLimit.RequestsPerSecond <= 0 {
		cfg.HTTP.RateLimit.RequestsPerSecond = 5
	}
	if cfg.HTTP.RateLimit.BurstSize <= 0 {
		cfg.HTTP.RateLimit.BurstSize = 1
	}
	if cfg.Source.API.BaseURL == "" {
		cfg.Source.API.BaseURL = "https://pddata.dtcc.com"
	}
	if cfg.Source.API.DashboardPath == "" {
		cfg.Source.API.DashboardPath = "/ppd/cftcdashboard"
	}
	if cfg.Source.API.DefaultEndpoint == "" {
		cfg.Source.API.DefaultEndpoint = cfg.Source.API.BaseURL + "/ppd/api/cds/trades"
	}
	if cfg.Source.API.Product == "" {
		cfg.Source.API.Product = "CDS"
	}
	if cfg.Source.API.Region == "" {
		cfg.Source.API.Region = "EU"
	}
	if cfg.Source.API.Limit <= 0 {
		cfg.Source.API.Limit = 1000
	}
	if cfg.Source.API.MaxEndpoints <= 0 {
		cfg.Source.API.MaxEndpoints = 2
	}
	if cfg.Source.Slice.DashboardURL == "" {
		cfg.Source.Slice.DashboardURL = cfg.Source.API.BaseURL + cfg.Source.API.DashboardPath
	}
	if cfg.Universe.AssetClass == "" {
		cfg.Universe.AssetClass = "CR"
	}
	if cfg.Universe.Currency == "" {
		cfg.Universe.Currency = "EUR"
	}
	if cfg.Universe.HighYieldTicker == "" {
		cfg.Universe.HighYieldTicker = "TITIM"
	}
	if len(cfg.Universe.Entities) == 0 {
		cfg.Universe.Entities = defaultEntities()
	}
	if cfg.Dedup.Capacity <= 0 {
		cfg.Dedup.Capacity = 100000
	}
	if cfg.Dedup.SeedLimit == 0 {
		cfg.Dedup.SeedLimit = 10000
	}
	if cfg.Storage.Postgres.Table == "" {
		cfg.Storage.Postgres.Table = "cds_trades_live"
	}
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	switch cfg.Ingest.Mode {
	case "slice", "api":
	default:
		return fmt.Errorf("ingest.mode must be 'slice' or 'api', got '%s'", cfg.Ingest.Mode)
	}

	if cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required (or set DATABASE_URL)")
	}
	if !tableNameRegexp.MatchString(cfg.Storage.Postgres.Table) {
		return fmt.Errorf("storage.postgres.table '%s' is invalid", cfg.Storage.Postgres.Table)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 archival is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 archival is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var tableNameRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
