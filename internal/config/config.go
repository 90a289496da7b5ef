package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Ticker     TickerConfig     `yaml:"ticker" mapstructure:"ticker"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Warehouse  WarehouseConfig  `yaml:"warehouse" mapstructure:"warehouse"`
	RunLog     RunLogConfig     `yaml:"runlog" mapstructure:"runlog"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BlobConfig selects and configures the object store.
// Driver is "fs" (local directory rooted at Root) or "minio" (any S3-compatible endpoint).
type BlobConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Root      string `yaml:"root" mapstructure:"root"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// FetchConfig configures outbound HTTP to sec.gov.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	ListingURL  string `yaml:"listing_url" mapstructure:"listing_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// TickerConfig locates the symbol/CIK reference table.
// Source is either an http(s) URL or a blob key.
type TickerConfig struct {
	Source string `yaml:"source" mapstructure:"source"`
}

// PipelineConfig configures extraction behavior.
type PipelineConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	BatchRows   int    `yaml:"batch_rows" mapstructure:"batch_rows"`
}

// WarehouseConfig configures the Postgres load target for JSON documents.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// RunLogConfig configures the run ledger backend ("sqlite" or "postgres").
type RunLogConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// TemporalConfig configures the Temporal worker and client.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-ledger alerting. Alerts are only posted
// when WebhookURL is set; a zero DropRateThreshold disables that check.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DropRateThreshold    float64 `yaml:"drop_rate_threshold" mapstructure:"drop_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SECFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.root", "./data")
	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("fetch.user_agent", "Sells Advisors blake@sellsadvisors.com")
	v.SetDefault("fetch.listing_url", "https://www.sec.gov/data-research/sec-markets-data/financial-statement-data-sets")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("ticker.source", "https://www.sec.gov/include/ticker.txt")
	v.SetDefault("pipeline.temp_dir", "/tmp/secfin")
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.batch_rows", 10000)
	v.SetDefault("warehouse.table", "sec_json.financial_documents")
	v.SetDefault("runlog.driver", "sqlite")
	v.SetDefault("runlog.dsn", "secfin.db")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "secfin")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.drop_rate_threshold", 0.05)
	v.SetDefault("monitoring.stale_after_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a given command needs. Mode is one of
// "pipeline", "warehouse", "serve", or "worker"; unknown modes only get the
// shared checks.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Blob.Driver {
	case "fs":
		if c.Blob.Root == "" {
			errs = append(errs, "blob.root is required for the fs driver")
		}
	case "minio":
		if c.Blob.Endpoint == "" {
			errs = append(errs, "blob.endpoint is required for the minio driver")
		}
		if c.Blob.Bucket == "" {
			errs = append(errs, "blob.bucket is required for the minio driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("blob.driver %q is invalid (valid: fs, minio)", c.Blob.Driver))
	}

	switch c.RunLog.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("runlog.driver %q is invalid (valid: sqlite, postgres)", c.RunLog.Driver))
	}

	switch mode {
	case "pipeline":
		if c.Pipeline.Concurrency < 1 {
			errs = append(errs, "pipeline.concurrency must be at least 1")
		}
		if c.Ticker.Source == "" {
			errs = append(errs, "ticker.source is required")
		}
	case "warehouse":
		if c.Warehouse.DatabaseURL == "" {
			errs = append(errs, "warehouse.database_url is required")
		}
		if c.Warehouse.Table == "" {
			errs = append(errs, "warehouse.table is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
