package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderCoinGecko = "coingecko"
	ProviderBinance   = "binance"

	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const defaultConfigPath = "config.yml"

var envConfigPaths = map[string]string{
	environmentProduction: "config.production.yml",
	environmentStaging:    "config.staging.yml",
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Source    SourceConfig    `yaml:"source"`
	View      ViewConfig      `yaml:"view"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Provider       string               `yaml:"provider"`
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	CoinGecko      CoinGeckoConfig      `yaml:"coingecko"`
	Binance        BinanceConfig        `yaml:"binance"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type CoinGeckoConfig struct {
	URL       string `yaml:"url"`
	Currency  string `yaml:"currency"`
	PerPage   int    `yaml:"per_page"`
	Sparkline bool   `yaml:"sparkline"`
	APIKey    string `yaml:"api_key"`
}

type BinanceConfig struct {
	URL        string `yaml:"url"`
	QuoteAsset string `yaml:"quote_asset"`
	Limit      int    `yaml:"limit"`
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
}

type ViewConfig struct {
	PageSize      int `yaml:"page_size"`
	NoticeHistory int `yaml:"notice_history"`
}

type RefreshConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type AuthConfig struct {
	Backend           string         `yaml:"backend"`
	SessionBackend    string         `yaml:"session_backend"`
	SessionTTL        time.Duration  `yaml:"session_ttl"`
	MinPasswordLength int            `yaml:"min_password_length"`
	Postgres          PostgresConfig `yaml:"postgres"`
	Redis             RedisConfig    `yaml:"redis"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Compression     string `yaml:"compression"`
	Buffer          int    `yaml:"buffer"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Region    string `yaml:"region"`
}

type DashboardConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Address          string        `yaml:"address"`
	LogHistory       int           `yaml:"log_history"`
	ResourceInterval time.Duration `yaml:"resource_interval"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Default returns the configuration used for any key the YAML file omits.
func Default() Config {
	return Config{
		App: AppConfig{Name: "coinview", Version: "dev"},
		Source: SourceConfig{
			Provider:  ProviderCoinGecko,
			Timeout:   10 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
			CoinGecko: CoinGeckoConfig{
				URL:       "https://api.coingecko.com/api/v3",
				Currency:  "usd",
				PerPage:   250,
				Sparkline: true,
			},
			Binance: BinanceConfig{
				URL:        "https://api.binance.com",
				QuoteAsset: "USDT",
				Limit:      250,
			},
		},
		View:    ViewConfig{PageSize: 50, NoticeHistory: 50},
		Refresh: RefreshConfig{Interval: 30 * time.Second, FetchTimeout: 15 * time.Second},
		Auth: AuthConfig{
			Backend:           BackendMemory,
			SessionBackend:    BackendMemory,
			SessionTTL:        24 * time.Hour,
			MinPasswordLength: 6,
			Postgres:          PostgresConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
			Redis:             RedisConfig{Addr: "localhost:6379", Prefix: "coinview:session:"},
		},
		Storage: StorageConfig{S3: S3Config{Compression: "snappy", Buffer: 16}},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "CoinView"},
		},
		Dashboard: DashboardConfig{
			Enabled:          true,
			Address:          ":8080",
			LogHistory:       200,
			ResourceInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// ResolvePath picks the environment specific file for APP_ENV when path is
// empty or the default.
func ResolvePath(path string) string {
	return resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Source.Provider = strings.ToLower(strings.TrimSpace(config.Source.Provider))
	config.Source.Binance.QuoteAsset = strings.ToUpper(strings.TrimSpace(config.Source.Binance.QuoteAsset))
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		config.Source.CoinGecko.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Source.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		config.Source.Binance.SecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Auth.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Auth.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Auth.Redis.Password = v
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
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	switch cfg.Source.Provider {
	case ProviderCoinGecko:
		if cfg.Source.CoinGecko.URL == "" {
			return fmt.Errorf("source.coingecko.url is required")
		}
		if cfg.Source.CoinGecko.Currency == "" {
			return fmt.Errorf("source.coingecko.currency is required")
		}
		if cfg.Source.CoinGecko.PerPage <= 0 || cfg.Source.CoinGecko.PerPage > 250 {
			return fmt.Errorf("source.coingecko.per_page must be between 1 and 250")
		}
	case ProviderBinance:
		if cfg.Source.Binance.QuoteAsset == "" {
			return fmt.Errorf("source.binance.quote_asset is required")
		}
	default:
		return fmt.Errorf("source.provider '%s' is not supported", cfg.Source.Provider)
	}
	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than 0")
	}
	if cfg.Source.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("source.rate_limit.requests_per_second must not be negative")
	}

	if cfg.View.PageSize <= 0 {
		return fmt.Errorf("view.page_size must be greater than 0")
	}
	if cfg.View.NoticeHistory <= 0 {
		return fmt.Errorf("view.notice_history must be greater than 0")
	}

	if cfg.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than 0")
	}
	if cfg.Refresh.FetchTimeout <= 0 {
		return fmt.Errorf("refresh.fetch_timeout must be greater than 0")
	}

	switch cfg.Auth.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.Auth.Postgres.DSN == "" {
			return fmt.Errorf("auth.postgres.dsn is required when auth.backend is postgres")
		}
	default:
		return fmt.Errorf("auth.backend '%s' is not supported", cfg.Auth.Backend)
	}
	switch cfg.Auth.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.Auth.Redis.Addr == "" {
			return fmt.Errorf("auth.redis.addr is required when auth.session_backend is redis")
		}
	default:
		return fmt.Errorf("auth.session_backend '%s' is not supported", cfg.Auth.SessionBackend)
	}
	if cfg.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be greater than 0")
	}
	if cfg.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("auth.min_password_length must be at least 1")
	}
	if IsProductionLike(AppEnvironment()) && cfg.Auth.Backend == BackendMemory {
		return fmt.Errorf("auth.backend memory is not allowed in %s", AppEnvironment())
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		switch strings.ToLower(cfg.Storage.S3.Compression) {
		case "", "snappy", "gzip", "zstd", "uncompressed":
		default:
			return fmt.Errorf("storage.s3.compression '%s' is not supported", cfg.Storage.S3.Compression)
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}

	return nil
}

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
