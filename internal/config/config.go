// Package config defines the top-level configuration for predictionhub and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTIONHUB_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Backend  BackendConfig  `toml:"backend"`
	Sync     SyncConfig     `toml:"sync"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the credentials of the wallet driven by onboard mode.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// ConfirmSignatures prompts on stdin before every signature request.
	ConfirmSignatures bool `toml:"confirm_signatures"`
}

// ChainConfig holds chain parameters and the contract addresses used by the
// onboarding flow.
type ChainConfig struct {
	ChainID           int    `toml:"chain_id"`
	CollateralToken   string `toml:"collateral_token"`
	ConditionalTokens string `toml:"conditional_tokens"`
	Exchange          string `toml:"exchange"`
	NegRiskExchange   string `toml:"neg_risk_exchange"`
	ProxyFactory      string `toml:"proxy_factory"`
	MultiSend         string `toml:"multi_send"`
}

// BackendConfig points the onboarding flow at the platform backend.
type BackendConfig struct {
	BaseURL        string   `toml:"base_url"`
	SessionToken   string   `toml:"session_token"`
	PollInterval   duration `toml:"poll_interval"`
	RetryInterval  duration `toml:"retry_interval"`
	RequestTimeout duration `toml:"request_timeout"`
}

// SyncConfig holds condition-sync parameters.
type SyncConfig struct {
	SubgraphURL     string   `toml:"subgraph_url"`
	SubgraphAPIKey  string   `toml:"subgraph_api_key"`
	SubgraphName    string   `toml:"subgraph_name"`
	ServiceName     string   `toml:"service_name"`
	AllowedCreators []string `toml:"allowed_creators"`
	MetadataGateway string   `toml:"metadata_gateway"`
	PageSize        int      `toml:"page_size"`
	TimeBudget      duration `toml:"time_budget"`
	StaleAfter      duration `toml:"stale_after"`
	Interval        duration `toml:"interval"`
	RequestsPerSec  float64  `toml:"requests_per_sec"`

	// Schedule is a five-field cron expression. When set, scheduler mode
	// runs on it instead of Interval.
	Schedule string `toml:"schedule"`
}

// DatabaseConfig holds relational storage parameters. Driver selects between
// "postgres" and "sqlite".
type DatabaseConfig struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	SQLitePath    string `toml:"sqlite_path"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables icon uploads.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	CronSecret      string   `toml:"cron_secret"`
	SyncTimeout     duration `toml:"sync_timeout"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:           137,
			CollateralToken:   "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			ConditionalTokens: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			Exchange:          "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			NegRiskExchange:   "0xC5d563A36AE78145C45a50134d48A1215220f80a",
			ProxyFactory:      "0xaacFeEa03eb1561C4e67d661e40682Bd20E3541b",
			MultiSend:         "0xA238CBeb142c10Ef7Ad8442C6D1f9E89e07e7761",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:3000",
			PollInterval:   duration{6 * time.Second},
			RetryInterval:  duration{10 * time.Second},
			RequestTimeout: duration{30 * time.Second},
		},
		Sync: SyncConfig{
			SubgraphName:    "conditions",
			ServiceName:     "events_sync",
			MetadataGateway: "https://arweave.net",
			PageSize:        200,
			TimeBudget:      duration{250 * time.Second},
			StaleAfter:      duration{15 * time.Minute},
			Interval:        duration{5 * time.Minute},
			RequestsPerSec:  10,
		},
		Database: DatabaseConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			SQLitePath:    "predictionhub.db",
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			SyncTimeout:     duration{300 * time.Second},
			RateLimit:       60,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"sync_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// AllowedCreatorSet returns the allow-listed creator addresses, lower-cased.
func (c SyncConfig) AllowedCreatorSet() map[string]bool {
	set := make(map[string]bool, len(c.AllowedCreators))
	for _, a := range c.AllowedCreators {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			set[a] = true
		}
	}
	return set
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"sync":      true,
	"scheduler": true,
	"onboard":   true,
	"status":    true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func needsSync(mode string) bool {
	return mode == "sync" || mode == "scheduler" || mode == "full" || mode == "server"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sync, scheduler, onboard, status, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet and backend are only needed to drive onboarding.
	if mode == "onboard" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode onboard")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend: base_url must not be empty")
		}
		if c.Backend.PollInterval.Duration <= 0 || c.Backend.RetryInterval.Duration <= 0 {
			errs = append(errs, "backend: poll_interval and retry_interval must be > 0")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
	}

	if needsSync(mode) {
		if c.Sync.SubgraphURL == "" {
			errs = append(errs, "sync: subgraph_url must not be empty")
		}
		if c.Sync.MetadataGateway == "" {
			errs = append(errs, "sync: metadata_gateway must not be empty")
		}
		if len(c.Sync.AllowedCreatorSet()) == 0 {
			errs = append(errs, "sync: allowed_creators must list at least one address")
		}
		if c.Sync.PageSize < 1 {
			errs = append(errs, "sync: page_size must be >= 1")
		}
		if c.Sync.TimeBudget.Duration <= 0 {
			errs = append(errs, "sync: time_budget must be > 0")
		}
		if c.Sync.StaleAfter.Duration <= 0 {
			errs = append(errs, "sync: stale_after must be > 0")
		}
	}

	if mode != "onboard" {
		switch strings.ToLower(c.Database.Driver) {
		case "postgres":
			if strings.TrimSpace(c.Database.DSN) == "" {
				if c.Database.Host == "" {
					errs = append(errs, "database: host must not be empty (or set database.dsn)")
				}
				if c.Database.Port <= 0 || c.Database.Port > 65535 {
					errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
				}
				if c.Database.Database == "" {
					errs = append(errs, "database: database must not be empty")
				}
			}
			if c.Database.PoolMaxConns < 1 {
				errs = append(errs, "database: pool_max_conns must be >= 1")
			}
			if c.Database.PoolMinConns > c.Database.PoolMaxConns {
				errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
			}
		case "sqlite":
			if c.Database.SQLitePath == "" {
				errs = append(errs, "database: sqlite_path must not be empty")
			}
		default:
			errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, sqlite)", c.Database.Driver))
		}
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.PublicBaseURL == "" {
			errs = append(errs, "s3: public_base_url is required when bucket is set")
		}
	}

	if c.Server.Enabled && (mode == "server" || mode == "full") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.CronSecret == "" {
			errs = append(errs, "server: cron_secret must be set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
