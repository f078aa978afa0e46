package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTIONHUB_* environment variable overrides
// and returns the final Config. An empty path skips the file and uses the
// defaults plus environment. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTIONHUB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PREDICTIONHUB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PREDICTIONHUB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PREDICTIONHUB_WALLET_KEY_PASSWORD")
	setBool(&cfg.Wallet.ConfirmSignatures, "PREDICTIONHUB_WALLET_CONFIRM_SIGNATURES")

	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "PREDICTIONHUB_CHAIN_ID")
	setStr(&cfg.Chain.CollateralToken, "PREDICTIONHUB_CHAIN_COLLATERAL_TOKEN")
	setStr(&cfg.Chain.ConditionalTokens, "PREDICTIONHUB_CHAIN_CONDITIONAL_TOKENS")
	setStr(&cfg.Chain.Exchange, "PREDICTIONHUB_CHAIN_EXCHANGE")
	setStr(&cfg.Chain.NegRiskExchange, "PREDICTIONHUB_CHAIN_NEG_RISK_EXCHANGE")
	setStr(&cfg.Chain.ProxyFactory, "PREDICTIONHUB_CHAIN_PROXY_FACTORY")
	setStr(&cfg.Chain.MultiSend, "PREDICTIONHUB_CHAIN_MULTI_SEND")

	// ── Backend ──
	setStr(&cfg.Backend.BaseURL, "PREDICTIONHUB_BACKEND_BASE_URL")
	setStr(&cfg.Backend.SessionToken, "PREDICTIONHUB_BACKEND_SESSION_TOKEN")
	setDuration(&cfg.Backend.PollInterval, "PREDICTIONHUB_BACKEND_POLL_INTERVAL")
	setDuration(&cfg.Backend.RetryInterval, "PREDICTIONHUB_BACKEND_RETRY_INTERVAL")
	setDuration(&cfg.Backend.RequestTimeout, "PREDICTIONHUB_BACKEND_REQUEST_TIMEOUT")

	// ── Sync ──
	setStr(&cfg.Sync.SubgraphURL, "PREDICTIONHUB_SYNC_SUBGRAPH_URL")
	setStr(&cfg.Sync.SubgraphAPIKey, "PREDICTIONHUB_SYNC_SUBGRAPH_API_KEY")
	setStr(&cfg.Sync.SubgraphName, "PREDICTIONHUB_SYNC_SUBGRAPH_NAME")
	setStr(&cfg.Sync.ServiceName, "PREDICTIONHUB_SYNC_SERVICE_NAME")
	setStringSlice(&cfg.Sync.AllowedCreators, "PREDICTIONHUB_SYNC_ALLOWED_CREATORS")
	setStr(&cfg.Sync.MetadataGateway, "PREDICTIONHUB_SYNC_METADATA_GATEWAY")
	setInt(&cfg.Sync.PageSize, "PREDICTIONHUB_SYNC_PAGE_SIZE")
	setDuration(&cfg.Sync.TimeBudget, "PREDICTIONHUB_SYNC_TIME_BUDGET")
	setDuration(&cfg.Sync.StaleAfter, "PREDICTIONHUB_SYNC_STALE_AFTER")
	setDuration(&cfg.Sync.Interval, "PREDICTIONHUB_SYNC_INTERVAL")
	setFloat64(&cfg.Sync.RequestsPerSec, "PREDICTIONHUB_SYNC_REQUESTS_PER_SEC")
	setStr(&cfg.Sync.Schedule, "PREDICTIONHUB_SYNC_SCHEDULE")

	// ── Database ──
	setStr(&cfg.Database.Driver, "PREDICTIONHUB_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "PREDICTIONHUB_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PREDICTIONHUB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PREDICTIONHUB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PREDICTIONHUB_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "PREDICTIONHUB_DATABASE_USER")
	setStr(&cfg.Database.Password, "PREDICTIONHUB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PREDICTIONHUB_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PREDICTIONHUB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PREDICTIONHUB_DATABASE_POOL_MIN_CONNS")
	setStr(&cfg.Database.SQLitePath, "PREDICTIONHUB_DATABASE_SQLITE_PATH")
	setBool(&cfg.Database.RunMigrations, "PREDICTIONHUB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDICTIONHUB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTIONHUB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTIONHUB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTIONHUB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTIONHUB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTIONHUB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PREDICTIONHUB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTIONHUB_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTIONHUB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTIONHUB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTIONHUB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTIONHUB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTIONHUB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PublicBaseURL, "PREDICTIONHUB_S3_PUBLIC_BASE_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTIONHUB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTIONHUB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTIONHUB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.CronSecret, "PREDICTIONHUB_SERVER_CRON_SECRET")
	setStr(&cfg.Server.CronSecret, "CRON_SECRET") // compatibility alias
	setDuration(&cfg.Server.SyncTimeout, "PREDICTIONHUB_SERVER_SYNC_TIMEOUT")
	setInt(&cfg.Server.RateLimit, "PREDICTIONHUB_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTIONHUB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTIONHUB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTIONHUB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTIONHUB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTIONHUB_MODE")
	setStr(&cfg.LogLevel, "PREDICTIONHUB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
