package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies .env and
// PREDICT_* overrides. An empty path skips the file. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Program.ID, "PREDICT_PROGRAM_ID")

	setStr(&cfg.Ledger.Storage, "PREDICT_LEDGER_STORAGE")
	setStr(&cfg.Ledger.Locks, "PREDICT_LEDGER_LOCKS")
	setDuration(&cfg.Ledger.LockTTL, "PREDICT_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.DedupTTL, "PREDICT_LEDGER_DEDUP_TTL")
	setUint64(&cfg.Ledger.MaxTxAge, "PREDICT_LEDGER_MAX_TX_AGE")

	setStr(&cfg.Clock.Source, "PREDICT_CLOCK_SOURCE")
	setStr(&cfg.Clock.Genesis, "PREDICT_CLOCK_GENESIS")
	setDuration(&cfg.Clock.SlotDuration, "PREDICT_CLOCK_SLOT_DURATION")
	setStr(&cfg.Clock.RPCEndpoint, "PREDICT_CLOCK_RPC_ENDPOINT")
	setStr(&cfg.Clock.Commitment, "PREDICT_CLOCK_COMMITMENT")

	setStr(&cfg.Oracle.Source, "PREDICT_ORACLE_SOURCE")
	setBool(&cfg.Oracle.Publish, "PREDICT_ORACLE_PUBLISH")
	setStr(&cfg.Oracle.Owner, "PREDICT_ORACLE_OWNER")
	setStr(&cfg.Oracle.RPCEndpoint, "PREDICT_ORACLE_RPC_ENDPOINT")
	setDuration(&cfg.Oracle.CacheTTL, "PREDICT_ORACLE_CACHE_TTL")

	setStr(&cfg.Postgres.DSN, "PREDICT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDICT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICT_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "PREDICT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PREDICT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICT_REDIS_KEY_PREFIX")

	setStr(&cfg.S3.Endpoint, "PREDICT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.Browse, "PREDICT_S3_BROWSE")

	setDuration(&cfg.Settler.Interval, "PREDICT_SETTLER_INTERVAL")
	setInt(&cfg.Settler.Concurrency, "PREDICT_SETTLER_CONCURRENCY")
	setDuration(&cfg.Settler.Backoff, "PREDICT_SETTLER_BACKOFF")
	setDuration(&cfg.Settler.MaxBackoff, "PREDICT_SETTLER_MAX_BACKOFF")
	setInt(&cfg.Settler.SubmitRate, "PREDICT_SETTLER_SUBMIT_RATE")

	setDuration(&cfg.Archive.Interval, "PREDICT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PREDICT_ARCHIVE_RETENTION_DAYS")

	setInt(&cfg.Server.Port, "PREDICT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICT_SERVER_RATE_LIMIT")

	setStr(&cfg.Notify.TelegramToken, "PREDICT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICT_NOTIFY_EVENTS")

	setStr(&cfg.Keys.SettlerKey, "PREDICT_KEYS_SETTLER_KEY")
	setStr(&cfg.Keys.KeypairPath, "PREDICT_KEYS_KEYPAIR_PATH")
	setStr(&cfg.Keys.EncryptedKeyPath, "PREDICT_KEYS_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keys.KeyPassword, "PREDICT_KEYS_KEY_PASSWORD")

	setStr(&cfg.Mode, "PREDICT_MODE")
	setStr(&cfg.LogLevel, "PREDICT_LOG_LEVEL")
}

// Each setter changes dst only when the variable is set and parses.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
