// Package config defines the daemon configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by PREDICT_* environment variables.
type Config struct {
	Program  ProgramConfig  `toml:"program"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Clock    ClockConfig    `toml:"clock"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Settler  SettlerConfig  `toml:"settler"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Keys     KeysConfig     `toml:"keys"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ProgramConfig identifies the hosted program.
type ProgramConfig struct {
	ID string `toml:"id"` // base58
}

// LedgerConfig selects the account store and coordination backends.
type LedgerConfig struct {
	Storage  string   `toml:"storage"` // postgres | memory
	Locks    string   `toml:"locks"`   // redis | local
	LockTTL  duration `toml:"lock_ttl"`
	DedupTTL duration `toml:"dedup_ttl"`
	MaxTxAge uint64   `toml:"max_tx_age"` // slots, 0 disables
}

// ClockConfig selects where the current slot comes from.
type ClockConfig struct {
	Source       string   `toml:"source"`  // local | solana
	Genesis      string   `toml:"genesis"` // RFC 3339, local only
	SlotDuration duration `toml:"slot_duration"`
	RPCEndpoint  string   `toml:"rpc_endpoint"`
	Commitment   string   `toml:"commitment"`
	Timeout      duration `toml:"timeout"`
}

// OracleConfig selects where oracle account bytes come from.
type OracleConfig struct {
	Source      string   `toml:"source"`  // redis | solana | none
	Publish     bool     `toml:"publish"` // mount PUT /api/oracles/{key}, redis only
	Owner       string   `toml:"owner"`
	RPCEndpoint string   `toml:"rpc_endpoint"`
	Commitment  string   `toml:"commitment"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// PostgresConfig holds connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Browse serves archived files over the API in server mode.
	Browse bool `toml:"browse"`
}

// SettlerConfig tunes the settlement keeper.
type SettlerConfig struct {
	Interval    duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
	// Backoff is the first pause before retrying a prediction whose
	// settlement failed.
	Backoff    duration `toml:"backoff"`
	MaxBackoff duration `toml:"max_backoff"`
	// SubmitRate caps settlements per second when redis is enabled. Zero
	// means unlimited.
	SubmitRate int `toml:"submit_rate"`
}

// ArchiveConfig tunes the settlement archiver.
type ArchiveConfig struct {
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
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

// KeysConfig locates the settler's signing key.
type KeysConfig struct {
	SettlerKey       string `toml:"settler_key"` // base58
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

func (k KeysConfig) configured() bool {
	return k.SettlerKey != "" || k.KeypairPath != "" || k.EncryptedKeyPath != ""
}

// duration decodes TOML strings such as "5m".
type duration struct {
	time.Duration
}

// Dur wraps d for use in Config literals.
func Dur(d time.Duration) duration { return duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a development configuration: in-memory storage, local
// clock and locks, no oracle source.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Storage:  "memory",
			Locks:    "local",
			LockTTL:  Dur(10 * time.Second),
			DedupTTL: Dur(10 * time.Minute),
			MaxTxAge: 150,
		},
		Clock: ClockConfig{
			Source:       "local",
			Genesis:      "2025-01-01T00:00:00Z",
			SlotDuration: Dur(400 * time.Millisecond),
			RPCEndpoint:  "https://api.devnet.solana.com",
			Commitment:   "confirmed",
			Timeout:      Dur(5 * time.Second),
		},
		Oracle: OracleConfig{
			Source:      "none",
			RPCEndpoint: "https://api.devnet.solana.com",
			Commitment:  "confirmed",
			CacheTTL:    Dur(2 * time.Second),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "predict:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predict-archive",
			ForcePathStyle: true,
		},
		Settler: SettlerConfig{
			Interval:    Dur(5 * time.Second),
			Concurrency: 4,
			Backoff:     Dur(30 * time.Second),
			MaxBackoff:  Dur(10 * time.Minute),
		},
		Archive: ArchiveConfig{
			Interval:      Dur(24 * time.Hour),
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       60,
			RateLimitWindow: Dur(time.Minute),
		},
		Notify: NotifyConfig{
			Events: []string{"prediction_settled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"settler": true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsSettler reports whether the mode runs the settlement keeper.
func (c *Config) RunsSettler() bool { return c.Mode == "settler" || c.Mode == "full" }

// RunsServer reports whether the mode serves the API.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsArchiver reports whether the mode archives settlements.
func (c *Config) RunsArchiver() bool { return c.Mode == "archive" || c.Mode == "full" }

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	c.Mode = strings.ToLower(c.Mode)
	if !validModes[c.Mode] {
		add("unknown mode %q (valid: server, settler, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if _, err := solana.PublicKeyFromBase58(c.Program.ID); err != nil {
		add("program: id must be a base58 public key: %v", err)
	}

	switch c.Ledger.Storage {
	case "memory":
		if c.RunsArchiver() {
			add("ledger: storage memory cannot be archived; use postgres for mode %s", c.Mode)
		}
	case "postgres":
	default:
		add("ledger: storage must be postgres or memory, got %q", c.Ledger.Storage)
	}
	switch c.Ledger.Locks {
	case "local":
		if c.Ledger.Storage == "postgres" && c.Mode != "full" {
			add("ledger: locks local are unsafe with shared postgres storage in mode %s; use redis", c.Mode)
		}
	case "redis":
		if !c.Redis.Enabled {
			add("ledger: locks redis requires redis.enabled")
		}
	default:
		add("ledger: locks must be redis or local, got %q", c.Ledger.Locks)
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		add("ledger: lock_ttl must be > 0")
	}

	switch c.Clock.Source {
	case "local":
		if c.Clock.Genesis != "" {
			if _, err := time.Parse(time.RFC3339, c.Clock.Genesis); err != nil {
				add("clock: genesis must be RFC 3339: %v", err)
			}
		}
		if c.Clock.SlotDuration.Duration <= 0 {
			add("clock: slot_duration must be > 0")
		}
	case "solana":
		if c.Clock.RPCEndpoint == "" {
			add("clock: rpc_endpoint is required for source solana")
		}
	default:
		add("clock: source must be local or solana, got %q", c.Clock.Source)
	}

	switch c.Oracle.Source {
	case "none":
	case "redis":
		if !c.Redis.Enabled {
			add("oracle: source redis requires redis.enabled")
		}
	case "solana":
		if c.Oracle.RPCEndpoint == "" {
			add("oracle: rpc_endpoint is required for source solana")
		}
		if c.Oracle.Publish {
			add("oracle: publish is only supported for source redis")
		}
	default:
		add("oracle: source must be redis, solana or none, got %q", c.Oracle.Source)
	}
	if c.Oracle.Owner != "" {
		if _, err := solana.PublicKeyFromBase58(c.Oracle.Owner); err != nil {
			add("oracle: owner must be a base58 public key: %v", err)
		}
	}

	if c.Ledger.Storage == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if (c.RunsArchiver() || c.S3.Browse) && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.RunsArchiver() {
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			add("archive: retention_days must be >= 1")
		}
	}

	if c.RunsSettler() {
		if !c.Keys.configured() {
			add("keys: settler_key, keypair_path or encrypted_key_path is required for mode %s", c.Mode)
		}
		if c.Keys.EncryptedKeyPath != "" && c.Keys.KeyPassword == "" {
			add("keys: key_password is required when encrypted_key_path is set")
		}
		if c.Settler.Interval.Duration <= 0 {
			add("settler: interval must be > 0")
		}
		if c.Settler.Concurrency < 1 {
			add("settler: concurrency must be >= 1")
		}
		if c.Settler.SubmitRate < 0 {
			add("settler: submit_rate must be >= 0")
		}
		if c.Mode == "settler" && c.Ledger.Storage == "memory" {
			add("settler: mode settler needs shared storage; use postgres or mode full")
		}
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
