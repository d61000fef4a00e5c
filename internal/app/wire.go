package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	s3blob "github.com/v1xingyue/tokenwords/internal/blob/s3"
	"github.com/v1xingyue/tokenwords/internal/cache/redis"
	"github.com/v1xingyue/tokenwords/internal/config"
	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/notify"
	solplatform "github.com/v1xingyue/tokenwords/internal/platform/solana"
	"github.com/v1xingyue/tokenwords/internal/program"
	"github.com/v1xingyue/tokenwords/internal/server/handler"
	"github.com/v1xingyue/tokenwords/internal/service"
	"github.com/v1xingyue/tokenwords/internal/store/memory"
	"github.com/v1xingyue/tokenwords/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional members are nil
// when their backend is not configured.
type Dependencies struct {
	ProgramID solana.PublicKey
	Clock     program.Clock

	Accounts    domain.AccountStore
	Receipts    domain.ReceiptStore
	Settlements domain.SettlementStore
	Audit       domain.AuditStore

	Locks       domain.LockManager
	Dedup       domain.Dedup
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	// SubmitLimiter paces settlement submissions.
	SubmitLimiter domain.RateLimiter

	Oracles   domain.OracleSource
	OraclePub domain.OraclePublisher

	Archiver domain.Archiver
	Archives domain.ArchiveBrowser

	Ledger *ledger.Ledger
	Query  *service.QueryService

	Notifier *notify.Notifier

	// Health lists pingable backends for GET /api/health.
	Health map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// noOracles reports every feed as unknown.
type noOracles struct{}

func (noOracles) OracleData(context.Context, solana.PublicKey) ([]byte, error) {
	return nil, domain.ErrNotFound
}

// Wire builds every dependency cfg asks for. The cleanup function releases
// them in reverse order and is safe to call after a failed Wire.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	programID, err := solana.PublicKeyFromBase58(cfg.Program.ID)
	if err != nil {
		return fail(fmt.Errorf("wire: program id: %w", err))
	}
	deps := &Dependencies{
		ProgramID: programID,
		Health:    map[string]handler.Pinger{},
	}

	// --- Storage ---
	switch cfg.Ledger.Storage {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Receipts = postgres.NewReceiptStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pg
	default:
		logger.WarnContext(ctx, "using in-memory storage; state is lost on exit")
		mem := memory.New()
		deps.Accounts = mem.Accounts()
		deps.Receipts = mem.Receipts()
		deps.Settlements = mem.Settlements()
		deps.Audit = mem.Audit()
	}

	// --- Redis ---
	var rc *redis.Client
	if cfg.Redis.Enabled {
		rc, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Health["redis"] = rc

		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(rc, cfg.Server.RateLimit, cfg.Server.RateLimitWindow.Duration)
		if cfg.Settler.SubmitRate > 0 {
			deps.SubmitLimiter = redis.NewRateLimiter(rc, cfg.Settler.SubmitRate, time.Second)
		}
		if cfg.Ledger.Locks == "redis" {
			deps.Locks = redis.NewLockManager(rc)
			deps.Dedup = redis.NewDedup(rc)
		}
	}

	// --- Clock ---
	switch cfg.Clock.Source {
	case "solana":
		src := solplatform.NewSlotSource(solplatform.NewRPC(cfg.Clock.RPCEndpoint), rpc.CommitmentType(cfg.Clock.Commitment))
		deps.Clock = ledger.NewSlotSourceClock(src, cfg.Clock.Timeout.Duration)
		deps.Health["solana"] = pingFunc(func(ctx context.Context) error {
			_, err := src.GetSlot(ctx)
			return err
		})
	default:
		genesis, err := time.Parse(time.RFC3339, cfg.Clock.Genesis)
		if err != nil {
			return fail(fmt.Errorf("wire: clock genesis: %w", err))
		}
		deps.Clock = ledger.NewLocalClock(genesis, cfg.Clock.SlotDuration.Duration, nil)
	}

	// --- Oracles ---
	var oracleOwner solana.PublicKey
	if cfg.Oracle.Owner != "" {
		oracleOwner = solana.MustPublicKeyFromBase58(cfg.Oracle.Owner)
	}
	switch cfg.Oracle.Source {
	case "redis":
		feed := redis.NewOracleFeed(rc, deps.SignalBus)
		deps.Oracles = feed
		if cfg.Oracle.Publish {
			deps.OraclePub = feed
		}
	case "solana":
		deps.Oracles = solplatform.NewAccountMirror(solplatform.NewRPC(cfg.Oracle.RPCEndpoint), solplatform.MirrorOptions{
			Commitment: rpc.CommitmentType(cfg.Oracle.Commitment),
			TTL:        cfg.Oracle.CacheTTL.Duration,
			Owner:      oracleOwner,
			Logger:     logger,
		})
	}

	// --- Ledger ---
	deps.Ledger, err = ledger.New(ledger.Options{
		ProgramID:   programID,
		Clock:       deps.Clock,
		Accounts:    deps.Accounts,
		Receipts:    deps.Receipts,
		Oracles:     deps.Oracles,
		Locks:       deps.Locks,
		Dedup:       deps.Dedup,
		Bus:         deps.SignalBus,
		OracleOwner: oracleOwner,
		LockTTL:     cfg.Ledger.LockTTL.Duration,
		DedupTTL:    cfg.Ledger.DedupTTL.Duration,
		MaxTxAge:    cfg.Ledger.MaxTxAge,
		Logger:      logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Query = service.NewQueryService(programID, deps.Clock, deps.Accounts, deps.Receipts, deps.Settlements)
	if deps.Oracles == nil {
		deps.Oracles = noOracles{}
	}

	// --- S3 ---
	if cfg.RunsArchiver() || (cfg.RunsServer() && cfg.S3.Browse) {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		archiver := s3blob.NewArchiver(s3blob.NewWriter(s3c), s3blob.NewReader(s3c), deps.Settlements, deps.Audit)
		deps.Archives = archiver
		if cfg.RunsArchiver() {
			deps.Archiver = archiver
		}
		deps.Health["s3"] = pingFunc(s3c.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
