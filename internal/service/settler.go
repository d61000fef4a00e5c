package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/program"
)

// Executor submits transactions. *ledger.Ledger implements it.
type Executor interface {
	ProgramID() solana.PublicKey
	CurrentSlot() (uint64, error)
	Execute(ctx context.Context, tx *ledger.Transaction) (domain.Receipt, error)
}

// SettlerConfig tunes the settlement keeper.
type SettlerConfig struct {
	Interval    time.Duration
	Concurrency int
	// Backoff is the first pause after a prediction fails to settle. It
	// doubles on each further failure up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Limiter, when set, paces submissions under one key per signer.
	Limiter domain.RateLimiter
}

// TickResult counts one settlement pass.
type TickResult struct {
	Due     int
	Settled int
	Skipped int
	Failed  int
}

// Settler settles expired predictions on a fixed interval, signing each
// SettlePrediction with its own key.
type Settler struct {
	exec   Executor
	query  *QueryService
	signer solana.PrivateKey
	cfg    SettlerConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	backoff map[solana.PublicKey]retryState
}

type retryState struct {
	until time.Time
	delay time.Duration
}

// NewSettler creates a Settler.
func NewSettler(exec Executor, query *QueryService, signer solana.PrivateKey, cfg SettlerConfig, logger *slog.Logger) *Settler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(10*time.Minute, cfg.Backoff)
	}
	return &Settler{
		exec:    exec,
		query:   query,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "settler")),
		now:     time.Now,
		backoff: make(map[solana.PublicKey]retryState),
	}
}

// Run settles due predictions until ctx is done.
func (s *Settler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "settler started",
		slog.String("signer", s.signer.PublicKey().String()),
		slog.Duration("interval", s.cfg.Interval),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := s.Tick(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "settlement pass failed", slog.String("error", err.Error()))
				continue
			}
			if res.Due > 0 {
				s.logger.InfoContext(ctx, "settlement pass",
					slog.Int("due", res.Due),
					slog.Int("settled", res.Settled),
					slog.Int("skipped", res.Skipped),
					slog.Int("failed", res.Failed),
				)
			}
		}
	}
}

// Tick runs one settlement pass.
func (s *Settler) Tick(ctx context.Context) (TickResult, error) {
	slot, err := s.exec.CurrentSlot()
	if err != nil {
		return TickResult{}, err
	}
	open, err := s.query.OpenPredictions(ctx)
	if err != nil {
		return TickResult{}, err
	}

	var due []PredictionView
	for _, p := range open {
		if slot >= p.ExpirySlot {
			due = append(due, p)
		}
	}
	s.pruneBackoff(due)
	res := TickResult{Due: len(due)}
	if len(due) == 0 {
		return res, nil
	}

	oracles, err := s.roomOracles(ctx, due)
	if err != nil {
		return res, err
	}

	var settled, skipped, failed atomic.Int64
	now := s.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, p := range due {
		oracle, ok := oracles[p.Room]
		if !ok || s.backingOff(p.Address, now) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			switch outcome := s.settle(gctx, p, oracle, slot); outcome {
			case settleOK:
				settled.Add(1)
				s.clearFailure(p.Address)
			case settleSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
				s.noteFailure(p.Address, now)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.Settled = int(settled.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())
	return res, nil
}

// roomOracles maps each referenced room to its oracle feed. Rooms that
// cannot be decoded are left out and their predictions skipped.
func (s *Settler) roomOracles(ctx context.Context, preds []PredictionView) (map[solana.PublicKey]solana.PublicKey, error) {
	out := make(map[solana.PublicKey]solana.PublicKey)
	for _, p := range preds {
		if _, ok := out[p.Room]; ok {
			continue
		}
		room, err := s.query.Room(ctx, p.Room)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, program.ErrDecode) {
				s.logger.WarnContext(ctx, "prediction references unknown room",
					slog.String("prediction", p.Address.String()),
					slog.String("room", p.Room.String()),
				)
				continue
			}
			return nil, err
		}
		out[p.Room] = room.OracleFeed
	}
	return out, nil
}

type settleOutcome int

const (
	settleOK settleOutcome = iota
	settleSkipped
	settleFailed
)

func (s *Settler) settle(ctx context.Context, p PredictionView, oracle solana.PublicKey, slot uint64) settleOutcome {
	log := s.logger.With(slog.String("prediction", p.Address.String()))

	tx, err := s.buildTx(p, oracle, slot)
	if err != nil {
		log.ErrorContext(ctx, "build settlement failed", slog.String("error", err.Error()))
		return settleFailed
	}
	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx, "settler:"+s.signer.PublicKey().String()); err != nil {
			log.WarnContext(ctx, "settlement throttled", slog.String("error", err.Error()))
			return settleSkipped
		}
	}
	receipt, err := s.exec.Execute(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrAccountInUse) || errors.Is(err, domain.ErrDuplicateTransaction) {
			log.DebugContext(ctx, "settlement deferred", slog.String("reason", err.Error()))
			return settleSkipped
		}
		log.ErrorContext(ctx, "settlement submit failed", slog.String("error", err.Error()))
		return settleFailed
	}
	if receipt.Succeeded() {
		return settleOK
	}

	if receipt.Error != nil && receipt.Error.Retryable {
		log.DebugContext(ctx, "settlement not yet due", slog.String("tx", receipt.ID))
		return settleSkipped
	}
	attrs := []any{slog.String("tx", receipt.ID)}
	if receipt.Error != nil {
		attrs = append(attrs, slog.String("error", receipt.Error.Name), slog.String("class", receipt.Error.Class))
	}
	log.WarnContext(ctx, "settlement rejected", attrs...)
	return settleFailed
}

// backingOff reports whether pred failed recently and should wait.
func (s *Settler) backingOff(pred solana.PublicKey, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.backoff[pred]
	return ok && now.Before(st.until)
}

func (s *Settler) noteFailure(pred solana.PublicKey, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.cfg.Backoff
	if st, ok := s.backoff[pred]; ok {
		delay = min(st.delay*2, s.cfg.MaxBackoff)
	}
	s.backoff[pred] = retryState{until: now.Add(delay), delay: delay}
}

func (s *Settler) clearFailure(pred solana.PublicKey) {
	s.mu.Lock()
	delete(s.backoff, pred)
	s.mu.Unlock()
}

// pruneBackoff drops entries for predictions that are no longer due.
func (s *Settler) pruneBackoff(due []PredictionView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backoff) == 0 {
		return
	}
	keep := make(map[solana.PublicKey]struct{}, len(due))
	for _, p := range due {
		keep[p.Address] = struct{}{}
	}
	for k := range s.backoff {
		if _, ok := keep[k]; !ok {
			delete(s.backoff, k)
		}
	}
}

func (s *Settler) buildTx(p PredictionView, oracle solana.PublicKey, slot uint64) (*ledger.Transaction, error) {
	ix := program.NewSettlePredictionInstruction(s.exec.ProgramID(), p.Address, p.Room, oracle)
	tx, err := ledger.NewTransaction(s.signer.PublicKey(), ix, slot)
	if err != nil {
		return nil, fmt.Errorf("service: settlement tx: %w", err)
	}
	if err := tx.Sign(s.signer); err != nil {
		return nil, fmt.Errorf("service: sign settlement: %w", err)
	}
	return tx, nil
}
