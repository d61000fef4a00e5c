// Package solana reads slots and oracle accounts from a Solana JSON-RPC
// node.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// RPC is the subset of *rpc.Client used here.
type RPC interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetAccountInfoWithOpts(ctx context.Context, account sol.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// NewRPC dials endpoint.
func NewRPC(endpoint string) *rpc.Client {
	return rpc.New(endpoint)
}

// SlotSource reports the cluster slot at a fixed commitment.
type SlotSource struct {
	rpc        RPC
	commitment rpc.CommitmentType
}

// NewSlotSource creates a SlotSource. An empty commitment means confirmed.
func NewSlotSource(c RPC, commitment rpc.CommitmentType) *SlotSource {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &SlotSource{rpc: c, commitment: commitment}
}

// GetSlot returns the current slot.
func (s *SlotSource) GetSlot(ctx context.Context) (uint64, error) {
	slot, err := s.rpc.GetSlot(ctx, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("solana: get slot: %w", err)
	}
	return slot, nil
}

// AccountMirror serves oracle account data fetched from the cluster,
// caching each feed for a short TTL.
type AccountMirror struct {
	rpc        RPC
	commitment rpc.CommitmentType
	ttl        time.Duration
	owner      sol.PublicKey
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[sol.PublicKey]mirrored
}

type mirrored struct {
	data    []byte
	fetched time.Time
}

// MirrorOptions configures an AccountMirror. A non-zero Owner restricts
// mirrored accounts to that owner program.
type MirrorOptions struct {
	Commitment rpc.CommitmentType
	TTL        time.Duration
	Owner      sol.PublicKey
	Logger     *slog.Logger
}

// NewAccountMirror creates an AccountMirror.
func NewAccountMirror(c RPC, opts MirrorOptions) *AccountMirror {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AccountMirror{
		rpc:        c,
		commitment: opts.Commitment,
		ttl:        opts.TTL,
		owner:      opts.Owner,
		logger:     opts.Logger.With(slog.String("component", "account_mirror")),
		now:        time.Now,
		cache:      make(map[sol.PublicKey]mirrored),
	}
}

// OracleData returns the account's raw data. Missing accounts and accounts
// with an unexpected owner report domain.ErrNotFound.
func (m *AccountMirror) OracleData(ctx context.Context, feed sol.PublicKey) ([]byte, error) {
	if data, ok := m.cached(feed); ok {
		return data, nil
	}

	res, err := m.rpc.GetAccountInfoWithOpts(ctx, feed, &rpc.GetAccountInfoOpts{
		Encoding:   sol.EncodingBase64,
		Commitment: m.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("solana: get account %s: %w", feed, err)
	}
	if res == nil || res.Value == nil {
		return nil, domain.ErrNotFound
	}
	if !m.owner.IsZero() && !res.Value.Owner.Equals(m.owner) {
		m.logger.WarnContext(ctx, "oracle owner mismatch",
			slog.String("feed", feed.String()),
			slog.String("owner", res.Value.Owner.String()),
		)
		return nil, domain.ErrNotFound
	}

	data := res.Value.Data.GetBinary()
	m.store(feed, data)
	return data, nil
}

func (m *AccountMirror) cached(feed sol.PublicKey) ([]byte, bool) {
	if m.ttl <= 0 {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[feed]
	if !ok || m.now().Sub(e.fetched) >= m.ttl {
		return nil, false
	}
	return e.data, true
}

func (m *AccountMirror) store(feed sol.PublicKey, data []byte) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.cache[feed] = mirrored{data: data, fetched: m.now()}
	m.mu.Unlock()
}

var _ domain.OracleSource = (*AccountMirror)(nil)
