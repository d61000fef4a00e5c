package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/config"
	"github.com/v1xingyue/tokenwords/internal/domain"
)

func TestWireInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Program.ID = solana.NewWallet().PublicKey().String()
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Ledger)
	assert.NotNil(t, deps.Query)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.OraclePub)
	assert.Empty(t, deps.Health)

	_, err = deps.Oracles.OracleData(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	key := solana.NewWallet().PublicKey()
	acct, err := deps.Ledger.Allocate(ctx, key, deps.ProgramID)
	require.NoError(t, err)
	got, err := deps.Query.Account(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, acct.Owner, got.Owner)
}

func TestWireRejectsBadProgramID(t *testing.T) {
	cfg := config.Defaults()
	cfg.Program.ID = "nope"
	_, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	cleanup()
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	boom := errors.New("boom")
	assert.Equal(t, boom, ignoreCanceled(boom))
}
