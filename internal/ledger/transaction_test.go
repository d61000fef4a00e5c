package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

func TestTransactionWireRoundTrip(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	user := solana.NewWallet().PrivateKey
	programID := solana.NewWallet().PublicKey()

	ix := program.NewStakeAndCommitInstruction(programID, solana.NewWallet().PublicKey(), user.PublicKey(),
		solana.NewWallet().PublicKey(), program.StakeAndCommit{PredictedPrice: -5, ExpirySlot: 9, Stake: 1})
	tx, err := NewTransaction(payer.PublicKey(), ix, 42)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer, user))
	require.Len(t, tx.Signatures, 2)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	got, err := UnmarshalTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, tx, got)
	assert.NoError(t, got.Verify())
	assert.Equal(t, tx.Signatures[0].String(), got.ID())

	_, err = UnmarshalTransaction(append(raw, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = UnmarshalTransaction(raw[:len(raw)-3])
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSignersDeduplicatePayer(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	ix := program.NewStakeAndCommitInstruction(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		payer.PublicKey(), solana.NewWallet().PublicKey(), program.StakeAndCommit{})
	tx, err := NewTransaction(payer.PublicKey(), ix, 0)
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{payer.PublicKey()}, tx.Signers())
	require.NoError(t, tx.Sign(payer))
	assert.NoError(t, tx.Verify())
}

func TestVerifyRejectsExtraSignatures(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	tx, err := NewTransaction(payer.PublicKey(), program.NewSettlePredictionInstruction(solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()), 0)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer))
	tx.Signatures = append(tx.Signatures, tx.Signatures[0])
	assert.ErrorIs(t, tx.Verify(), domain.ErrInvalidSignature)
}

func TestLocalClock(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := genesis.Add(10 * time.Second)
	c := NewLocalClock(genesis, 400*time.Millisecond, func() time.Time { return now })

	slot, err := c.CurrentSlot()
	require.NoError(t, err)
	assert.Equal(t, uint64(25), slot)

	now = genesis.Add(-time.Hour)
	slot, err = c.CurrentSlot()
	require.NoError(t, err)
	assert.Zero(t, slot)
}

type fixedSource uint64

func (s fixedSource) GetSlot(context.Context) (uint64, error) { return uint64(s), nil }

func TestSlotSourceClock(t *testing.T) {
	slot, err := NewSlotSourceClock(fixedSource(77), 0).CurrentSlot()
	require.NoError(t, err)
	assert.Equal(t, uint64(77), slot)
}

func TestMemoryDedup(t *testing.T) {
	d := NewMemoryDedup()
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	dup, err := d.Seen(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, dup)
	dup, _ = d.Seen(ctx, "a", time.Minute)
	assert.True(t, dup)

	now = now.Add(2 * time.Minute)
	dup, _ = d.Seen(ctx, "a", time.Minute)
	assert.False(t, dup)

	require.NoError(t, d.Forget(ctx, "a"))
	dup, _ = d.Seen(ctx, "a", time.Minute)
	assert.False(t, dup)
}

func TestLocalLocks(t *testing.T) {
	l := newLocalLocks()
	ctx := context.Background()
	unlock, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	unlock()
	again, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	again()
}
