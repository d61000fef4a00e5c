package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

func TestAccountsAllocateAndCommit(t *testing.T) {
	s := New()
	accts := s.Accounts()
	ctx := context.Background()
	key := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	require.NoError(t, accts.Allocate(ctx, domain.Account{Key: key, Owner: owner}))
	assert.ErrorIs(t, accts.Allocate(ctx, domain.Account{Key: key}), domain.ErrAlreadyExists)

	got, err := accts.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.Empty())

	data := []byte{1, 2, 3}
	require.NoError(t, accts.Commit(ctx, domain.CommitBatch{
		Accounts: []domain.Account{{Key: key, Owner: owner, Data: data, Slot: 5}},
		Receipt:  domain.Receipt{ID: "tx", Status: domain.TxSucceeded, StateHash: "0xabc"},
	}))
	data[0] = 9

	got, err = accts.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)

	head, err := s.Receipts().Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", head)

	_, err = accts.Get(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByOwner(t *testing.T) {
	s := New()
	accts := s.Accounts()
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()

	for i, n := range []int{90, 129, 90, 0} {
		require.NoError(t, accts.Allocate(ctx, domain.Account{
			Key:   solana.NewWallet().PublicKey(),
			Owner: owner,
			Data:  make([]byte, n),
			Slot:  uint64(i),
		}))
	}
	require.NoError(t, accts.Allocate(ctx, domain.Account{Key: solana.NewWallet().PublicKey(), Owner: solana.NewWallet().PublicKey(), Data: make([]byte, 90)}))

	got, err := accts.ListByOwner(ctx, owner, 90, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Slot)
	assert.Equal(t, uint64(0), got[1].Slot)

	all, err := accts.ListByOwner(ctx, owner, -1, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(2), all[0].Slot)
}

func TestReceiptsUpsertAndRecent(t *testing.T) {
	s := New()
	r := s.Receipts()
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, domain.Receipt{ID: "a", Status: domain.TxFailed}))
	require.NoError(t, r.Insert(ctx, domain.Receipt{ID: "b", Status: domain.TxSucceeded, StateHash: "h"}))
	require.NoError(t, r.Insert(ctx, domain.Receipt{ID: "a", Status: domain.TxFailed, Instruction: "settle_prediction"}))

	recent, err := r.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "settle_prediction", got.Instruction)

	_, err = r.Get(ctx, "zz")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementsAndAudit(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Accounts().Commit(ctx, domain.CommitBatch{
		Receipt:    domain.Receipt{ID: "1", Status: domain.TxSucceeded},
		Settlement: &domain.Settlement{Prediction: "p1", SettledAt: base},
	}))
	require.NoError(t, s.Accounts().Commit(ctx, domain.CommitBatch{
		Receipt:    domain.Receipt{ID: "2", Status: domain.TxSucceeded},
		Settlement: &domain.Settlement{Prediction: "p2", SettledAt: base.Add(48 * time.Hour)},
	}))

	before, err := s.Settlements().ListBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "p1", before[0].Prediction)

	recent, err := s.Settlements().ListRecent(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "p2", recent[0].Prediction)

	require.NoError(t, s.Audit().Log(ctx, "archive.settlements", map[string]any{"count": 1}))
	entries, err := s.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
}
