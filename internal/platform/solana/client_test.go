package solana

import (
	"context"
	"errors"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

type fakeRPC struct {
	slot     uint64
	accounts map[sol.PublicKey]*rpc.Account
	calls    int
	lastOpts *rpc.GetAccountInfoOpts
	lastComm rpc.CommitmentType
}

func (f *fakeRPC) GetSlot(_ context.Context, c rpc.CommitmentType) (uint64, error) {
	f.lastComm = c
	return f.slot, nil
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, key sol.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	f.calls++
	f.lastOpts = opts
	acct, ok := f.accounts[key]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func oracleAccount(owner sol.PublicKey, price int64) *rpc.Account {
	return &rpc.Account{
		Owner: owner,
		Data:  rpc.DataBytesOrJSONFromBytes(program.EncodeOraclePrice(price)),
	}
}

func TestSlotSource(t *testing.T) {
	f := &fakeRPC{slot: 123}
	slot, err := NewSlotSource(f, "").GetSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123), slot)
	assert.Equal(t, rpc.CommitmentConfirmed, f.lastComm)
}

func TestAccountMirror(t *testing.T) {
	owner := sol.NewWallet().PublicKey()
	feed := sol.NewWallet().PublicKey()
	foreign := sol.NewWallet().PublicKey()
	f := &fakeRPC{accounts: map[sol.PublicKey]*rpc.Account{
		feed:    oracleAccount(owner, 35000),
		foreign: oracleAccount(sol.NewWallet().PublicKey(), 1),
	}}
	m := NewAccountMirror(f, MirrorOptions{TTL: time.Second, Owner: owner})
	now := time.Unix(100, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	data, err := m.OracleData(ctx, feed)
	require.NoError(t, err)
	price, err := program.ReadOraclePrice(data)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), price)
	assert.Equal(t, sol.EncodingBase64, f.lastOpts.Encoding)

	_, err = m.OracleData(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)

	now = now.Add(2 * time.Second)
	_, err = m.OracleData(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)

	_, err = m.OracleData(ctx, foreign)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = m.OracleData(ctx, sol.NewWallet().PublicKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
