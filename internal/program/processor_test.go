package program

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type tHelper interface {
	require.TestingT
	Helper()
}

type fixture struct {
	programID  solana.PublicKey
	room       *AccountInfo
	prediction *AccountInfo
	oracle     *AccountInfo
	user       solana.PublicKey
}

func newFixture(t tHelper, predicted int64, expiry uint64, observed int64) *fixture {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	oracleKey := solana.NewWallet().PublicKey()
	roomKey := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()

	roomData, err := EncodeRoom(Room{
		Authority:   solana.NewWallet().PublicKey(),
		OracleFeed:  oracleKey,
		StakingMint: solana.NewWallet().PublicKey(),
		StakeVault:  solana.NewWallet().PublicKey(),
		Bump:        1,
	})
	require.NoError(t, err)
	predData, err := EncodePrediction(Prediction{
		User:           user,
		Room:           roomKey,
		PredictedPrice: predicted,
		ExpirySlot:     expiry,
		Stake:          100,
	})
	require.NoError(t, err)

	return &fixture{
		programID:  programID,
		room:       &AccountInfo{Key: roomKey, Owner: programID, Data: roomData},
		prediction: &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: programID, IsWritable: true, Data: predData},
		oracle:     &AccountInfo{Key: oracleKey, Owner: solana.NewWallet().PublicKey(), Data: EncodeOraclePrice(observed)},
		user:       user,
	}
}

func (f *fixture) settle(slot uint64) error {
	p := NewProcessor(f.programID, FixedClock(slot), nil)
	return p.Process([]*AccountInfo{f.prediction, f.room, f.oracle}, []byte{byte(TagSettlePrediction)})
}

func (f *fixture) stored(t tHelper) Prediction {
	t.Helper()
	pred, err := DecodePrediction(f.prediction.Data)
	require.NoError(t, err)
	return pred
}

func TestSettleScenarios(t *testing.T) {
	cases := []struct {
		name     string
		observed int64
		slot     uint64
		wantErr  error
		resolved bool
		won      bool
	}{
		{name: "oracle above target wins", observed: 35_000, slot: 150, resolved: true, won: true},
		{name: "oracle below target loses", observed: 25_000, slot: 150, resolved: true, won: false},
		{name: "before expiry", observed: 35_000, slot: 50, wantErr: ErrNotExpired},
		{name: "tie wins", observed: 30_000, slot: 100, resolved: true, won: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 30_000, 100, tc.observed)
			before := append([]byte(nil), f.prediction.Data...)

			err := f.settle(tc.slot)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, before, f.prediction.Data)
				assert.False(t, f.stored(t).Resolved)
				return
			}
			require.NoError(t, err)
			got := f.stored(t)
			assert.Equal(t, tc.resolved, got.Resolved)
			assert.Equal(t, tc.won, got.Won)
		})
	}
}

func TestSettleTwiceFails(t *testing.T) {
	f := newFixture(t, 10, 1, 20)
	require.NoError(t, f.settle(5))
	settled := append([]byte(nil), f.prediction.Data...)

	f.oracle.Data = EncodeOraclePrice(-1)
	err := f.settle(5)
	require.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, settled, f.prediction.Data)
}

func TestSettleCheckOrder(t *testing.T) {
	t.Run("ownership before decode", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		f.room.Owner = solana.SystemProgramID
		f.prediction.Data = []byte{1}
		assert.ErrorIs(t, f.settle(5), ErrInvalidOwner)
	})
	t.Run("prediction decode before room", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		f.prediction.Data = f.prediction.Data[:10]
		f.room.Data = nil
		err := f.settle(5)
		require.ErrorIs(t, err, ErrInvalidAccountData)
		assert.Contains(t, err.Error(), "prediction")
	})
	t.Run("room decoded", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		f.room.Data = append(f.room.Data, 0)
		assert.ErrorIs(t, f.settle(5), ErrInvalidAccountData)
	})
	t.Run("room mismatch before clock", func(t *testing.T) {
		f := newFixture(t, 1, 1_000, 1)
		f.room.Key = solana.NewWallet().PublicKey()
		assert.ErrorIs(t, f.settle(0), ErrInvalidRoom)
	})
	t.Run("clock before oracle size", func(t *testing.T) {
		f := newFixture(t, 1, 1_000, 1)
		f.oracle.Data = nil
		assert.ErrorIs(t, f.settle(10), ErrNotExpired)
	})
	t.Run("short oracle", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		f.oracle.Data = f.oracle.Data[:7]
		assert.ErrorIs(t, f.settle(10), ErrOracleDataTooSmall)
	})
	t.Run("clock failure", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		p := NewProcessor(f.programID, ClockFunc(func() (uint64, error) {
			return 0, errors.New("sysvar offline")
		}), nil)
		err := p.Process([]*AccountInfo{f.prediction, f.room, f.oracle}, []byte{2})
		require.ErrorIs(t, err, ErrClockUnavailable)
		assert.Equal(t, ClassRuntime, ClassOf(err))
	})
	t.Run("missing oracle account", func(t *testing.T) {
		f := newFixture(t, 1, 1, 1)
		p := NewProcessor(f.programID, FixedClock(5), nil)
		err := p.Process([]*AccountInfo{f.prediction, f.room}, []byte{2})
		assert.ErrorIs(t, err, ErrNotEnoughAccountKeys)
	})
}

func TestSettleProperties(t *testing.T) {
	t.Run("won iff observed >= predicted", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			predicted := rapid.Int64().Draw(rt, "predicted")
			observed := rapid.Int64().Draw(rt, "observed")
			expiry := rapid.Uint64Range(0, 1<<40).Draw(rt, "expiry")
			slot := rapid.Uint64Range(expiry, 1<<41).Draw(rt, "slot")

			f := newFixture(rt, predicted, expiry, observed)
			if err := f.settle(slot); err != nil {
				rt.Fatalf("settle: %v", err)
			}
			got := f.stored(rt)
			if !got.Resolved || got.Won != (observed >= predicted) {
				rt.Fatalf("observed=%d predicted=%d -> %+v", observed, predicted, got)
			}
		})
	})
	t.Run("slot before expiry never settles", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			expiry := rapid.Uint64Range(1, 1<<62).Draw(rt, "expiry")
			slot := rapid.Uint64Range(0, expiry-1).Draw(rt, "slot")

			f := newFixture(rt, rapid.Int64().Draw(rt, "predicted"), expiry, rapid.Int64().Draw(rt, "observed"))
			if err := f.settle(slot); !errors.Is(err, ErrNotExpired) {
				rt.Fatalf("slot %d expiry %d: got %v", slot, expiry, err)
			}
		})
	})
	t.Run("foreign room always rejected", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			f := newFixture(rt, rapid.Int64().Draw(rt, "predicted"), 0, rapid.Int64().Draw(rt, "observed"))
			f.room.Key = drawKey(rt, "room_key")
			f.oracle.Data = rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(rt, "oracle")
			if err := f.settle(rapid.Uint64().Draw(rt, "slot")); !errors.Is(err, ErrInvalidRoom) {
				rt.Fatalf("got %v", err)
			}
		})
	})
	t.Run("short oracle rejected", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			f := newFixture(rt, 0, 0, 0)
			f.oracle.Data = rapid.SliceOfN(rapid.Byte(), 0, MinOracleDataSize-1).Draw(rt, "oracle")
			if err := f.settle(rapid.Uint64().Draw(rt, "slot")); !errors.Is(err, ErrOracleDataTooSmall) {
				rt.Fatalf("got %v", err)
			}
		})
	})
}

func TestInitializeRoom(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	args := InitializeRoom{
		OracleFeed:  solana.NewWallet().PublicKey(),
		StakingMint: solana.NewWallet().PublicKey(),
		StakeVault:  solana.NewWallet().PublicKey(),
		Bump:        254,
	}
	data, err := EncodeInstruction(args)
	require.NoError(t, err)
	p := NewProcessor(programID, FixedClock(0), nil)

	t.Run("writes room", func(t *testing.T) {
		room := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: programID, IsWritable: true}
		require.NoError(t, p.Process([]*AccountInfo{room, {Key: authority}}, data))

		got, err := DecodeRoom(room.Data)
		require.NoError(t, err)
		assert.Equal(t, Room{
			Authority:   authority,
			OracleFeed:  args.OracleFeed,
			StakingMint: args.StakingMint,
			StakeVault:  args.StakeVault,
			Bump:        254,
		}, got)
	})
	t.Run("unsigned authority accepted", func(t *testing.T) {
		room := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: programID}
		authorityAcct := &AccountInfo{Key: authority, IsSigner: false}
		assert.NoError(t, p.Process([]*AccountInfo{room, authorityAcct}, data))
	})
	t.Run("foreign owner", func(t *testing.T) {
		room := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: solana.SystemProgramID, Data: []byte{1}}
		assert.ErrorIs(t, p.Process([]*AccountInfo{room, {Key: authority}}, data), ErrInvalidOwner)
	})
	t.Run("non-empty slot keeps its bytes", func(t *testing.T) {
		existing := []byte{9, 8, 7}
		room := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: programID, Data: existing}
		err := p.Process([]*AccountInfo{room, {Key: authority}}, data)
		require.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.Equal(t, []byte{9, 8, 7}, room.Data)
		code, ok := CustomCode(err)
		require.True(t, ok)
		assert.Equal(t, CodeAlreadyInitialized, code)
	})
	t.Run("missing authority", func(t *testing.T) {
		room := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: programID}
		assert.ErrorIs(t, p.Process([]*AccountInfo{room}, data), ErrNotEnoughAccountKeys)
	})
}

func TestStakeAndCommit(t *testing.T) {
	f := newFixture(t, 0, 0, 0)
	p := NewProcessor(f.programID, FixedClock(0), nil)
	data, err := EncodeInstruction(StakeAndCommit{PredictedPrice: -7, ExpirySlot: 0, Stake: 0})
	require.NoError(t, err)
	user := &AccountInfo{Key: f.user, IsSigner: true}

	t.Run("writes prediction bound to room key", func(t *testing.T) {
		pred := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: f.programID, IsWritable: true}
		require.NoError(t, p.Process([]*AccountInfo{pred, user, f.room}, data))

		got, err := DecodePrediction(pred.Data)
		require.NoError(t, err)
		assert.Equal(t, Prediction{User: f.user, Room: f.room.Key, PredictedPrice: -7}, got)
	})
	t.Run("prediction owner checked first", func(t *testing.T) {
		pred := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: solana.SystemProgramID, Data: []byte{1}}
		assert.ErrorIs(t, p.Process([]*AccountInfo{pred, user, f.room}, data), ErrInvalidOwner)
	})
	t.Run("room owner", func(t *testing.T) {
		pred := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: f.programID}
		room := f.room.Clone()
		room.Owner = solana.SystemProgramID
		assert.ErrorIs(t, p.Process([]*AccountInfo{pred, user, room}, data), ErrInvalidOwner)
	})
	t.Run("occupied prediction before room decode", func(t *testing.T) {
		pred := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: f.programID, Data: []byte{0}}
		room := f.room.Clone()
		room.Data = []byte{1, 2}
		assert.ErrorIs(t, p.Process([]*AccountInfo{pred, user, room}, data), ErrAlreadyInitialized)
	})
	t.Run("malformed room", func(t *testing.T) {
		pred := &AccountInfo{Key: solana.NewWallet().PublicKey(), Owner: f.programID}
		room := f.room.Clone()
		room.Data = room.Data[:100]
		err := p.Process([]*AccountInfo{pred, user, room}, data)
		require.ErrorIs(t, err, ErrInvalidAccountData)
		assert.Empty(t, pred.Data)
	})
}

func TestProcessRejectsBadInstruction(t *testing.T) {
	p := NewProcessor(solana.NewWallet().PublicKey(), FixedClock(0), nil)
	err := p.Process(nil, []byte{7})
	require.ErrorIs(t, err, ErrInvalidInstructionData)
	assert.Equal(t, ClassData, ClassOf(err))
}

func TestErrorTable(t *testing.T) {
	want := []string{"InvalidOwner", "AlreadyInitialized", "AlreadySettled", "NotExpired", "InvalidRoom", "OracleDataTooSmall"}
	for code, name := range want {
		e, ok := ErrorFromCode(ErrorCode(code))
		require.True(t, ok, name)
		assert.Equal(t, name, e.Name())
		assert.Equal(t, ErrorCode(code), e.Code())
	}
	_, ok := ErrorFromCode(6)
	assert.False(t, ok)

	assert.True(t, ErrNotExpired.Retryable())
	assert.False(t, ErrAlreadySettled.Retryable())
	assert.Equal(t, ClassRelationship, ClassOf(ErrInvalidRoom))
}
