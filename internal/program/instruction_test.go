package program

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInstructionRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var ix Instruction
		switch rapid.IntRange(0, 2).Draw(t, "tag") {
		case 0:
			ix = InitializeRoom{
				OracleFeed:  drawKey(t, "oracle_feed"),
				StakingMint: drawKey(t, "staking_mint"),
				StakeVault:  drawKey(t, "stake_vault"),
				Bump:        rapid.Uint8().Draw(t, "bump"),
			}
		case 1:
			ix = StakeAndCommit{
				PredictedPrice: rapid.Int64().Draw(t, "predicted_price"),
				ExpirySlot:     rapid.Uint64().Draw(t, "expiry_slot"),
				Stake:          rapid.Uint64().Draw(t, "stake"),
			}
		default:
			ix = SettlePrediction{}
		}

		data, err := EncodeInstruction(ix)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if Tag(data[0]) != ix.Tag() {
			t.Fatalf("tag byte %d, want %d", data[0], ix.Tag())
		}
		got, err := DecodeInstruction(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != ix {
			t.Fatalf("round trip mismatch: %#v != %#v", got, ix)
		}
	})
}

func TestInstructionPayloadSizes(t *testing.T) {
	data, err := EncodeInstruction(InitializeRoom{})
	require.NoError(t, err)
	assert.Len(t, data, 1+32+32+32+1)

	data, err = EncodeInstruction(StakeAndCommit{PredictedPrice: 30_000, ExpirySlot: 100, Stake: 5})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		1,
		0x30, 0x75, 0, 0, 0, 0, 0, 0,
		100, 0, 0, 0, 0, 0, 0, 0,
		5, 0, 0, 0, 0, 0, 0, 0,
	}, data)

	data, err = EncodeInstruction(SettlePrediction{})
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)
}

func TestDecodeInstructionRejects(t *testing.T) {
	commit, err := EncodeInstruction(StakeAndCommit{Stake: 1})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":           nil,
		"unknown tag":     {3},
		"short commit":    commit[:10],
		"trailing settle": {2, 0},
		"short room":      {0, 1, 2, 3},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInstruction(data)
			require.ErrorIs(t, err, ErrInvalidInstructionData)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestInstructionBuilders(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	prediction := solana.NewWallet().PublicKey()
	user := solana.NewWallet().PublicKey()
	room := solana.NewWallet().PublicKey()
	oracle := solana.NewWallet().PublicKey()

	commit := NewStakeAndCommitInstruction(programID, prediction, user, room, StakeAndCommit{PredictedPrice: 1})
	assert.Equal(t, programID, commit.ProgramID())
	metas := commit.Accounts()
	require.Len(t, metas, 3)
	assert.True(t, metas[0].IsWritable)
	assert.True(t, metas[1].IsSigner)
	assert.False(t, metas[2].IsWritable)

	settle := NewSettlePredictionInstruction(programID, prediction, room, oracle)
	data, err := settle.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(TagSettlePrediction)}, data)
	assert.Equal(t, oracle, settle.Accounts()[2].PublicKey)

	initIx := NewInitializeRoomInstruction(programID, room, user, InitializeRoom{Bump: 3})
	assert.False(t, initIx.Accounts()[1].IsSigner)
}

func TestFindRoomAddressIsDeterministic(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	oracle := solana.NewWallet().PublicKey()

	a, bumpA, err := FindRoomAddress(programID, authority, oracle)
	require.NoError(t, err)
	b, bumpB, err := FindRoomAddress(programID, authority, oracle)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)

	other, _, err := FindRoomAddress(programID, oracle, authority)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}
