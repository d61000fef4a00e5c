package program

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Tag is the leading discriminant byte of an instruction payload.
type Tag uint8

const (
	TagInitializeRoom   Tag = 0
	TagStakeAndCommit   Tag = 1
	TagSettlePrediction Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagInitializeRoom:
		return "InitializeRoom"
	case TagStakeAndCommit:
		return "StakeAndCommit"
	case TagSettlePrediction:
		return "SettlePrediction"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Instruction is one of InitializeRoom, StakeAndCommit or SettlePrediction.
type Instruction interface {
	Tag() Tag
	bin.BinaryMarshaler
}

// InitializeRoom registers a new room.
type InitializeRoom struct {
	OracleFeed  solana.PublicKey `json:"oracle_feed"`
	StakingMint solana.PublicKey `json:"staking_mint"`
	StakeVault  solana.PublicKey `json:"stake_vault"`
	Bump        uint8            `json:"bump"`
}

func (InitializeRoom) Tag() Tag { return TagInitializeRoom }

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (ix InitializeRoom) MarshalWithEncoder(enc *bin.Encoder) error {
	for _, k := range []solana.PublicKey{ix.OracleFeed, ix.StakingMint, ix.StakeVault} {
		if err := enc.WriteBytes(k[:], false); err != nil {
			return err
		}
	}
	return enc.WriteUint8(ix.Bump)
}

func (ix *InitializeRoom) unmarshal(dec *bin.Decoder) (err error) {
	for _, k := range []*solana.PublicKey{&ix.OracleFeed, &ix.StakingMint, &ix.StakeVault} {
		if *k, err = readPublicKey(dec); err != nil {
			return err
		}
	}
	ix.Bump, err = dec.ReadUint8()
	return err
}

// StakeAndCommit records a price commitment against a room.
type StakeAndCommit struct {
	PredictedPrice int64  `json:"predicted_price"`
	ExpirySlot     uint64 `json:"expiry_slot"`
	Stake          uint64 `json:"stake"`
}

func (StakeAndCommit) Tag() Tag { return TagStakeAndCommit }

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (ix StakeAndCommit) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteInt64(ix.PredictedPrice, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(ix.ExpirySlot, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteUint64(ix.Stake, binary.LittleEndian)
}

func (ix *StakeAndCommit) unmarshal(dec *bin.Decoder) (err error) {
	if ix.PredictedPrice, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	if ix.ExpirySlot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	ix.Stake, err = dec.ReadUint64(binary.LittleEndian)
	return err
}

// SettlePrediction resolves a prediction against its room's oracle.
type SettlePrediction struct{}

func (SettlePrediction) Tag() Tag { return TagSettlePrediction }

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (SettlePrediction) MarshalWithEncoder(*bin.Encoder) error { return nil }

// EncodeInstruction writes the tag byte followed by the payload.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteUint8(uint8(ix.Tag())); err != nil {
		return nil, err
	}
	if err := ix.MarshalWithEncoder(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeInstruction parses an instruction payload. Unknown tags, short
// payloads and trailing bytes yield ErrInvalidInstructionData.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInstructionData)
	}
	dec := bin.NewBorshDecoder(data[1:])

	var (
		ix  Instruction
		err error
	)
	switch tag := Tag(data[0]); tag {
	case TagInitializeRoom:
		var v InitializeRoom
		err = v.unmarshal(dec)
		ix = v
	case TagStakeAndCommit:
		var v StakeAndCommit
		err = v.unmarshal(dec)
		ix = v
	case TagSettlePrediction:
		ix = SettlePrediction{}
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstructionData, uint8(tag))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInstructionData, ix.Tag(), err)
	}
	if n := dec.Remaining(); n != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrInvalidInstructionData, ix.Tag(), n)
	}
	return ix, nil
}

// TxInstruction binds a payload to the accounts it operates on. It
// satisfies solana.Instruction.
type TxInstruction struct {
	Program solana.PublicKey
	Metas   solana.AccountMetaSlice
	Payload Instruction
}

var _ solana.Instruction = (*TxInstruction)(nil)

func (t *TxInstruction) ProgramID() solana.PublicKey     { return t.Program }
func (t *TxInstruction) Accounts() []*solana.AccountMeta { return t.Metas }
func (t *TxInstruction) Data() ([]byte, error)           { return EncodeInstruction(t.Payload) }

// NewInitializeRoomInstruction builds an InitializeRoom call. The authority
// is listed without the signer flag; the program does not require one.
func NewInitializeRoomInstruction(programID, room, authority solana.PublicKey, args InitializeRoom) *TxInstruction {
	return &TxInstruction{
		Program: programID,
		Metas: solana.AccountMetaSlice{
			solana.Meta(room).WRITE(),
			solana.Meta(authority),
		},
		Payload: args,
	}
}

// NewStakeAndCommitInstruction builds a StakeAndCommit call signed by user.
func NewStakeAndCommitInstruction(programID, prediction, user, room solana.PublicKey, args StakeAndCommit) *TxInstruction {
	return &TxInstruction{
		Program: programID,
		Metas: solana.AccountMetaSlice{
			solana.Meta(prediction).WRITE(),
			solana.Meta(user).SIGNER(),
			solana.Meta(room),
		},
		Payload: args,
	}
}

// NewSettlePredictionInstruction builds a SettlePrediction call.
func NewSettlePredictionInstruction(programID, prediction, room, oracle solana.PublicKey) *TxInstruction {
	return &TxInstruction{
		Program: programID,
		Metas: solana.AccountMetaSlice{
			solana.Meta(prediction).WRITE(),
			solana.Meta(room),
			solana.Meta(oracle),
		},
		Payload: SettlePrediction{},
	}
}
