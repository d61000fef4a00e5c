package program

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Fixed account layouts.
const (
	RoomSize       = 32 + 32 + 32 + 32 + 1
	PredictionSize = 32 + 32 + 8 + 8 + 8 + 1 + 1

	// MinOracleDataSize is the number of leading oracle bytes holding the
	// little-endian i64 price.
	MinOracleDataSize = 8
)

// Room is a registered prediction market. It never changes once written.
type Room struct {
	Authority   solana.PublicKey `json:"authority"`
	OracleFeed  solana.PublicKey `json:"oracle_feed"`
	StakingMint solana.PublicKey `json:"staking_mint"`
	StakeVault  solana.PublicKey `json:"stake_vault"`
	Bump        uint8            `json:"bump"`
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (r Room) MarshalWithEncoder(enc *bin.Encoder) error {
	for _, k := range []solana.PublicKey{r.Authority, r.OracleFeed, r.StakingMint, r.StakeVault} {
		if err := enc.WriteBytes(k[:], false); err != nil {
			return err
		}
	}
	return enc.WriteUint8(r.Bump)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (r *Room) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	for _, k := range []*solana.PublicKey{&r.Authority, &r.OracleFeed, &r.StakingMint, &r.StakeVault} {
		if *k, err = readPublicKey(dec); err != nil {
			return err
		}
	}
	r.Bump, err = dec.ReadUint8()
	return err
}

// Prediction is a user's commitment on a future price.
type Prediction struct {
	User           solana.PublicKey `json:"user"`
	Room           solana.PublicKey `json:"room"`
	PredictedPrice int64            `json:"predicted_price"`
	ExpirySlot     uint64           `json:"expiry_slot"`
	Stake          uint64           `json:"stake"`
	Resolved       bool             `json:"resolved"`
	Won            bool             `json:"won"`
}

// MarshalWithEncoder implements bin.BinaryMarshaler.
func (p Prediction) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(p.User[:], false); err != nil {
		return err
	}
	if err := enc.WriteBytes(p.Room[:], false); err != nil {
		return err
	}
	if err := enc.WriteInt64(p.PredictedPrice, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.ExpirySlot, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(p.Stake, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteBool(p.Resolved); err != nil {
		return err
	}
	return enc.WriteBool(p.Won)
}

// UnmarshalWithDecoder implements bin.BinaryUnmarshaler.
func (p *Prediction) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if p.User, err = readPublicKey(dec); err != nil {
		return err
	}
	if p.Room, err = readPublicKey(dec); err != nil {
		return err
	}
	if p.PredictedPrice, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	if p.ExpirySlot, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if p.Stake, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if p.Resolved, err = readStrictBool(dec); err != nil {
		return err
	}
	p.Won, err = readStrictBool(dec)
	return err
}

// Outcome names the prediction's position in its lifecycle.
func (p Prediction) Outcome() string {
	switch {
	case !p.Resolved:
		return "committed"
	case p.Won:
		return "won"
	default:
		return "lost"
	}
}

// EncodeRoom serializes r into its 129-byte account layout.
func EncodeRoom(r Room) ([]byte, error) {
	return encode(r, RoomSize)
}

// DecodeRoom parses a room account. Any deviation from the fixed layout is
// reported as ErrInvalidAccountData.
func DecodeRoom(data []byte) (Room, error) {
	var r Room
	if err := decodeExact(data, &r); err != nil {
		return Room{}, fmt.Errorf("%w: room: %v", ErrInvalidAccountData, err)
	}
	return r, nil
}

// EncodePrediction serializes p into its 90-byte account layout.
func EncodePrediction(p Prediction) ([]byte, error) {
	return encode(p, PredictionSize)
}

// DecodePrediction parses a prediction account.
func DecodePrediction(data []byte) (Prediction, error) {
	var p Prediction
	if err := decodeExact(data, &p); err != nil {
		return Prediction{}, fmt.Errorf("%w: prediction: %v", ErrInvalidAccountData, err)
	}
	return p, nil
}

// ReadOraclePrice interprets the first eight oracle bytes as a
// little-endian signed price.
func ReadOraclePrice(data []byte) (int64, error) {
	if len(data) < MinOracleDataSize {
		return 0, ErrOracleDataTooSmall
	}
	return int64(binary.LittleEndian.Uint64(data[:MinOracleDataSize])), nil
}

// EncodeOraclePrice produces the minimal oracle payload for price.
func EncodeOraclePrice(price int64) []byte {
	out := make([]byte, MinOracleDataSize)
	binary.LittleEndian.PutUint64(out, uint64(price))
	return out
}

func encode(m bin.BinaryMarshaler, size int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeExact(data []byte, u bin.BinaryUnmarshaler) error {
	dec := bin.NewBorshDecoder(data)
	if err := u.UnmarshalWithDecoder(dec); err != nil {
		return err
	}
	if n := dec.Remaining(); n != 0 {
		return fmt.Errorf("%d trailing bytes", n)
	}
	return nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

func readStrictBool(dec *bin.Decoder) (bool, error) {
	b, err := dec.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte 0x%02x", b)
	}
}
