package program

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
)

// Processor executes prediction instructions against caller-supplied
// accounts. It holds no state between calls.
type Processor struct {
	programID solana.PublicKey
	clock     Clock
	logger    *slog.Logger
}

// NewProcessor creates a Processor. A nil logger discards program logs.
func NewProcessor(programID solana.PublicKey, clock Clock, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		programID: programID,
		clock:     clock,
		logger:    logger.With(slog.String("component", "program")),
	}
}

// ProgramID returns the identity the processor checks account owners against.
func (p *Processor) ProgramID() solana.PublicKey { return p.programID }

// Process decodes data and runs the matching handler. On error no account
// data has been modified.
func (p *Processor) Process(accounts []*AccountInfo, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}
	return p.Dispatch(accounts, ix)
}

// Dispatch runs an already decoded instruction.
func (p *Processor) Dispatch(accounts []*AccountInfo, ix Instruction) error {
	it := &accountIter{accounts: accounts}
	switch v := ix.(type) {
	case InitializeRoom:
		return p.processInitializeRoom(it, v)
	case StakeAndCommit:
		return p.processStakeAndCommit(it, v)
	case SettlePrediction:
		return p.processSettlePrediction(it)
	default:
		return fmt.Errorf("%w: unsupported instruction %T", ErrInvalidInstructionData, ix)
	}
}

func (p *Processor) ownedByProgram(a *AccountInfo) bool {
	return a.Owner.Equals(p.programID)
}

func (p *Processor) processInitializeRoom(it *accountIter, ix InitializeRoom) error {
	roomAcct, err := it.nextAccount("room")
	if err != nil {
		return err
	}
	authority, err := it.nextAccount("authority")
	if err != nil {
		return err
	}

	if !p.ownedByProgram(roomAcct) {
		return ErrInvalidOwner
	}
	if !roomAcct.DataIsEmpty() {
		return ErrAlreadyInitialized
	}

	data, err := EncodeRoom(Room{
		Authority:   authority.Key,
		OracleFeed:  ix.OracleFeed,
		StakingMint: ix.StakingMint,
		StakeVault:  ix.StakeVault,
		Bump:        ix.Bump,
	})
	if err != nil {
		return fmt.Errorf("program: encode room: %w", err)
	}
	roomAcct.Data = data

	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "room initialized",
		slog.String("room", roomAcct.Key.String()),
		slog.String("authority", authority.Key.String()),
	)
	return nil
}

func (p *Processor) processStakeAndCommit(it *accountIter, ix StakeAndCommit) error {
	predAcct, err := it.nextAccount("prediction")
	if err != nil {
		return err
	}
	user, err := it.nextAccount("user")
	if err != nil {
		return err
	}
	roomAcct, err := it.nextAccount("room")
	if err != nil {
		return err
	}

	if !p.ownedByProgram(predAcct) {
		return ErrInvalidOwner
	}
	if !p.ownedByProgram(roomAcct) {
		return ErrInvalidOwner
	}
	if !predAcct.DataIsEmpty() {
		return ErrAlreadyInitialized
	}
	if _, err := DecodeRoom(roomAcct.Data); err != nil {
		return err
	}

	data, err := EncodePrediction(Prediction{
		User:           user.Key,
		Room:           roomAcct.Key,
		PredictedPrice: ix.PredictedPrice,
		ExpirySlot:     ix.ExpirySlot,
		Stake:          ix.Stake,
	})
	if err != nil {
		return fmt.Errorf("program: encode prediction: %w", err)
	}
	predAcct.Data = data

	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "prediction committed",
		slog.String("user", user.Key.String()),
		slog.Int64("predicted_price", ix.PredictedPrice),
		slog.Uint64("stake", ix.Stake),
	)
	return nil
}

func (p *Processor) processSettlePrediction(it *accountIter) error {
	predAcct, err := it.nextAccount("prediction")
	if err != nil {
		return err
	}
	roomAcct, err := it.nextAccount("room")
	if err != nil {
		return err
	}
	oracle, err := it.nextAccount("oracle")
	if err != nil {
		return err
	}

	if !p.ownedByProgram(predAcct) || !p.ownedByProgram(roomAcct) {
		return ErrInvalidOwner
	}

	pred, err := DecodePrediction(predAcct.Data)
	if err != nil {
		return err
	}
	if _, err := DecodeRoom(roomAcct.Data); err != nil {
		return err
	}

	if pred.Resolved {
		return ErrAlreadySettled
	}
	if !pred.Room.Equals(roomAcct.Key) {
		return ErrInvalidRoom
	}

	slot, err := p.clock.CurrentSlot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	if slot < pred.ExpirySlot {
		return ErrNotExpired
	}

	observed, err := ReadOraclePrice(oracle.Data)
	if err != nil {
		return err
	}

	pred.Won = observed >= pred.PredictedPrice
	pred.Resolved = true

	data, err := EncodePrediction(pred)
	if err != nil {
		return fmt.Errorf("program: encode prediction: %w", err)
	}
	predAcct.Data = data

	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "prediction settled",
		slog.String("prediction", predAcct.Key.String()),
		slog.Int64("observed_price", observed),
		slog.Int64("target", pred.PredictedPrice),
		slog.Bool("won", pred.Won),
		slog.Uint64("slot", slot),
	)
	return nil
}
