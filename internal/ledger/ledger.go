package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

const (
	headLockKey  = "ledger:head"
	headLockPoll = 10 * time.Millisecond
)

// Options configures a Ledger. Accounts, Receipts and Clock are required.
type Options struct {
	ProgramID solana.PublicKey
	Clock     program.Clock
	Accounts  domain.AccountStore
	Receipts  domain.ReceiptStore

	Oracles domain.OracleSource // optional overlay for read-only accounts
	Locks   domain.LockManager  // nil: in-process locks
	Dedup   domain.Dedup        // nil: in-process dedup
	Bus     domain.SignalBus    // nil: no events

	OracleOwner solana.PublicKey // owner reported for overlaid oracle data
	LockTTL     time.Duration
	DedupTTL    time.Duration
	MaxTxAge    uint64 // in slots; 0 disables the recent-slot check

	Logger *slog.Logger
}

// Ledger executes prediction transactions against persistent accounts.
type Ledger struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and creates a Ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Accounts == nil || opts.Receipts == nil {
		return nil, errors.New("ledger: account and receipt stores are required")
	}
	if opts.Clock == nil {
		return nil, errors.New("ledger: clock is required")
	}
	if opts.ProgramID.IsZero() {
		return nil, errors.New("ledger: program id is required")
	}
	if opts.Locks == nil {
		opts.Locks = newLocalLocks()
	}
	if opts.Dedup == nil {
		opts.Dedup = NewMemoryDedup()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 10 * time.Minute
	}
	if opts.OracleOwner.IsZero() {
		opts.OracleOwner = solana.SystemProgramID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "ledger")),
	}, nil
}

// ProgramID returns the hosted program's identity.
func (l *Ledger) ProgramID() solana.PublicKey { return l.opts.ProgramID }

// CurrentSlot reads the configured clock.
func (l *Ledger) CurrentSlot() (uint64, error) {
	slot, err := l.opts.Clock.CurrentSlot()
	if err != nil {
		return 0, fmt.Errorf("ledger: %w: %v", program.ErrClockUnavailable, err)
	}
	return slot, nil
}

// Allocate creates an empty slot at key owned by owner.
func (l *Ledger) Allocate(ctx context.Context, key, owner solana.PublicKey) (domain.Account, error) {
	slot, err := l.CurrentSlot()
	if err != nil {
		return domain.Account{}, err
	}
	acct := domain.Account{Key: key, Owner: owner, Slot: slot, UpdatedAt: time.Now().UTC()}
	if err := l.opts.Accounts.Allocate(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("ledger: allocate %s: %w", key, err)
	}
	l.logger.InfoContext(ctx, "account allocated",
		slog.String("key", key.String()),
		slog.String("owner", owner.String()),
	)
	return acct, nil
}

// Execute verifies, runs and commits tx. Host-level rejections return an
// error and leave no receipt. Program failures return a failed receipt and
// a nil error.
func (l *Ledger) Execute(ctx context.Context, tx *Transaction) (domain.Receipt, error) {
	if !tx.ProgramID.Equals(l.opts.ProgramID) {
		return domain.Receipt{}, fmt.Errorf("ledger: program %s: %w", tx.ProgramID, domain.ErrUnknownProgram)
	}
	if err := tx.Verify(); err != nil {
		return domain.Receipt{}, err
	}
	id := tx.ID()

	slot, err := l.CurrentSlot()
	if err != nil {
		return domain.Receipt{}, err
	}
	if l.opts.MaxTxAge > 0 && tx.RecentSlot+l.opts.MaxTxAge < slot {
		return domain.Receipt{}, fmt.Errorf("ledger: tx %s recent slot %d at slot %d: %w", id, tx.RecentSlot, slot, domain.ErrStaleTransaction)
	}

	unlock, err := l.lockWritable(ctx, tx)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer unlock()

	dup, err := l.opts.Dedup.Seen(ctx, id, l.opts.DedupTTL)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: dedup: %w", err)
	}
	if dup {
		return domain.Receipt{}, fmt.Errorf("ledger: tx %s: %w", id, domain.ErrDuplicateTransaction)
	}

	receipt, err := l.apply(ctx, tx, id, slot)
	if err != nil {
		// Nothing was stored for id, so a resubmission must not look like a
		// duplicate.
		if ferr := l.opts.Dedup.Forget(context.WithoutCancel(ctx), id); ferr != nil {
			l.logger.WarnContext(ctx, "dedup release failed",
				slog.String("tx", id),
				slog.String("error", ferr.Error()),
			)
		}
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// apply runs tx and stores its receipt. An error means no receipt and no
// account change was written.
func (l *Ledger) apply(ctx context.Context, tx *Transaction, id string, slot uint64) (domain.Receipt, error) {
	infos, originals, err := l.loadAccounts(ctx, tx)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt := domain.Receipt{
		ID:          id,
		Instruction: instructionName(tx.Data),
		Slot:        slot,
		Accounts:    accountKeys(tx),
		CreatedAt:   time.Now().UTC(),
	}

	proc := program.NewProcessor(l.opts.ProgramID, program.FixedClock(slot), l.opts.Logger)
	execErr := proc.Process(infos, tx.Data)
	if execErr == nil {
		execErr = checkReadonly(infos, originals)
	}
	if execErr != nil {
		return l.reject(ctx, receipt, execErr)
	}
	return l.commit(ctx, tx, receipt, infos, originals)
}

func (l *Ledger) lockWritable(ctx context.Context, tx *Transaction) (func(), error) {
	keys := make([]string, 0, len(tx.Accounts))
	seen := make(map[string]bool)
	for _, m := range tx.Accounts {
		k := m.Key.String()
		if m.IsWritable && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		u, err := l.opts.Locks.Acquire(ctx, "account:"+k, l.opts.LockTTL)
		if err != nil {
			release()
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, fmt.Errorf("ledger: account %s: %w", k, domain.ErrAccountInUse)
			}
			return nil, fmt.Errorf("ledger: lock %s: %w", k, err)
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}

// loadAccounts materializes one AccountInfo per meta. The same key listed
// twice shares one AccountInfo, as on chain.
func (l *Ledger) loadAccounts(ctx context.Context, tx *Transaction) ([]*program.AccountInfo, map[solana.PublicKey][]byte, error) {
	keys := make([]solana.PublicKey, 0, len(tx.Accounts))
	for _, m := range tx.Accounts {
		keys = append(keys, m.Key)
	}
	stored, err := l.opts.Accounts.GetMany(ctx, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: load accounts: %w", err)
	}

	byKey := make(map[solana.PublicKey]*program.AccountInfo, len(tx.Accounts))
	originals := make(map[solana.PublicKey][]byte, len(tx.Accounts))
	infos := make([]*program.AccountInfo, 0, len(tx.Accounts))
	for _, m := range tx.Accounts {
		if info, ok := byKey[m.Key]; ok {
			info.IsSigner = info.IsSigner || m.IsSigner
			info.IsWritable = info.IsWritable || m.IsWritable
			infos = append(infos, info)
			continue
		}

		info := &program.AccountInfo{
			Key:        m.Key,
			Owner:      solana.SystemProgramID,
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		}
		if acct, ok := stored[m.Key]; ok {
			info.Owner = acct.Owner
			info.Data = append([]byte(nil), acct.Data...)
		} else if !m.IsWritable && l.opts.Oracles != nil {
			data, err := l.opts.Oracles.OracleData(ctx, m.Key)
			switch {
			case err == nil:
				info.Owner = l.opts.OracleOwner
				info.Data = data
			case errors.Is(err, domain.ErrNotFound):
			default:
				return nil, nil, fmt.Errorf("ledger: oracle %s: %w", m.Key, err)
			}
		}
		originals[m.Key] = append([]byte(nil), info.Data...)
		byKey[m.Key] = info
		infos = append(infos, info)
	}
	return infos, originals, nil
}

var errReadonlyModified = errors.New("instruction modified a read-only account")

func checkReadonly(infos []*program.AccountInfo, originals map[solana.PublicKey][]byte) error {
	for _, info := range infos {
		if !info.IsWritable && !bytes.Equal(info.Data, originals[info.Key]) {
			return fmt.Errorf("%w: %s", errReadonlyModified, info.Key)
		}
	}
	return nil
}

func (l *Ledger) reject(ctx context.Context, receipt domain.Receipt, execErr error) (domain.Receipt, error) {
	receipt.Status = domain.TxFailed
	receipt.Error = txError(execErr)
	if err := l.opts.Receipts.Insert(ctx, receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: store failed receipt: %w", err)
	}
	l.logger.InfoContext(ctx, "transaction rejected",
		slog.String("tx", receipt.ID),
		slog.String("instruction", receipt.Instruction),
		slog.String("class", receipt.Error.Class),
		slog.String("error", execErr.Error()),
	)
	l.publish(ctx, domain.ChannelTx, map[string]any{
		"event":       domain.EventTxRejected,
		"id":          receipt.ID,
		"instruction": receipt.Instruction,
		"slot":        receipt.Slot,
		"error":       receipt.Error,
	})
	return receipt, nil
}

func (l *Ledger) commit(
	ctx context.Context,
	tx *Transaction,
	receipt domain.Receipt,
	infos []*program.AccountInfo,
	originals map[solana.PublicKey][]byte,
) (domain.Receipt, error) {
	now := time.Now().UTC()
	var changed []domain.Account
	done := make(map[solana.PublicKey]bool)
	for _, info := range infos {
		if done[info.Key] || !info.IsWritable || bytes.Equal(info.Data, originals[info.Key]) {
			continue
		}
		done[info.Key] = true
		changed = append(changed, domain.Account{
			Key:       info.Key,
			Owner:     info.Owner,
			Data:      append([]byte(nil), info.Data...),
			Slot:      receipt.Slot,
			UpdatedAt: now,
		})
	}
	sort.Slice(changed, func(i, j int) bool {
		return bytes.Compare(changed[i].Key[:], changed[j].Key[:]) < 0
	})

	receipt.Status = domain.TxSucceeded
	batch := domain.CommitBatch{Accounts: changed, Receipt: receipt}
	if ix, err := program.DecodeInstruction(tx.Data); err == nil && ix.Tag() == program.TagSettlePrediction {
		s, err := settlementRecord(infos, receipt, now)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("ledger: settlement record: %w", err)
		}
		batch.Settlement = &s
	}

	unlockHead, err := l.acquireHead(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: lock head: %w", err)
	}
	defer unlockHead()

	prev, err := l.opts.Receipts.Head(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: read head: %w", err)
	}
	batch.Receipt.StateHash = NextStateHash(prev, receipt.ID, receipt.Slot, changed)

	if err := l.opts.Accounts.Commit(ctx, batch); err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger: commit: %w", err)
	}

	l.logger.InfoContext(ctx, "transaction applied",
		slog.String("tx", receipt.ID),
		slog.String("instruction", receipt.Instruction),
		slog.Uint64("slot", receipt.Slot),
		slog.Int("accounts_written", len(changed)),
		slog.String("state_hash", batch.Receipt.StateHash),
	)
	l.publish(ctx, domain.ChannelTx, map[string]any{
		"event":       domain.EventTxApplied,
		"id":          receipt.ID,
		"instruction": receipt.Instruction,
		"slot":        receipt.Slot,
		"state_hash":  batch.Receipt.StateHash,
	})
	if s := batch.Settlement; s != nil {
		l.publish(ctx, domain.ChannelSettlements, map[string]any{
			"event":           domain.EventPredictionSettled,
			"prediction":      s.Prediction,
			"room":            s.Room,
			"user":            s.User,
			"predicted_price": s.PredictedPrice,
			"observed_price":  s.ObservedPrice,
			"stake":           s.Stake,
			"won":             s.Won,
			"slot":            s.Slot,
			"tx_id":           s.TxID,
		})
	}
	return batch.Receipt, nil
}

// acquireHead waits for the state hash chain lock. Commits on distinct
// accounts serialize here only for the hash and the write.
func (l *Ledger) acquireHead(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.LockTTL)
	defer cancel()
	for {
		unlock, err := l.opts.Locks.Acquire(ctx, headLockKey, l.opts.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(headLockPoll):
		}
	}
}

func (l *Ledger) publish(ctx context.Context, channel string, payload map[string]any) {
	if l.opts.Bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.WarnContext(ctx, "event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := l.opts.Bus.Publish(ctx, channel, data); err != nil {
		l.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := l.opts.Bus.StreamAppend(ctx, domain.StreamName(channel), data); err != nil {
		l.logger.WarnContext(ctx, "event stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// NextStateHash chains the previous head with the accounts written by one
// transaction: keccak256(prev || tx id || slot || key || owner ||
// keccak256(data) ...). Accounts must be sorted by key.
func NextStateHash(prev, txID string, slot uint64, accounts []domain.Account) string {
	var slotBytes [8]byte
	binary.LittleEndian.PutUint64(slotBytes[:], slot)

	parts := [][]byte{common.HexToHash(prev).Bytes(), []byte(txID), slotBytes[:]}
	for _, a := range accounts {
		parts = append(parts, a.Key[:], a.Owner[:], crypto.Keccak256(a.Data))
	}
	return crypto.Keccak256Hash(parts...).Hex()
}

func settlementRecord(infos []*program.AccountInfo, receipt domain.Receipt, now time.Time) (domain.Settlement, error) {
	if len(infos) < 3 {
		return domain.Settlement{}, program.ErrNotEnoughAccountKeys
	}
	pred, err := program.DecodePrediction(infos[0].Data)
	if err != nil {
		return domain.Settlement{}, err
	}
	observed, err := program.ReadOraclePrice(infos[2].Data)
	if err != nil {
		return domain.Settlement{}, err
	}
	return domain.Settlement{
		Prediction:     infos[0].Key.String(),
		Room:           infos[1].Key.String(),
		User:           pred.User.String(),
		Oracle:         infos[2].Key.String(),
		PredictedPrice: pred.PredictedPrice,
		ObservedPrice:  observed,
		Stake:          pred.Stake,
		Won:            pred.Won,
		Slot:           receipt.Slot,
		TxID:           receipt.ID,
		SettledAt:      now,
	}, nil
}

func txError(err error) *domain.TxError {
	te := &domain.TxError{
		Class:   string(program.ClassOf(err)),
		Message: err.Error(),
	}
	var pe *program.Error
	if errors.As(err, &pe) {
		code := uint32(pe.Code())
		te.Code = &code
		te.Name = pe.Name()
		te.Retryable = pe.Retryable()
	}
	return te
}

func instructionName(data []byte) string {
	if len(data) == 0 {
		return "unknown"
	}
	return program.Tag(data[0]).String()
}

func accountKeys(tx *Transaction) []string {
	out := make([]string, 0, len(tx.Accounts))
	for _, m := range tx.Accounts {
		out = append(out, m.Key.String())
	}
	return out
}
