package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// AccountStore implements domain.AccountStore. Keys and owners are stored
// as base58 text.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `key, owner, data, slot, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a          domain.Account
		key, owner string
		slot       int64
	)
	if err := row.Scan(&key, &owner, &a.Data, &slot, &a.UpdatedAt); err != nil {
		return domain.Account{}, err
	}
	var err error
	if a.Key, err = solana.PublicKeyFromBase58(key); err != nil {
		return domain.Account{}, fmt.Errorf("account key %q: %w", key, err)
	}
	if a.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return domain.Account{}, fmt.Errorf("account owner %q: %w", owner, err)
	}
	a.Slot = uint64(slot)
	return a, nil
}

// Get returns one account or domain.ErrNotFound.
func (s *AccountStore) Get(ctx context.Context, key solana.PublicKey) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE key = $1`, key.String())
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", key, err)
	}
	return a, nil
}

// GetMany returns the accounts that exist among keys.
func (s *AccountStore) GetMany(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]domain.Account, error) {
	out := make(map[solana.PublicKey]domain.Account, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	strKeys := make([]string, len(keys))
	for i, k := range keys {
		strKeys[i] = k.String()
	}

	rows, err := s.pool.Query(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE key = ANY($1)`, strKeys)
	if err != nil {
		return nil, fmt.Errorf("postgres: get accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out[a.Key] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get accounts rows: %w", err)
	}
	return out, nil
}

// Allocate inserts an account, failing with domain.ErrAlreadyExists when
// the key is taken.
func (s *AccountStore) Allocate(ctx context.Context, acct domain.Account) error {
	data := acct.Data
	if data == nil {
		data = []byte{}
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (key, owner, data, slot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`,
		acct.Key.String(), acct.Owner.String(), data, int64(acct.Slot), acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: allocate account %s: %w", acct.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Commit writes every account of batch, its receipt and its settlement in
// one transaction.
func (s *AccountStore) Commit(ctx context.Context, batch domain.CommitBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, a := range batch.Accounts {
		b.Queue(`
			INSERT INTO accounts (key, owner, data, slot, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (key) DO UPDATE
			SET owner = EXCLUDED.owner, data = EXCLUDED.data,
			    slot = EXCLUDED.slot, updated_at = EXCLUDED.updated_at`,
			a.Key.String(), a.Owner.String(), a.Data, int64(a.Slot), a.UpdatedAt,
		)
	}
	if err := queueReceipt(b, batch.Receipt); err != nil {
		return err
	}
	if st := batch.Settlement; st != nil {
		b.Queue(`
			INSERT INTO settlements (
				prediction, room, user_key, oracle, predicted_price,
				observed_price, stake, won, slot, tx_id, settled_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
			st.Prediction, st.Room, st.User, st.Oracle, st.PredictedPrice,
			st.ObservedPrice, strconv.FormatUint(st.Stake, 10), st.Won, int64(st.Slot), st.TxID, st.SettledAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: commit statement %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// ListByOwner returns accounts owned by owner, newest slot first. A
// negative dataLen matches any length.
func (s *AccountStore) ListByOwner(ctx context.Context, owner solana.PublicKey, dataLen int, opts domain.ListOpts) ([]domain.Account, error) {
	q := newQuery(`SELECT `+accountSelectCols+` FROM accounts WHERE owner = $1`, owner.String())
	if dataLen >= 0 {
		q.where("data_len = $%d", dataLen)
	}
	q.timeRange("updated_at", opts)
	q.order("slot DESC, key")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts by owner: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}

func queueReceipt(b *pgx.Batch, r domain.Receipt) error {
	var errJSON []byte
	if r.Error != nil {
		var err error
		if errJSON, err = json.Marshal(r.Error); err != nil {
			return fmt.Errorf("postgres: marshal receipt error: %w", err)
		}
	}
	accounts := r.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	b.Queue(`
		INSERT INTO receipts (id, instruction, status, slot, accounts, error, state_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET instruction = EXCLUDED.instruction, status = EXCLUDED.status, slot = EXCLUDED.slot,
		    accounts = EXCLUDED.accounts, error = EXCLUDED.error,
		    state_hash = EXCLUDED.state_hash, created_at = EXCLUDED.created_at`,
		r.ID, r.Instruction, string(r.Status), int64(r.Slot), accounts, errJSON, r.StateHash, r.CreatedAt,
	)
	return nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
