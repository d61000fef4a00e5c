package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// SettlementStore implements domain.SettlementStore. Rows are written by
// AccountStore.Commit.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `prediction, room, user_key, oracle, predicted_price, observed_price,
	stake::text, won, slot, tx_id, settled_at`

// ListRecent returns settlements newest first.
func (s *SettlementStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	q := newQuery(`SELECT ` + settlementSelectCols + ` FROM settlements WHERE TRUE`)
	q.timeRange("settled_at", opts)
	q.order("settled_at DESC, prediction")
	q.page(opts)
	return s.list(ctx, q)
}

// ListBefore returns every settlement older than before, oldest first.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	q := newQuery(`SELECT ` + settlementSelectCols + ` FROM settlements WHERE TRUE`)
	q.where("settled_at < $%d", before)
	q.order("settled_at, prediction")
	return s.list(ctx, q)
}

func (s *SettlementStore) list(ctx context.Context, q *query) ([]domain.Settlement, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		st    domain.Settlement
		stake string
		slot  int64
	)
	if err := row.Scan(&st.Prediction, &st.Room, &st.User, &st.Oracle, &st.PredictedPrice,
		&st.ObservedPrice, &stake, &st.Won, &slot, &st.TxID, &st.SettledAt); err != nil {
		return domain.Settlement{}, err
	}
	v, err := strconv.ParseUint(stake, 10, 64)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("stake %q: %w", stake, err)
	}
	st.Stake = v
	st.Slot = uint64(slot)
	return st, nil
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
