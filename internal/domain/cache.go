package domain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// OracleSource supplies raw oracle account bytes by feed key. It returns
// ErrNotFound for feeds it does not track.
type OracleSource interface {
	OracleData(ctx context.Context, feed solana.PublicKey) ([]byte, error)
}

// OraclePublisher updates an oracle feed's price.
type OraclePublisher interface {
	SetPrice(ctx context.Context, feed solana.PublicKey, price int64) error
}

// OraclePrice is a decoded feed value.
type OraclePrice struct {
	Price     int64     `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OraclePriceLister reads many feeds at once. Unknown feeds are omitted.
type OraclePriceLister interface {
	Prices(ctx context.Context, feeds []solana.PublicKey) (map[solana.PublicKey]OraclePrice, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Dedup records identifiers seen within a TTL.
type Dedup interface {
	// Seen marks id and reports whether it was already marked.
	Seen(ctx context.Context, id string, ttl time.Duration) (bool, error)
	// Forget clears a mark so that id can be submitted again.
	Forget(ctx context.Context, id string) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
