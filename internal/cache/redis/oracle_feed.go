package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

// OracleFeed stores oracle account payloads as hashes at "oracle:{feed}"
// with fields "data" (raw account bytes) and "ts" (unix nanoseconds). It
// implements domain.OracleSource and domain.OraclePublisher.
type OracleFeed struct {
	c   *Client
	bus domain.SignalBus
	now func() time.Time
}

// NewOracleFeed creates an OracleFeed. bus may be nil.
func NewOracleFeed(c *Client, bus domain.SignalBus) *OracleFeed {
	return &OracleFeed{c: c, bus: bus, now: time.Now}
}

func (f *OracleFeed) feedKey(feed solana.PublicKey) string {
	return f.c.key("oracle:", feed.String())
}

// OracleData returns the raw payload for feed or domain.ErrNotFound.
func (f *OracleFeed) OracleData(ctx context.Context, feed solana.PublicKey) ([]byte, error) {
	data, err := f.c.rdb.HGet(ctx, f.feedKey(feed), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: oracle data %s: %w", feed, err)
	}
	return data, nil
}

// SetPrice stores price as the feed's 8-byte payload and announces it on
// the oracles channel.
func (f *OracleFeed) SetPrice(ctx context.Context, feed solana.PublicKey, price int64) error {
	return f.SetData(ctx, feed, program.EncodeOraclePrice(price))
}

// SetData stores an arbitrary payload for feed. Payloads shorter than
// eight bytes are kept as-is so that settlement reports them.
func (f *OracleFeed) SetData(ctx context.Context, feed solana.PublicKey, data []byte) error {
	ts := f.now()
	err := f.c.rdb.HSet(ctx, f.feedKey(feed), map[string]any{
		"data": data,
		"ts":   strconv.FormatInt(ts.UnixNano(), 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: set oracle %s: %w", feed, err)
	}
	if f.bus == nil {
		return nil
	}

	event := map[string]any{
		"event": domain.EventOracleUpdated,
		"feed":  feed.String(),
		"ts":    ts.UTC(),
	}
	if price, err := program.ReadOraclePrice(data); err == nil {
		event["price"] = price
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal oracle event: %w", err)
	}
	return f.bus.Publish(ctx, domain.ChannelOracles, payload)
}

// Prices returns the decoded price and update time of each known feed.
// Unknown or undersized feeds are omitted.
func (f *OracleFeed) Prices(ctx context.Context, feeds []solana.PublicKey) (map[solana.PublicKey]domain.OraclePrice, error) {
	out := make(map[solana.PublicKey]domain.OraclePrice, len(feeds))
	if len(feeds) == 0 {
		return out, nil
	}

	pipe := f.c.rdb.Pipeline()
	cmds := make(map[solana.PublicKey]*redis.MapStringStringCmd, len(feeds))
	for _, feed := range feeds {
		cmds[feed] = pipe.HGetAll(ctx, f.feedKey(feed))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: oracle prices: %w", err)
	}

	for feed, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := program.ReadOraclePrice([]byte(vals["data"]))
		if err != nil {
			continue
		}
		ns, _ := strconv.ParseInt(vals["ts"], 10, 64)
		out[feed] = domain.OraclePrice{Price: price, UpdatedAt: time.Unix(0, ns).UTC()}
	}
	return out, nil
}

var (
	_ domain.OracleSource      = (*OracleFeed)(nil)
	_ domain.OraclePublisher   = (*OracleFeed)(nil)
	_ domain.OraclePriceLister = (*OracleFeed)(nil)
)
