package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// Dedup implements domain.Dedup with SET NX so that every ledger replica
// shares one view of submitted transaction ids.
type Dedup struct {
	c *Client
}

// NewDedup creates a Dedup.
func NewDedup(c *Client) *Dedup {
	return &Dedup{c: c}
}

// Seen marks id for ttl and reports whether it was already marked.
func (d *Dedup) Seen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	fresh, err := d.c.rdb.SetNX(ctx, d.c.key("seen:", id), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", id, err)
	}
	return !fresh, nil
}

// Forget deletes the mark for id.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	if err := d.c.rdb.Del(ctx, d.c.key("seen:", id)).Err(); err != nil {
		return fmt.Errorf("redis: dedup forget %s: %w", id, err)
	}
	return nil
}

var _ domain.Dedup = (*Dedup)(nil)
