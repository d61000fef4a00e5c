package ledger

import (
	"context"
	"fmt"
	"time"
)

// LocalClock derives slots from wall time elapsed since genesis.
type LocalClock struct {
	genesis      time.Time
	slotDuration time.Duration
	now          func() time.Time
}

// NewLocalClock creates a LocalClock. A nil now uses time.Now.
func NewLocalClock(genesis time.Time, slotDuration time.Duration, now func() time.Time) *LocalClock {
	if slotDuration <= 0 {
		slotDuration = 400 * time.Millisecond
	}
	if now == nil {
		now = time.Now
	}
	return &LocalClock{genesis: genesis, slotDuration: slotDuration, now: now}
}

// CurrentSlot implements program.Clock. Times before genesis are slot 0.
func (c *LocalClock) CurrentSlot() (uint64, error) {
	elapsed := c.now().Sub(c.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / c.slotDuration), nil
}

// SlotSource reports the slot of an external chain.
type SlotSource interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// SlotSourceClock adapts a SlotSource to program.Clock with a bounded
// per-read timeout.
type SlotSourceClock struct {
	src     SlotSource
	timeout time.Duration
}

// NewSlotSourceClock creates a SlotSourceClock.
func NewSlotSourceClock(src SlotSource, timeout time.Duration) *SlotSourceClock {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlotSourceClock{src: src, timeout: timeout}
}

// CurrentSlot implements program.Clock.
func (c *SlotSourceClock) CurrentSlot() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	slot, err := c.src.GetSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: slot source: %w", err)
	}
	return slot, nil
}
