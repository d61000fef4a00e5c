package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// localLocks is an in-process domain.LockManager for single-node setups.
// TTLs are ignored; locks live until released.
type localLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]struct{})}
}

func (l *localLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

const memoryDedupPruneAt = 4096

// MemoryDedup remembers transaction ids in process memory. It is safe for
// concurrent use.
type MemoryDedup struct {
	seen map[string]time.Time // id -> expiry
	now  func() time.Time
	mu   sync.Mutex
}

// NewMemoryDedup creates an empty MemoryDedup.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), now: time.Now}
}

// Seen implements domain.Dedup.
func (d *MemoryDedup) Seen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return true, nil
	}
	if len(d.seen) >= memoryDedupPruneAt {
		d.prune(now)
	}
	d.seen[id] = now.Add(ttl)
	return false, nil
}

// Forget implements domain.Dedup.
func (d *MemoryDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDedup) prune(now time.Time) {
	for id, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, id)
		}
	}
}

var (
	_ domain.LockManager = (*localLocks)(nil)
	_ domain.Dedup       = (*MemoryDedup)(nil)
)
