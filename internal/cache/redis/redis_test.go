package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "account:a", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:account:a"))

	_, err = lm.Acquire(ctx, "account:a", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:lock:account:a"))

	again, err := lm.Acquire(ctx, "account:a", time.Minute)
	require.NoError(t, err)
	defer again()
}

func TestLockManagerUnlockKeepsForeignToken(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	// Expired and taken by someone else.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:lock:k", "other"))

	unlock()
	got, err := mr.Get("test:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestDedup(t *testing.T) {
	c, mr := newTestClient(t)
	d := NewDedup(c)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "tx1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "tx1", time.Minute)
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = d.Seen(ctx, "tx1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, d.Forget(ctx, "tx1"))
	assert.False(t, mr.Exists("test:seen:tx1"))
	seen, err = d.Seen(ctx, "tx1", time.Minute)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRateLimiterAllow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 0, 0)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "ip", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, 1, time.Hour)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, "k"))

	ctx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalBusStreams(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, 0)
	ctx := context.Background()

	msgs, err := sb.StreamRead(ctx, "stream:tx", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, "stream:tx", []byte("one")))
	require.NoError(t, sb.StreamAppend(ctx, "stream:tx", []byte("two")))

	msgs, err = sb.StreamRead(ctx, "stream:tx", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Payload)
	assert.Equal(t, []byte("two"), msgs[1].Payload)

	msgs, err = sb.StreamRead(ctx, "stream:tx", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("two"), msgs[0].Payload)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := sb.Subscribe(ctx, domain.ChannelSettlements)
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.ChannelSettlements, []byte(`{"won":true}`)))

	select {
	case got := <-ch:
		assert.JSONEq(t, `{"won":true}`, string(got))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestOracleFeed(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c, 0)
	feed := NewOracleFeed(c, sb)
	key := solana.NewWallet().PublicKey()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := feed.OracleData(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := sb.Subscribe(ctx, domain.ChannelOracles)
	require.NoError(t, err)

	require.NoError(t, feed.SetPrice(ctx, key, -35000))
	data, err := feed.OracleData(ctx, key)
	require.NoError(t, err)
	price, err := program.ReadOraclePrice(data)
	require.NoError(t, err)
	assert.Equal(t, int64(-35000), price)

	select {
	case raw := <-events:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.Equal(t, domain.EventOracleUpdated, ev["event"])
		assert.Equal(t, key.String(), ev["feed"])
		assert.EqualValues(t, -35000, ev["price"])
	case <-ctx.Done():
		t.Fatal("no oracle event")
	}

	short := solana.NewWallet().PublicKey()
	require.NoError(t, feed.SetData(ctx, short, []byte{1, 2, 3}))
	data, err = feed.OracleData(ctx, short)
	require.NoError(t, err)
	assert.Len(t, data, 3)

	prices, err := feed.Prices(ctx, []solana.PublicKey{key, short, solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, int64(-35000), prices[key].Price)
}
