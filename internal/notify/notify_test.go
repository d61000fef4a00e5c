package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordSender struct {
	mu     sync.Mutex
	titles []string
	msgs   []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.msgs = append(r.msgs, message)
	return r.err
}

func (r *recordSender) Name() string { return "record" }

func (r *recordSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifierFilters(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, []string{domain.EventPredictionSettled, " "}, discard)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, domain.EventTxRejected, "t", "m"))
	assert.Zero(t, rec.count())
	require.NoError(t, n.Notify(ctx, domain.EventPredictionSettled, "t", "m"))
	require.NoError(t, n.NotifyAll(ctx, "t", "m"))
	assert.Equal(t, 2, rec.count())
}

func TestNotifierJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordSender{}
	n := NewNotifier([]Sender{&recordSender{err: boom}, ok}, nil, discard)
	err := n.NotifyAll(context.Background(), "t", "m")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.count())
}

func TestTelegramAndDiscordSenders(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ctx := context.Background()

	tg := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, tg.Send(ctx, "Title", "body"))
	assert.Equal(t, "42", bodies["/botTOKEN/sendMessage"]["chat_id"])
	assert.Equal(t, "*Title*\nbody", bodies["/botTOKEN/sendMessage"]["text"])

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(ctx, "Title", "body"))
	assert.Equal(t, "**Title**\nbody", bodies["/hook"]["content"])

	err := NewDiscordSender(srv.URL+"/fail").Send(ctx, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type pipeBus struct {
	chans map[string]chan []byte
}

func (b *pipeBus) Publish(_ context.Context, ch string, p []byte) error {
	b.chans[ch] <- p
	return nil
}

func (b *pipeBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}

func (b *pipeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *pipeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestAnnouncerRelaysSettlements(t *testing.T) {
	bus := &pipeBus{chans: map[string]chan []byte{
		domain.ChannelSettlements: make(chan []byte, 4),
		domain.ChannelTx:          make(chan []byte, 4),
	}}
	rec := &recordSender{}
	a := NewAnnouncer(bus, NewNotifier([]Sender{rec}, []string{domain.EventPredictionSettled}, discard), discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, domain.ChannelTx, []byte(`{"event":"tx_rejected","id":"x"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelSettlements, []byte(
		`{"event":"prediction_settled","prediction":"P","user":"U","predicted_price":10,"observed_price":12,"stake":5,"won":true,"slot":9,"tx_id":"T"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelSettlements, []byte(`not json`)))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "Prediction won", rec.titles[0])
	assert.Contains(t, rec.msgs[0], "predicted 10, observed 12")
}

func TestRenderRejection(t *testing.T) {
	title, msg, ok := render(busEvent{
		Event:       domain.EventTxRejected,
		ID:          "sig",
		Instruction: "SettlePrediction",
		Slot:        3,
		Error:       &domain.TxError{Name: "NotExpired"},
	})
	require.True(t, ok)
	assert.Equal(t, "Transaction rejected", title)
	assert.Equal(t, "SettlePrediction sig at slot 3: NotExpired", msg)

	_, _, ok = render(busEvent{Event: domain.EventTxApplied})
	assert.False(t, ok)
}
