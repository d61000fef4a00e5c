package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

type chanBus struct {
	chans   map[string]chan []byte
	streams map[string][]domain.StreamMessage
}

func newChanBus(channels ...string) *chanBus {
	b := &chanBus{chans: map[string]chan []byte{}, streams: map[string][]domain.StreamMessage{}}
	for _, ch := range channels {
		b.chans[ch] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, ch string, p []byte) error {
	b.chans[ch] <- p
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, ch string) (<-chan []byte, error) {
	return b.chans[ch], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	return b.streams[stream], nil
}

func readFrame(t *testing.T, conn *websocket.Conn) *structpb.Struct {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	return &s
}

func TestHubRelaysEvents(t *testing.T) {
	bus := newChanBus(domain.ChannelTx, domain.ChannelSettlements)
	bus.streams[domain.StreamName(domain.ChannelSettlements)] = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"prediction_settled","won":true}`)},
	}
	hub := NewHub(bus, Config{Channels: []string{domain.ChannelTx, domain.ChannelSettlements}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Fields["type"].GetStringValue())

	require.NoError(t, bus.Publish(ctx, domain.ChannelTx, []byte(`{"event":"tx_applied","slot":7}`)))
	ev := readFrame(t, conn)
	assert.Equal(t, "event", ev.Fields["type"].GetStringValue())
	assert.Equal(t, domain.ChannelTx, ev.Fields["channel"].GetStringValue())
	payload := ev.Fields["payload"].GetStructValue()
	require.NotNil(t, payload)
	assert.Equal(t, "tx_applied", payload.Fields["event"].GetStringValue())
	assert.Equal(t, float64(7), payload.Fields["slot"].GetNumberValue())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"replay","channels":["settlements"]}`)))
	rp := readFrame(t, conn)
	assert.Equal(t, "replay", rp.Fields["type"].GetStringValue())
	assert.Equal(t, "1-0", rp.Fields["id"].GetStringValue())
	assert.True(t, rp.Fields["payload"].GetStructValue().Fields["won"].GetBoolValue())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://other.example")
	assert.False(t, check(req))
}
