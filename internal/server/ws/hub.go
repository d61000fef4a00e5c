// Package ws relays signal bus events to websocket clients as protobuf
// frames.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 100
)

// DefaultChannels are relayed when Config.Channels is empty.
var DefaultChannels = []string{domain.ChannelTx, domain.ChannelSettlements, domain.ChannelOracles}

// Config configures a Hub.
type Config struct {
	Channels       []string
	AllowedOrigins []string // empty allows every origin
}

// Hub fans bus messages out to connected clients. Each frame is a
// structpb.Struct with "type", "channel" and "payload" fields.
type Hub struct {
	bus      domain.SignalBus
	channels []string
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
}

type frame struct {
	channel string
	data    []byte
}

// NewHub creates a Hub.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	h := &Hub{
		bus:        bus,
		channels:   channels,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the bus and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range h.channels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(f.channel) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					h.logger.Warn("dropping frame for slow client", slog.String("channel", f.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			data, err := encodeFrame("event", channel, "", payload)
			if err != nil {
				h.logger.Warn("drop undecodable event", slog.String("channel", channel), slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- frame{channel: channel, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// encodeFrame wraps a JSON bus payload in a protobuf Struct.
func encodeFrame(kind, channel, id string, payload []byte) ([]byte, error) {
	var body any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
	}
	fields := map[string]any{"type": kind, "channel": channel, "payload": body}
	if id != "" {
		fields["id"] = id
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// HandleWS upgrades GET /ws. New clients receive every channel until they
// send a subscription message.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}
	h.register <- c

	if hello, err := encodeFrame("hello", "", "", mustJSON(map[string]any{"channels": h.channels})); err == nil {
		c.enqueue(hello)
	}
	go c.writePump()
	go c.readPump(r.Context())
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// request is a client control message.
type request struct {
	Action   string   `json:"action"` // subscribe, unsubscribe, replay
	Channels []string `json:"channels"`
	Since    string   `json:"since"` // stream id for replay, "0" for the start
}

func (c *client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		c.handle(context.WithoutCancel(ctx), req)
	}
}

func (c *client) handle(ctx context.Context, req request) {
	switch req.Action {
	case "subscribe":
		c.mu.Lock()
		for _, ch := range req.Channels {
			c.subs[ch] = true
		}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		for _, ch := range req.Channels {
			delete(c.subs, ch)
		}
		c.mu.Unlock()
	case "replay":
		since := req.Since
		if since == "" {
			since = "0"
		}
		for _, ch := range req.Channels {
			msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamName(ch), since, replayLimit)
			if err != nil {
				c.hub.logger.Warn("replay failed", slog.String("channel", ch), slog.String("error", err.Error()))
				continue
			}
			for _, m := range msgs {
				if data, err := encodeFrame("replay", ch, m.ID, m.Payload); err == nil {
					c.enqueue(data)
				}
			}
		}
	}
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
