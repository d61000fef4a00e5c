// Package client is the REST client for the settlement node API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/service"
)

// APIError is a non-2xx answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Client talks to one node.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status returns the node's current slot and state hash.
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Allocate creates an empty slot. A zero owner lets the node pick the
// program.
func (c *Client) Allocate(ctx context.Context, key, owner solana.PublicKey) (domain.Account, error) {
	req := map[string]string{"key": key.String()}
	if !owner.IsZero() {
		req["owner"] = owner.String()
	}
	var acct domain.Account
	err := c.do(ctx, http.MethodPost, "/api/accounts", req, &acct)
	return acct, err
}

// Account fetches a raw account.
func (c *Client) Account(ctx context.Context, key solana.PublicKey) (domain.Account, error) {
	var acct domain.Account
	err := c.do(ctx, http.MethodGet, "/api/accounts/"+key.String(), nil, &acct)
	return acct, err
}

// Room fetches a decoded room.
func (c *Client) Room(ctx context.Context, key solana.PublicKey) (service.RoomView, error) {
	var rv service.RoomView
	err := c.do(ctx, http.MethodGet, "/api/rooms/"+key.String(), nil, &rv)
	return rv, err
}

// Prediction fetches a decoded prediction.
func (c *Client) Prediction(ctx context.Context, key solana.PublicKey) (service.PredictionView, error) {
	var pv service.PredictionView
	err := c.do(ctx, http.MethodGet, "/api/predictions/"+key.String(), nil, &pv)
	return pv, err
}

// Predictions lists predictions. Zero keys are not filtered on.
func (c *Client) Predictions(ctx context.Context, room, user solana.PublicKey, openOnly bool) ([]service.PredictionView, error) {
	params := url.Values{}
	if !room.IsZero() {
		params.Set("room", room.String())
	}
	if !user.IsZero() {
		params.Set("user", user.String())
	}
	if openOnly {
		params.Set("open", "true")
	}
	var out []service.PredictionView
	err := c.do(ctx, http.MethodGet, "/api/predictions?"+params.Encode(), nil, &out)
	return out, err
}

// Receipt fetches a transaction receipt.
func (c *Client) Receipt(ctx context.Context, id string) (domain.Receipt, error) {
	var r domain.Receipt
	err := c.do(ctx, http.MethodGet, "/api/transactions/"+url.PathEscape(id), nil, &r)
	return r, err
}

// Submit sends a signed transaction.
func (c *Client) Submit(ctx context.Context, tx *ledger.Transaction) (domain.Receipt, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("api: encode transaction: %w", err)
	}
	var r domain.Receipt
	err = c.do(ctx, http.MethodPost, "/api/transactions", map[string]string{
		"transaction": base64.StdEncoding.EncodeToString(raw),
	}, &r)
	return r, err
}

// SetPrice publishes an oracle price.
func (c *Client) SetPrice(ctx context.Context, feed solana.PublicKey, price int64) error {
	return c.do(ctx, http.MethodPut, "/api/oracles/"+feed.String(), map[string]int64{"price": price}, nil)
}

// OraclePrice reads a feed's decoded price.
func (c *Client) OraclePrice(ctx context.Context, feed solana.PublicKey) (int64, error) {
	var out struct {
		Price *int64 `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/oracles/"+feed.String(), nil, &out); err != nil {
		return 0, err
	}
	if out.Price == nil {
		return 0, fmt.Errorf("api: feed %s holds no price", feed)
	}
	return *out.Price, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}
