package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v1xingyue/tokenwords/internal/ledger"
	"github.com/v1xingyue/tokenwords/internal/program"
)

func TestClientSendsKeyAndDecodes(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/status":
			_, _ = w.Write([]byte(`{"program_id":"p","slot":12,"state_hash":"h"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/transactions":
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotBody = req["transaction"]
			_, _ = w.Write([]byte(`{"id":"sig","status":"succeeded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "k")
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), st.Slot)
	assert.Equal(t, "k", gotKey)

	payer := solana.NewWallet().PrivateKey
	tx, err := ledger.NewTransaction(payer.PublicKey(), program.NewSettlePredictionInstruction(
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(),
		solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()), 12)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payer))
	r, err := c.Submit(ctx, tx)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.NotEmpty(t, gotBody)

	_, err = c.Room(ctx, solana.NewWallet().PublicKey())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not found", apiErr.Message)
}
