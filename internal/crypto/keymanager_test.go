package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	data, err := encryptKey(key, "hunter2", testIterations)
	require.NoError(t, err)

	var stored encryptedKeyFile
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, key.PublicKey().String(), stored.PublicKey)
	assert.NotContains(t, string(data), key.String())

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecryptKey(data, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
	_, err = DecryptKey(data, "")
	assert.Error(t, err)
}

func TestDecryptRejectsSwappedPublicKey(t *testing.T) {
	data, err := encryptKey(solana.NewWallet().PrivateKey, "pw", testIterations)
	require.NoError(t, err)
	var stored encryptedKeyFile
	require.NoError(t, json.Unmarshal(data, &stored))
	stored.PublicKey = solana.NewWallet().PublicKey().String()
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "pw")
	assert.Error(t, err)
}

func TestLoadKeySources(t *testing.T) {
	dir := t.TempDir()
	key := solana.NewWallet().PrivateKey

	got, err := LoadKey(KeyConfig{RawPrivateKey: key.String()})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	keypairPath := filepath.Join(dir, "id.json")
	require.NoError(t, os.WriteFile(keypairPath, raw, 0o600))
	got, err = LoadKey(KeyConfig{KeypairPath: keypairPath})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	enc, err := encryptKey(key, "pw", testIterations)
	require.NoError(t, err)
	encPath := filepath.Join(dir, "key.enc.json")
	require.NoError(t, os.WriteFile(encPath, enc, 0o600))
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: encPath, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
	_, err = LoadKey(KeyConfig{RawPrivateKey: "not-base58-0OIl"})
	assert.Error(t, err)
}
