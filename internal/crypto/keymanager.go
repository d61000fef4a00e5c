// Package crypto stores ed25519 signing keys on disk encrypted with a
// password.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	currentVersion    = 2
)

// encryptedKeyFile is the on-disk format. Byte fields are standard base64.
type encryptedKeyFile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig lists the places LoadKey may find a key, in priority order.
type KeyConfig struct {
	RawPrivateKey    string // base58 64-byte keypair
	KeypairPath      string // solana-keygen JSON array file
	EncryptedKeyPath string // file written by EncryptKey
	KeyPassword      string
}

// EncryptKey seals key with PBKDF2-HMAC-SHA256 and AES-256-GCM and returns
// the JSON file contents. The public key is stored in clear so the file can
// be identified without the password.
func EncryptKey(key solana.PrivateKey, password string) ([]byte, error) {
	return encryptKey(key, password, defaultIterations)
}

func encryptKey(key solana.PrivateKey, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("crypto: invalid keypair: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	pub := key.PublicKey()

	return json.MarshalIndent(encryptedKeyFile{
		Version:    currentVersion,
		PublicKey:  pub.String(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, key, pub[:])),
	}, "", "  ")
}

// DecryptKey opens a file produced by EncryptKey.
func DecryptKey(data []byte, password string) (solana.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var stored encryptedKeyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}
	if stored.Iterations <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", stored.Iterations)
	}
	pub, err := solana.PublicKeyFromBase58(stored.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding public key: %w", err)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", stored.Salt, &salt},
		{"nonce", stored.Nonce, &nonce},
		{"ciphertext", stored.Ciphertext, &ciphertext},
	} {
		if *f.out, err = base64.StdEncoding.DecodeString(f.in); err != nil {
			return nil, fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
	}

	gcm, err := newGCM(password, salt, stored.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce is %d bytes", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, pub[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	key := solana.PrivateKey(plain)
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("crypto: decrypted keypair: %w", err)
	}
	if !key.PublicKey().Equals(pub) {
		return nil, errors.New("crypto: decrypted key does not match stored public key")
	}
	return key, nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the signing key from cfg.
func LoadKey(cfg KeyConfig) (solana.PrivateKey, error) {
	switch {
	case strings.TrimSpace(cfg.RawPrivateKey) != "":
		key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(cfg.RawPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("crypto: raw private key: %w", err)
		}
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("crypto: raw private key: %w", err)
		}
		return key, nil
	case cfg.KeypairPath != "":
		key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: keypair file: %w", err)
		}
		return key, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no private key source configured")
}

// WriteEncryptedKey encrypts key and writes it to path with mode 0600.
func WriteEncryptedKey(path string, key solana.PrivateKey, password string) error {
	data, err := EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: writing %s: %w", path, err)
	}
	return nil
}
