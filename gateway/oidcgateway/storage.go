package oidcgateway

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// StoredToken is the provider-owned durable session material: the token
// pair the provider needs back to resume a session after a process restart.
// This is the only durable copy in the whole system - the engine's in-memory
// store deliberately never persists.
type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// TokenStorage seals the stored token to a file with ChaCha20-Poly1305.
// An unreadable or tampered file is reported as corrupted and treated by
// callers as "no stored session" - storage problems must never surface as
// engine errors.
type TokenStorage struct {
	path string
	key  []byte
	lock sync.Mutex
}

// NewTokenStorage derives the sealing key from secret and returns storage
// rooted at path. The parent directory is created on first Save.
func NewTokenStorage(path string, secret []byte) (*TokenStorage, error) {
	if path == "" {
		return nil, errors.Wrapf(errors.ErrCorruptedStorage, "[NewTokenStorage] empty path")
	}
	if len(secret) == 0 {
		return nil, errors.Wrapf(errors.ErrCorruptedStorage, "[NewTokenStorage] empty secret")
	}
	key := sha256.Sum256(secret)
	return &TokenStorage{path: path, key: key[:]}, nil
}

// Save seals and writes the token, replacing any previous one.
func (ts *TokenStorage) Save(token StoredToken) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	plaintext, err := json.Marshal(token)
	if err != nil {
		return errors.Wrapf(err, "[TokenStorage.Save] marshal")
	}

	aead, err := chacha20poly1305.NewX(ts.key)
	if err != nil {
		return errors.Wrapf(err, "[TokenStorage.Save] cipher")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrapf(err, "[TokenStorage.Save] nonce")
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(ts.path), 0o700); err != nil {
		return errors.Wrapf(err, "[TokenStorage.Save] mkdir")
	}
	if err := os.WriteFile(ts.path, sealed, 0o600); err != nil {
		return errors.Wrapf(err, "[TokenStorage.Save] write %q", ts.path)
	}
	return nil
}

// Load reads and unseals the stored token. Returns ErrNoStoredSession when
// the file does not exist and ErrCorruptedStorage when it cannot be
// decrypted or decoded.
func (ts *TokenStorage) Load() (StoredToken, error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	sealed, err := os.ReadFile(ts.path)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredToken{}, errors.ErrNoStoredSession
		}
		return StoredToken{}, errors.Wrapf(errors.ErrCorruptedStorage, "[TokenStorage.Load] read %q: %v", ts.path, err)
	}

	aead, err := chacha20poly1305.NewX(ts.key)
	if err != nil {
		return StoredToken{}, errors.Wrapf(err, "[TokenStorage.Load] cipher")
	}
	if len(sealed) < aead.NonceSize() {
		return StoredToken{}, errors.Wrapf(errors.ErrCorruptedStorage, "[TokenStorage.Load] truncated file")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return StoredToken{}, errors.Wrapf(errors.ErrCorruptedStorage, "[TokenStorage.Load] unseal: %v", err)
	}

	var token StoredToken
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return StoredToken{}, errors.Wrapf(errors.ErrCorruptedStorage, "[TokenStorage.Load] decode: %v", err)
	}
	if token.RefreshToken == "" {
		return StoredToken{}, errors.Wrapf(errors.ErrCorruptedStorage, "[TokenStorage.Load] missing refresh token")
	}
	return token, nil
}

// Delete removes the stored token. Missing files are fine.
func (ts *TokenStorage) Delete() {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	_ = os.Remove(ts.path)
}
