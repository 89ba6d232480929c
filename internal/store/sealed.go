package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedPrefix = "FDENC1\n"
	saltKey      = "sealed.salt"
	saltSize     = 16
)

var (
	ErrAuthFailed = errors.New("sealed value authentication failed")
	ErrNotSealed  = errors.New("stored value is not sealed")
)

// Sealed encrypts every value before handing it to the wrapped store, so
// tokens never rest in plaintext. The stored key name is bound into each
// ciphertext; a value copied under another key does not decrypt.
type Sealed struct {
	inner Store
	key   []byte
}

// NewSealed derives the encryption key from passphrase and a per-store salt
// kept (unencrypted) under its own key in inner.
func NewSealed(ctx context.Context, inner Store, passphrase string) (*Sealed, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("sealed store: empty passphrase")
	}

	salt, found, err := inner.Get(ctx, saltKey)
	if err != nil {
		return nil, fmt.Errorf("sealed store: read salt: %w", err)
	}
	if !found || len(salt) != saltSize {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, err
		}
		if err := inner.Set(ctx, saltKey, salt); err != nil {
			return nil, fmt.Errorf("sealed store: write salt: %w", err)
		}
	}

	return &Sealed{
		inner: inner,
		key:   argon2.IDKey([]byte(passphrase), salt, 2, 64*1024, 1, chacha20poly1305.KeySize),
	}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, found, err := s.inner.Get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	if !strings.HasPrefix(string(raw), sealedPrefix) {
		return nil, false, fmt.Errorf("%q: %w", key, ErrNotSealed)
	}
	raw = raw[len(sealedPrefix):]

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, false, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, false, fmt.Errorf("%q: %w", key, ErrAuthFailed)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, false, fmt.Errorf("%q: %w", key, ErrAuthFailed)
	}
	return plain, true, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	out := make([]byte, 0, len(sealedPrefix)+len(nonce)+len(value)+aead.Overhead())
	out = append(out, sealedPrefix...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, value, []byte(key))
	return s.inner.Set(ctx, key, out)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
