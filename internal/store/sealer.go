package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize  = 16
	keySize   = 32
	argonTime = 1
	argonMem  = 64 * 1024
	argonPar  = 4

	sealedPrefix = "v1:"
	metaScope    = "meta"
	saltKey      = "sealer_salt"
)

// Sealer encrypts values at rest with AES-256-GCM under an Argon2id key.
type Sealer struct {
	aead cipher.AEAD
}

// GenerateSalt returns 16 cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

// NewSealer returns a Sealer keyed from passphrase and salt.
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}

	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext. Output format: "v1:" + base64url(nonce || ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return "", fmt.Errorf("value is not sealed")
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(data) < s.aead.NonceSize() {
		return "", fmt.Errorf("sealed value too small")
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// LoadOrCreateSalt returns the per-install sealer salt, generating and
// persisting it on first use.
func LoadOrCreateSalt(ctx context.Context, db *sql.DB) ([]byte, error) {
	meta := NewKVStore(db, metaScope)

	encoded, ok, err := meta.Get(ctx, saltKey)
	if err != nil {
		return nil, err
	}
	if ok {
		salt, err := base64.RawStdEncoding.DecodeString(encoded)
		if err != nil || len(salt) != saltSize {
			return nil, &StorageError{Op: "get", Key: saltKey, Err: ErrCorrupt}
		}
		return salt, nil
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := meta.Set(ctx, saltKey, base64.RawStdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}
