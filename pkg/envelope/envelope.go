// Package envelope implements per-couple note encryption. Each couple owns a
// random AES-256 key that is stored wrapped under a server master key.
//
// Wrapped keys and note ciphertexts share one format:
// base64(nonce):base64(tag):base64(ciphertext).
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"gorm.io/gorm"
)

const (
	keySize   = 32
	nonceSize = 16
	tagSize   = 16
	separator = ":"
)

var errMalformed = errors.New("malformed envelope")

type Envelope struct {
	master []byte
}

// New derives the master key from secret with SHA-256.
func New(secret string) (*Envelope, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperr.Validation("encryption master key is not configured")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Envelope{master: sum[:]}, nil
}

// GenerateWrappedKey creates a fresh couple key and returns it wrapped.
func (e *Envelope) GenerateWrappedKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate couple key: %w", err)
	}
	return seal(e.master, []byte(base64.StdEncoding.EncodeToString(key)))
}

// EnsureCoupleKey returns the couple's wrapped key, provisioning one when the
// couple has none. Provisioning is a compare-and-set on a NULL key so two
// concurrent first writers end up sharing the same key.
func (e *Envelope) EnsureCoupleKey(ctx context.Context, gdb *gorm.DB, coupleID string, existing *string) (string, error) {
	if existing != nil && *existing != "" {
		return *existing, nil
	}

	wrapped, err := e.GenerateWrappedKey()
	if err != nil {
		return "", err
	}

	res := gdb.WithContext(ctx).
		Model(&db.Couple{}).
		Where("id = ? AND encryption_key IS NULL", coupleID).
		Update("encryption_key", wrapped)
	if res.Error != nil {
		return "", fmt.Errorf("store couple key: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return wrapped, nil
	}

	var couple db.Couple
	if err := gdb.WithContext(ctx).Select("id", "encryption_key").First(&couple, "id = ?", coupleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFound("couple not found")
		}
		return "", fmt.Errorf("reload couple key: %w", err)
	}
	if couple.EncryptionKey == nil || *couple.EncryptionKey == "" {
		return "", fmt.Errorf("couple %s has no key after provisioning", coupleID)
	}
	return *couple.EncryptionKey, nil
}

// EncryptNote seals plaintext under the couple key. Empty plaintext stays empty.
func (e *Envelope) EncryptNote(plaintext, wrappedKey string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := e.unwrap(wrappedKey)
	if err != nil {
		return "", fmt.Errorf("unwrap couple key: %w", err)
	}
	return seal(key, []byte(plaintext))
}

// DecryptNote opens ciphertext under the couple key. Content that is not in the
// three-segment format is legacy plaintext and returned as is; any failure
// returns the input unchanged.
func (e *Envelope) DecryptNote(ciphertext, wrappedKey string) string {
	if ciphertext == "" {
		return ""
	}
	if !IsEncrypted(ciphertext) {
		return ciphertext
	}
	key, err := e.unwrap(wrappedKey)
	if err != nil {
		logger.Warn("failed to unwrap couple key, returning stored note content", "error", err)
		return ciphertext
	}
	plaintext, err := open(key, ciphertext)
	if err != nil {
		logger.Warn("failed to decrypt note, returning stored content", "error", err)
		return ciphertext
	}
	return string(plaintext)
}

// IsEncrypted reports whether s has the three-segment envelope shape.
func IsEncrypted(s string) bool {
	return s != "" && len(strings.Split(s, separator)) == 3
}

func (e *Envelope) unwrap(wrappedKey string) ([]byte, error) {
	if wrappedKey == "" {
		return nil, errors.New("couple key is empty")
	}
	encoded, err := open(e.master, wrappedKey)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode couple key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("couple key has %d bytes", len(key))
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func seal(key, plaintext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, separator), nil
}

func open(key []byte, value string) ([]byte, error) {
	parts := strings.Split(value, separator)
	if len(parts) != 3 {
		return nil, errMalformed
	}
	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: nonce", errMalformed)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, fmt.Errorf("%w: tag", errMalformed)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext", errMalformed)
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, append(ct, tag...), nil)
}
