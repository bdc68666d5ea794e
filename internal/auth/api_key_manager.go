package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// APIKeyPrefix marks secret keys so they are recognizable in logs and scanners
	APIKeyPrefix = "sk_"

	apiKeyRandomBytes = 32
	pepperInfo        = "hms-sentinel api key digest v1"
)

// ErrInvalidAPIKeyFormat is returned for input that cannot be a key this service issued
var ErrInvalidAPIKeyFormat = errors.New("invalid API key format")

// APIKeyManager handles API key generation and hashing
type APIKeyManager struct {
	prefix string
	macKey []byte // nil means plain SHA-256
}

// NewAPIKeyManager creates a manager. A non-empty pepper switches the digest to
// HMAC-SHA256 under a key derived from the pepper with HKDF.
func NewAPIKeyManager(pepper string) (*APIKeyManager, error) {
	m := &APIKeyManager{prefix: APIKeyPrefix}
	if pepper == "" {
		return m, nil
	}

	macKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(pepper), nil, []byte(pepperInfo)), macKey); err != nil {
		return nil, fmt.Errorf("failed to derive api key digest key: %w", err)
	}
	m.macKey = macKey

	return m, nil
}

// Generate creates a key in the format sk_<64 hex chars>.
// The plaintext is shown once; only the hash is stored.
func (m *APIKeyManager) Generate() (hashedKey, plainKey string, err error) {
	randomBytes := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plainKey = m.prefix + hex.EncodeToString(randomBytes)
	return m.digest(plainKey), plainKey, nil
}

// Hash validates the key format and returns its digest
func (m *APIKeyManager) Hash(plainKey string) (string, error) {
	if !m.wellFormed(plainKey) {
		return "", ErrInvalidAPIKeyFormat
	}
	return m.digest(plainKey), nil
}

func (m *APIKeyManager) wellFormed(plainKey string) bool {
	if !strings.HasPrefix(plainKey, m.prefix) || len(plainKey) != len(m.prefix)+2*apiKeyRandomBytes {
		return false
	}
	_, err := hex.DecodeString(plainKey[len(m.prefix):])
	return err == nil
}

func (m *APIKeyManager) digest(plainKey string) string {
	if m.macKey == nil {
		sum := sha256.Sum256([]byte(plainKey))
		return hex.EncodeToString(sum[:])
	}

	mac := hmac.New(sha256.New, m.macKey)
	mac.Write([]byte(plainKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeHashCompare compares two digests without leaking where they differ
func ConstantTimeHashCompare(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}
