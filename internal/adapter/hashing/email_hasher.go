package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/clinicops/secobs/internal/domain"
)

// hkdfInfo binds the derived key to its single use.
const hkdfInfo = "secobs/email-search-hash/v1"

// EmailHasher computes the searchable HMAC-SHA256 digest stored in users.email_hash
type EmailHasher struct {
	key []byte
}

// NewEmailHasher derives the HMAC key from secret with HKDF-SHA256
func NewEmailHasher(secret string) (*EmailHasher, error) {
	if secret == "" {
		return nil, fmt.Errorf("email hash secret cannot be empty")
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive email hash key: %w", err)
	}
	return &EmailHasher{key: key}, nil
}

// Hash returns the hex digest of the normalized address; empty input hashes to "".
func (h *EmailHasher) Hash(email string) string {
	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return ""
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}
