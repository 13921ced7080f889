package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretKeyPrefix marks ledger-issued API keys.
const SecretKeyPrefix = "sa_live_"

// NewSecretKey returns a fresh API key: the prefix followed by 24 random bytes
// in hex.
func NewSecretKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret key: %w", err)
	}
	return SecretKeyPrefix + hex.EncodeToString(buf), nil
}

// LooksLikeSecretKey reports whether token has the API key shape.
func LooksLikeSecretKey(token string) bool {
	return strings.HasPrefix(token, SecretKeyPrefix) && len(token) == len(SecretKeyPrefix)+48
}
