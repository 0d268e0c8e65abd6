// Package utils provides identifier, token and retry helpers shared across
// the relay.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// Identifier prefixes by record kind.
const (
	PrefixSource      = "src_"
	PrefixDestination = "dst_"
	PrefixRoute       = "rte_"
)

// TokenBytes is the entropy of a source token.
const TokenBytes = 32

// NewID returns prefix followed by a collision-resistant cuid.
func NewID(prefix string) string {
	return prefix + cuid.New()
}

// NewEventID returns a time-ordered UUIDv7 so event ids sort by arrival.
// Deliveries and attempts use the same form.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewToken returns a URL-safe random source token.
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 of token. Retired tokens are kept only
// in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateRequestID generates a request id for log correlation.
func GenerateRequestID() string {
	return "req-" + cuid.New()
}
