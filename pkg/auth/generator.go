package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// TokenPrefix identifies Gantry tokens
	TokenPrefix = "gantry_"
	// SecretLength is the number of random secret bytes (256 bits)
	SecretLength = 32
	// SaltLength is the number of random salt bytes per token
	SaltLength = 16
)

// Generator mints and verifies token secrets. The raw form is
// gantry_<tokenID>.<base64url secret>; at rest only a per-token salt and
// the hex sha256 over salt || secret are kept.
type Generator struct{}

// NewGenerator creates a new token generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate mints a token ID, its raw presentable form, and the salt/hash
// pair to persist. The raw form is returned exactly once; it cannot be
// reconstructed from what is stored.
func (g *Generator) Generate() (id, raw, salt, hash string, err error) {
	id = uuid.NewString()

	secretBytes := make([]byte, SecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	saltBytes := make([]byte, SaltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt = hex.EncodeToString(saltBytes)

	raw = TokenPrefix + id + "." + secret
	hash = HashSecret(salt, secret)
	return id, raw, salt, hash, nil
}

// ParseRaw splits a presented raw token into its ID and secret parts.
// Any malformation returns ErrInvalidToken with no further detail.
func (g *Generator) ParseRaw(raw string) (id, secret string, err error) {
	rest, ok := strings.CutPrefix(raw, TokenPrefix)
	if !ok {
		return "", "", ErrInvalidToken
	}

	id, secret, ok = strings.Cut(rest, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidToken
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrInvalidToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret); err != nil {
		return "", "", ErrInvalidToken
	}

	return id, secret, nil
}

// Verify compares a presented secret against the stored salt/hash pair in
// constant time
func (g *Generator) Verify(salt, hash, secret string) bool {
	computed := HashSecret(salt, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// DisplayPrefix returns the short fragment stored for operator display
func DisplayPrefix(id string) string {
	if len(id) >= 8 {
		return TokenPrefix + id[:8]
	}
	return TokenPrefix + id
}

// HashSecret computes the hex sha256 over salt || secret
func HashSecret(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}
