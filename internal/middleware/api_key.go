// Package middleware provides HTTP middleware for the flagchain server:
// bearer-token authentication against bcrypt-hashed API keys, per-IP
// throttling of failed attempts, and request-scoped structured logging.
package middleware

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

// HashAPIKey returns a salted bcrypt hash for an API key secret.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key secret against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
}

// SplitAPIKeyToken splits a bearer token of the form "keyID.secret".
func SplitAPIKeyToken(token string) (keyID, secret string, ok bool) {
	keyID, secret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// FormatAPIKeyToken joins a key ID and its secret into a bearer token.
func FormatAPIKeyToken(keyID, secret string) string {
	return keyID + "." + secret
}
