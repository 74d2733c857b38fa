package webhooks

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// NewClientToken mints an integration-client token. Only the hash is
// stored; the preview is a display-safe fragment for admin UIs.
func NewClientToken() (token, hash, preview string) {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	token = "ict_" + hex.EncodeToString(buf)
	hash = HashClientToken(token)
	preview = "…" + token[len(token)-4:]
	return token, hash, preview
}

// HashClientToken returns the stored form of a token.
func HashClientToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyClientToken compares a presented token against the stored hash in
// constant time.
func VerifyClientToken(storedHash, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashClientToken(presented))) == 1
}
