package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintPrefix tags fingerprints with the digest that produced them.
const FingerprintPrefix = "sha256:"

// Fingerprint derives the index key for a prompt. The same prompt always
// maps to the same fingerprint; it is used for lookups, never for identity.
func Fingerprint(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return FingerprintPrefix + hex.EncodeToString(h[:])
}

// VoterToken turns a per-session identifier into the opaque token stored on
// vote events. The session id itself is never persisted. An empty secret
// still yields a one-way digest.
func VoterToken(sessionID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}
