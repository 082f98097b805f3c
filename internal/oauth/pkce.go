// Package oauth implements the self-contained OAuth 2.0 authorization
// server that gates the HTTP transport: dynamic client registration
// (RFC 7591), the PKCE authorization-code grant (RFC 6749 + RFC 7636),
// refresh rotation, and the discovery documents (RFC 8414 / RFC 9728).
// All state is in-memory and rebuilt on restart.
package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ChallengeS256 computes the S256 code challenge for a verifier:
// BASE64URL(SHA256(verifier)), unpadded.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyS256 reports whether the verifier matches the stored S256 code
// challenge per RFC 7636.
func VerifyS256(verifier, challenge string) bool {
	computed := ChallengeS256(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
