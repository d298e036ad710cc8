package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Pseudonymizer derives deterministic, salted masks for user IDs so audit
// records can be correlated without storing raw identifiers.
type Pseudonymizer struct {
	salt []byte
}

// NewPseudonymizer constructs a pseudonymizer with the provided salt bytes.
func NewPseudonymizer(salt []byte) Pseudonymizer {
	return Pseudonymizer{salt: append([]byte(nil), salt...)}
}

// Mask hashes the given user ID using HMAC-SHA256 and returns a base64 string.
func (p Pseudonymizer) Mask(userID string) string {
	mac := hmac.New(sha256.New, p.salt)
	mac.Write([]byte(userID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
