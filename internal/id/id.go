package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random 32-character hex token used for request ids.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "docflow-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
