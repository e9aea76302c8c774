package model

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateAPIKey returns a new api key token: 20 random bytes hex encoded,
// so 40 case-sensitive word characters.
func GenerateAPIKey() string {
	raw := make([]byte, 20)
	// rand.Read never returns an error on supported platforms.
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	return hex.EncodeToString(raw)
}
