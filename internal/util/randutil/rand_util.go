package randutil

import (
	cryptorand "crypto/rand"
	"encoding/hex"
)

// Hex returns a random hex-encoded string of 2*length characters, suitable
// for unique suffixes and generated credentials.
func Hex(length int) string {
	bytes := make([]byte, length)
	if _, err := cryptorand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}
