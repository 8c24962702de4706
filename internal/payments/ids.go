package payments

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newIntentID returns 32 random bytes as hex. The id doubles as the
// correlation id sent to providers, so it must not be guessable.
func newIntentID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate intent id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
