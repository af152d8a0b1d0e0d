package scancore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DefaultHasher is the core's shipped Hasher implementation: 32-byte
// BLAKE3 digests rendered as lowercase hex (§6 "Core passes 32-byte
// BLAKE3 digests as lowercase hex").
type DefaultHasher struct{}

func (DefaultHasher) Hash(data []byte) (string, error) {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
