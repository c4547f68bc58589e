package archibald

import (
	"crypto/sha256"
	"encoding/hex"
)

// fieldSeparator keeps adjacent field values from colliding ("ab","c" vs
// "a","bc") when concatenated for hashing.
const fieldSeparator = 0x1F

// ContentHash digests the ordered field values of a record. The same fields
// in the same order always produce the same hex digest; any single field
// change produces a different one. Entity types each fix their own field
// order, so the digest is the sole change-detection signal.
func ContentHash(fields []string) string {
	h := sha256.New()
	for i, field := range fields {
		if i > 0 {
			h.Write([]byte{fieldSeparator})
		}
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
