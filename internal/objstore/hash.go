package objstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashObject computes the SHA-256 of the envelope "kind len\0content",
// mirroring git's object hashing scheme so existing intuitions about
// content addressing carry over.
func hashObject(kind Kind, data []byte) Hash {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}
