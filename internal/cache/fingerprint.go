package cache

import (
	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the cache key of a normalized specification evaluated
// under the context rendered as ctxKey.
func Fingerprint(normalizedSpec []byte, ctxKey string) uint64 {
	d := xxhash.New()
	_, _ = d.Write(normalizedSpec)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(ctxKey)
	return d.Sum64()
}
