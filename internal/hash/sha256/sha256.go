// Package sha256 derives archive object keys from page bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// fanout is how many leading hex digits become a directory, keeping any one
// archive directory to at most 256 entries per level.
const fanout = 2

// Hasher implements crawler.Hasher. Identical bodies share one key, so a
// forecast page that did not change between runs is archived once.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher { return &Hasher{} }

// Hash returns "<first two hex digits>/<full hex digest>".
func (*Hasher) Hash(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	return digest[:fanout] + "/" + digest, nil
}
