// Package cas identifies documents by content and archives them by digest.
//
// The BLAKE3 digest is the primary identity used by the run history and the
// result cache; SHA-256 is carried alongside for interoperability.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/zeebo/blake3"
)

// Digest holds both digests of one document.
type Digest struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// digestPattern matches a lowercase 256-bit hex digest.
var digestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Hash computes both digests of data.
func Hash(data []byte) Digest {
	s := sha256.Sum256(data)
	b := blake3.Sum256(data)
	return Digest{
		SHA256: hex.EncodeToString(s[:]),
		BLAKE3: hex.EncodeToString(b[:]),
	}
}

// Short returns an abbreviated BLAKE3 digest for logs.
func (d Digest) Short() string {
	if len(d.BLAKE3) < 12 {
		return d.BLAKE3
	}
	return d.BLAKE3[:12]
}

// ValidDigest reports whether s looks like a hex digest.
func ValidDigest(s string) bool {
	return digestPattern.MatchString(s)
}
