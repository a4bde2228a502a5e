// Package runid generates the 20-character run identifier (spec §3).
//
// Random-ID generation is explicitly out of core scope (spec §1): any
// cryptographic-quality source producing a 20-char alphanumeric string
// satisfies it, so this stays on crypto/rand rather than pulling in a
// dependency (see DESIGN.md).
package runid

import (
	"crypto/rand"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	length   = 20
)

// New returns a fresh 20-character lowercase-alphanumeric run id.
func New() (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}
