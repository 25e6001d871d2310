// Package hash implements reprovm's content hasher.
//
// Every hash in reprovm, from a single blob's identity in the CAS to a task's
// fingerprint to its result hash, is a SHA-256 digest rendered as 64 lowercase
// hex characters. This package centralises that contract so nothing downstream
// re-derives it: init -> update* -> final, always lowercase hex, always 32
// bytes of digest before encoding.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Size is the length in bytes of a SHA-256 digest.
const Size = sha256.Size

// HexSize is the length of the canonical lowercase hex encoding of a digest.
const HexSize = Size * 2

// Hasher wraps a running SHA-256 computation with the init -> update* -> final
// contract used throughout reprovm. The zero value is not valid; use New.
type Hasher struct {
	inner hash.Hash
}

// New returns a fresh Hasher ready to accept Write calls.
func New() *Hasher {
	return &Hasher{inner: sha256.New()}
}

// Write implements io.Writer, feeding more bytes into the running digest.
// It never returns an error; hash.Hash's Write contract guarantees this.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

// Sum finalises the digest and returns its canonical lowercase hex encoding.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.inner.Sum(nil))
}

// Bytes sums the given data in one shot and returns its hex digest.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader streams r through SHA-256 and returns its hex digest. The caller is
// responsible for closing r if it needs closing; Reader only reads.
func Reader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// Join hashes a comma-separated concatenation of already-hex hashes, used by
// the result hash (sorted output blob hashes); the task fingerprint builds
// its own canonical string and hashes it with Bytes. It does not sort its
// input; callers that need order-insensitivity must sort before calling.
func Join(hexHashes []string) string {
	h := New()
	for i, hh := range hexHashes {
		if i > 0 {
			h.Write([]byte(","))
		}
		h.Write([]byte(hh))
	}
	return h.Sum()
}
