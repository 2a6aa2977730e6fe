package biz

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Supported digest algorithms
const (
	HashSHA256  = "sha256"
	HashSHA1    = "sha1"
	HashBLAKE2b = "blake2b"
)

// Hasher computes the content digest used as the dedup key
type Hasher struct {
	name    string
	newHash func() hash.Hash
}

// NewHasher returns a Hasher for the named algorithm. sha1 keeps fh: keys
// compatible with stores written by earlier deployments.
func NewHasher(name string) (*Hasher, error) {
	switch name {
	case HashSHA256, "":
		return &Hasher{name: HashSHA256, newHash: sha256.New}, nil
	case HashSHA1:
		return &Hasher{name: HashSHA1, newHash: sha1.New}, nil
	case HashBLAKE2b:
		return &Hasher{name: HashBLAKE2b, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil)
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

// Name returns the algorithm name
func (h *Hasher) Name() string {
	return h.name
}

// Sum reads r to EOF and returns the lowercase hex digest and the byte count
func (h *Hasher) Sum(r io.Reader) (string, int64, error) {
	hh := h.newHash()
	n, err := io.Copy(hh, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hh.Sum(nil)), n, nil
}
