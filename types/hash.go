package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashSize is the size, in bytes, of a block or header digest.
const HashSize = 32

// Hash is a 32-byte digest identifying a header or block.
type Hash [HashSize]byte

// HashFromBytes converts a byte slice into a Hash. It errors if the slice
// has the wrong length.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether the hash is the all-zero digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// BlockID identifies a block unambiguously by height and hash.
type BlockID struct {
	Number uint64 `json:"number"`
	Hash   Hash   `json:"hash"`
}

// NewHeight is the forward-sync progress result: the head reached by the
// latest resume or download pass.
type NewHeight = BlockID

// UnwindPoint is the latest-valid ancestor a rejected chain is rolled back to.
type UnwindPoint struct {
	Number uint64
	Hash   Hash
}

func (id BlockID) String() string {
	return fmt.Sprintf("%d:%s", id.Number, id.Hash)
}

// Equals reports whether two block IDs refer to the same block.
func (id BlockID) Equals(other BlockID) bool {
	return id.Number == other.Number && bytes.Equal(id.Hash[:], other.Hash[:])
}
