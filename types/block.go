package types

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Header is the proof-of-work chain header the sync engine operates on.
// Seal fields (nonce, mix digest) are opaque here: seal validation belongs
// to a pluggable rule set, not to the sync orchestration.
type Header struct {
	ParentHash Hash     `json:"parent_hash"`
	Number     uint64   `json:"number"`
	Difficulty *big.Int `json:"difficulty"`
	Time       uint64   `json:"time"`
	Extra      []byte   `json:"extra"`

	hash *Hash // cache, computed on first Hash() call
}

// Hash returns the header digest, computing and caching it on first use.
// Headers must not be mutated after the first Hash() call.
func (h *Header) Hash() Hash {
	if h.hash != nil {
		return *h.hash
	}
	sum := Hash(sha256.Sum256(h.encode()))
	h.hash = &sum
	return sum
}

// BlockID returns the (height, hash) pair identifying this header.
func (h *Header) BlockID() BlockID {
	return BlockID{Number: h.Number, Hash: h.Hash()}
}

// ValidateBasic performs stateless checks on the header.
func (h *Header) ValidateBasic() error {
	if h.Difficulty == nil {
		return errors.New("nil difficulty")
	}
	if h.Difficulty.Sign() < 0 {
		return fmt.Errorf("negative difficulty %v", h.Difficulty)
	}
	if h.Number == 0 && !h.ParentHash.IsZero() {
		return errors.New("genesis header has a parent hash")
	}
	return nil
}

// encode produces the deterministic byte encoding the header digest and the
// block store key on. Layout: parent hash, number, time, difficulty
// (length-prefixed), extra (length-prefixed), all big-endian.
func (h *Header) encode() []byte {
	diff := h.Difficulty
	if diff == nil {
		diff = new(big.Int)
	}
	diffBytes := diff.Bytes()

	buf := make([]byte, 0, HashSize+8+8+4+len(diffBytes)+4+len(h.Extra))
	buf = append(buf, h.ParentHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Number)
	buf = binary.BigEndian.AppendUint64(buf, h.Time)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(diffBytes)))
	buf = append(buf, diffBytes...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.Extra)))
	buf = append(buf, h.Extra...)
	return buf
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h *Header) MarshalBinary() ([]byte, error) {
	return h.encode(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HashSize+8+8+4 {
		return fmt.Errorf("header too short: %d bytes", len(data))
	}
	copy(h.ParentHash[:], data[:HashSize])
	data = data[HashSize:]
	h.Number = binary.BigEndian.Uint64(data)
	h.Time = binary.BigEndian.Uint64(data[8:])
	data = data[16:]

	diffLen := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint64(len(data)) < uint64(diffLen)+4 {
		return errors.New("header truncated in difficulty")
	}
	h.Difficulty = new(big.Int).SetBytes(data[:diffLen])
	data = data[diffLen:]

	extraLen := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) != extraLen {
		return errors.New("header truncated in extra data")
	}
	if extraLen > 0 {
		h.Extra = append([]byte(nil), data...)
	} else {
		h.Extra = nil
	}
	h.hash = nil
	return nil
}

// Tx is an opaque transaction payload carried in a block body.
type Tx []byte

// Block is a header plus body. TD is the cumulative chain difficulty, filled
// in exactly once by the fork view when the block is handed to the sync
// engine. ToAnnounce marks blocks eligible for a full-payload peer broadcast.
type Block struct {
	Header Header `json:"header"`
	Txs    []Tx   `json:"txs"`

	TD         *big.Int `json:"-"`
	ToAnnounce bool     `json:"-"`
}

// Blocks is a batch of blocks as delivered by the download layer.
type Blocks []*Block

// Hash returns the block's header digest.
func (b *Block) Hash() Hash { return b.Header.Hash() }

// MarshalBinary implements encoding.BinaryMarshaler. TD and ToAnnounce are
// runtime tags and are not part of the persisted encoding.
func (b *Block) MarshalBinary() ([]byte, error) {
	hdr := b.Header.encode()
	buf := make([]byte, 0, 4+len(hdr)+4)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hdr)))
	buf = append(buf, hdr...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx)))
		buf = append(buf, tx...)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (b *Block) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return errors.New("block too short")
	}
	hdrLen := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) < hdrLen {
		return errors.New("block truncated in header")
	}
	if err := b.Header.UnmarshalBinary(data[:hdrLen]); err != nil {
		return err
	}
	data = data[hdrLen:]

	if len(data) < 4 {
		return errors.New("block truncated in tx count")
	}
	numTxs := binary.BigEndian.Uint32(data)
	data = data[4:]
	b.Txs = nil
	for i := uint32(0); i < numTxs; i++ {
		if len(data) < 4 {
			return errors.New("block truncated in tx length")
		}
		txLen := binary.BigEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < txLen {
			return errors.New("block truncated in tx payload")
		}
		b.Txs = append(b.Txs, Tx(append([]byte(nil), data[:txLen]...)))
		data = data[txLen:]
	}
	if len(data) != 0 {
		return errors.New("trailing bytes after block")
	}
	return nil
}
