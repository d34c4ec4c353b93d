package store

import (
	"fmt"
	"math"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/emberchain/ember/types"
)

/*
BlockStore is a simple low level store for chain data.

There are three types of information stored:
 - Block:            the full block, keyed by its header hash
 - Canonical marker: height -> hash for the current canonical chain
 - Fork choice:      the block id the node currently considers its head

The canonical markers can be assumed to be contiguous from 1 up to
Progress(). Blocks that fell off the canonical chain keep their
block entry but lose their marker.
*/
type BlockStore struct {
	db dbm.DB
}

// NewBlockStore returns a new BlockStore backed by the given DB.
func NewBlockStore(db dbm.DB) *BlockStore {
	return &BlockStore{db: db}
}

// SaveBlock persists the block and marks it canonical at its height.
func (bs *BlockStore) SaveBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("cannot save nil block")
	}
	bz, err := block.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	hash := block.Hash()

	batch := bs.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(blockKey(hash), bz); err != nil {
		return err
	}
	if err := batch.Set(canonicalKey(block.Header.Number), hash.Bytes()); err != nil {
		return err
	}
	return batch.WriteSync()
}

// LoadBlock returns the block with the given header hash, or nil if
// the store does not have it.
func (bs *BlockStore) LoadBlock(hash types.Hash) (*types.Block, error) {
	bz, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, nil
	}
	block := new(types.Block)
	if err := block.UnmarshalBinary(bz); err != nil {
		return nil, fmt.Errorf("unmarshal block %v: %w", hash, err)
	}
	return block, nil
}

// LoadBlockByHeight returns the canonical block at the given height,
// or nil if no canonical marker exists there.
func (bs *BlockStore) LoadBlockByHeight(height uint64) (*types.Block, error) {
	hash, ok, err := bs.CanonicalHash(height)
	if err != nil || !ok {
		return nil, err
	}
	return bs.LoadBlock(hash)
}

// CanonicalHash returns the hash of the canonical block at the given height.
func (bs *BlockStore) CanonicalHash(height uint64) (types.Hash, bool, error) {
	bz, err := bs.db.Get(canonicalKey(height))
	if err != nil || bz == nil {
		return types.Hash{}, false, err
	}
	hash, err := types.HashFromBytes(bz)
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("canonical marker at %d: %w", height, err)
	}
	return hash, true, nil
}

// BlockNumber returns the height of the block with the given hash. The
// second return value reports whether the block is known at all.
func (bs *BlockStore) BlockNumber(hash types.Hash) (uint64, bool, error) {
	block, err := bs.LoadBlock(hash)
	if err != nil || block == nil {
		return 0, false, err
	}
	return block.Header.Number, true, nil
}

// Progress returns the highest canonical height, or 0 for an empty store.
func (bs *BlockStore) Progress() (uint64, error) {
	iter, err := bs.db.ReverseIterator(
		canonicalKey(1),
		canonicalKey(math.MaxUint64),
	)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if iter.Valid() {
		return decodeCanonicalKey(iter.Key())
	}
	return 0, iter.Error()
}

// LastHeaders returns up to n canonical headers ending at the current
// progress, ordered from oldest to newest.
func (bs *BlockStore) LastHeaders(n uint64) ([]*types.Header, error) {
	iter, err := bs.db.ReverseIterator(
		canonicalKey(1),
		canonicalKey(math.MaxUint64),
	)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	headers := make([]*types.Header, 0, n)
	for ; iter.Valid() && uint64(len(headers)) < n; iter.Next() {
		hash, err := types.HashFromBytes(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("canonical marker: %w", err)
		}
		block, err := bs.LoadBlock(hash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, fmt.Errorf("canonical block %v missing", hash)
		}
		headers = append(headers, &block.Header)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	// reverse into ascending height order
	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}
	return headers, nil
}

// TruncateCanonical removes every canonical marker above the given
// height. The blocks themselves stay in the store.
func (bs *BlockStore) TruncateCanonical(height uint64) error {
	iter, err := bs.db.Iterator(
		canonicalKey(height+1),
		canonicalKey(math.MaxUint64),
	)
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := bs.db.NewBatch()
	defer batch.Close()

	for ; iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return batch.WriteSync()
}

// MarkCanonical sets the canonical marker at the block's height. It is
// used when a previously stored block re-joins the canonical chain.
func (bs *BlockStore) MarkCanonical(id types.BlockID) error {
	return bs.db.SetSync(canonicalKey(id.Number), id.Hash.Bytes())
}

// SaveForkChoice persists the current fork choice head.
func (bs *BlockStore) SaveForkChoice(id types.BlockID) error {
	value, err := orderedcode.Append(nil, id.Number, string(id.Hash.Bytes()))
	if err != nil {
		return err
	}
	return bs.db.SetSync(forkChoiceKey(), value)
}

// ForkChoice returns the persisted fork choice head. A zero BlockID
// means no fork choice has been recorded yet.
func (bs *BlockStore) ForkChoice() (types.BlockID, error) {
	bz, err := bs.db.Get(forkChoiceKey())
	if err != nil || bz == nil {
		return types.BlockID{}, err
	}
	var (
		number  uint64
		hashStr string
	)
	remaining, err := orderedcode.Parse(string(bz), &number, &hashStr)
	if err != nil {
		return types.BlockID{}, fmt.Errorf("decode fork choice: %w", err)
	}
	if len(remaining) != 0 {
		return types.BlockID{}, fmt.Errorf("expected complete fork choice value but got remainder: %s", remaining)
	}
	hash, err := types.HashFromBytes([]byte(hashStr))
	if err != nil {
		return types.BlockID{}, fmt.Errorf("decode fork choice hash: %w", err)
	}
	return types.BlockID{Number: number, Hash: hash}, nil
}

func (bs *BlockStore) Close() error {
	return bs.db.Close()
}

//---------------------------------- KEY ENCODING -----------------------------------------

const (
	// prefixes are unique across the chain db
	prefixBlock      = int64(0)
	prefixCanonical  = int64(1)
	prefixForkChoice = int64(2)
)

func blockKey(hash types.Hash) []byte {
	key, err := orderedcode.Append(nil, prefixBlock, string(hash.Bytes()))
	if err != nil {
		panic(err)
	}
	return key
}

func canonicalKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixCanonical, height)
	if err != nil {
		panic(err)
	}
	return key
}

func decodeCanonicalKey(key []byte) (height uint64, err error) {
	var prefix int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &height)
	if err != nil {
		return
	}
	if len(remaining) != 0 {
		return 0, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixCanonical {
		return 0, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixCanonical, prefix)
	}
	return
}

func forkChoiceKey() []byte {
	key, err := orderedcode.Append(nil, prefixForkChoice)
	if err != nil {
		panic(err)
	}
	return key
}
