package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/emberchain/ember/types"
)

func makeChain(t *testing.T, parent types.Hash, start uint64, n int) []*types.Block {
	t.Helper()

	blocks := make([]*types.Block, 0, n)
	for i := 0; i < n; i++ {
		b := &types.Block{
			Header: types.Header{
				ParentHash: parent,
				Number:     start + uint64(i),
				Difficulty: big.NewInt(1),
			},
			Txs: []types.Tx{types.Tx("tx")},
		}
		parent = b.Hash()
		blocks = append(blocks, b)
	}
	return blocks
}

func newStore(t *testing.T) *BlockStore {
	t.Helper()
	return NewBlockStore(dbm.NewMemDB())
}

func TestBlockStoreEmpty(t *testing.T) {
	bs := newStore(t)

	progress, err := bs.Progress()
	require.NoError(t, err)
	assert.EqualValues(t, 0, progress)

	block, err := bs.LoadBlock(types.Hash{0x01})
	require.NoError(t, err)
	assert.Nil(t, block)

	_, ok, err := bs.CanonicalHash(1)
	require.NoError(t, err)
	assert.False(t, ok)

	headers, err := bs.LastHeaders(10)
	require.NoError(t, err)
	assert.Empty(t, headers)

	id, err := bs.ForkChoice()
	require.NoError(t, err)
	assert.True(t, id.Hash.IsZero())
}

func TestBlockStoreSaveLoad(t *testing.T) {
	bs := newStore(t)
	blocks := makeChain(t, types.Hash{}, 1, 5)

	for _, b := range blocks {
		require.NoError(t, bs.SaveBlock(b))
	}

	progress, err := bs.Progress()
	require.NoError(t, err)
	assert.EqualValues(t, 5, progress)

	for _, want := range blocks {
		got, err := bs.LoadBlock(want.Hash())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.Hash(), got.Hash())
		assert.Equal(t, want.Txs, got.Txs)

		byHeight, err := bs.LoadBlockByHeight(want.Header.Number)
		require.NoError(t, err)
		require.NotNil(t, byHeight)
		assert.Equal(t, want.Hash(), byHeight.Hash())

		num, ok, err := bs.BlockNumber(want.Hash())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.Header.Number, num)
	}
}

func TestBlockStoreLastHeaders(t *testing.T) {
	bs := newStore(t)
	blocks := makeChain(t, types.Hash{}, 1, 8)
	for _, b := range blocks {
		require.NoError(t, bs.SaveBlock(b))
	}

	headers, err := bs.LastHeaders(3)
	require.NoError(t, err)
	require.Len(t, headers, 3)
	// oldest first, ending at the current progress
	assert.EqualValues(t, 6, headers[0].Number)
	assert.EqualValues(t, 7, headers[1].Number)
	assert.EqualValues(t, 8, headers[2].Number)

	// asking for more than the store has returns everything
	headers, err = bs.LastHeaders(100)
	require.NoError(t, err)
	require.Len(t, headers, 8)
	assert.EqualValues(t, 1, headers[0].Number)
	assert.EqualValues(t, 8, headers[7].Number)
}

func TestBlockStoreTruncateCanonical(t *testing.T) {
	bs := newStore(t)
	blocks := makeChain(t, types.Hash{}, 1, 6)
	for _, b := range blocks {
		require.NoError(t, bs.SaveBlock(b))
	}

	require.NoError(t, bs.TruncateCanonical(3))

	progress, err := bs.Progress()
	require.NoError(t, err)
	assert.EqualValues(t, 3, progress)

	_, ok, err := bs.CanonicalHash(4)
	require.NoError(t, err)
	assert.False(t, ok)

	// the block itself survives and can rejoin the canonical chain
	orphan := blocks[3]
	got, err := bs.LoadBlock(orphan.Hash())
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, bs.MarkCanonical(orphan.Header.BlockID()))
	progress, err = bs.Progress()
	require.NoError(t, err)
	assert.EqualValues(t, 4, progress)
}

func TestBlockStoreForkChoice(t *testing.T) {
	bs := newStore(t)
	blocks := makeChain(t, types.Hash{}, 1, 2)
	for _, b := range blocks {
		require.NoError(t, bs.SaveBlock(b))
	}

	head := blocks[1].Header.BlockID()
	require.NoError(t, bs.SaveForkChoice(head))

	got, err := bs.ForkChoice()
	require.NoError(t, err)
	assert.Equal(t, head, got)

	// overwriting moves the head
	prev := blocks[0].Header.BlockID()
	require.NoError(t, bs.SaveForkChoice(prev))
	got, err = bs.ForkChoice()
	require.NoError(t, err)
	assert.Equal(t, prev, got)
}
