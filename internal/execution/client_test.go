package execution

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/emberchain/ember/internal/chainsync"
	"github.com/emberchain/ember/internal/store"
	"github.com/emberchain/ember/libs/log"
	"github.com/emberchain/ember/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	bs := store.NewBlockStore(dbm.NewMemDB())
	return NewClient(log.NewTestingLogger(t), bs, DefaultRuleSet{})
}

// makeChain builds n linked blocks starting at the given height. The
// optional mutate hook runs before each header is sealed, so tests can
// plant rule violations or fork markers.
func makeChain(t *testing.T, parent types.Hash, start uint64, n int, mutate func(i int, h *types.Header)) types.Blocks {
	t.Helper()

	blocks := make(types.Blocks, 0, n)
	for i := 0; i < n; i++ {
		b := &types.Block{Header: types.Header{
			ParentHash: parent,
			Number:     start + uint64(i),
			Difficulty: big.NewInt(1),
			Time:       1000 + start + uint64(i),
		}}
		if mutate != nil {
			mutate(i, &b.Header)
		}
		parent = b.Hash()
		blocks = append(blocks, b)
	}
	return blocks
}

func TestClientValidateChainValid(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	blocks := makeChain(t, types.Hash{}, 1, 5, nil)
	require.NoError(t, c.InsertBlocks(ctx, blocks))

	result, err := c.ValidateChain(ctx, blocks[4].Hash())
	require.NoError(t, err)
	valid, ok := result.(chainsync.ValidChain)
	require.True(t, ok, "expected ValidChain, got %T", result)
	assert.Equal(t, blocks[4].Hash(), valid.CurrentHead)

	// extending past an already verified head only verifies the new part
	more := makeChain(t, blocks[4].Hash(), 6, 2, nil)
	require.NoError(t, c.InsertBlocks(ctx, more))

	result, err = c.ValidateChain(ctx, more[1].Hash())
	require.NoError(t, err)
	valid, ok = result.(chainsync.ValidChain)
	require.True(t, ok, "expected ValidChain, got %T", result)
	assert.Equal(t, more[1].Hash(), valid.CurrentHead)
}

func TestClientValidateChainInvalid(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	blocks := makeChain(t, types.Hash{}, 1, 5, func(i int, h *types.Header) {
		if i == 2 {
			h.Difficulty = big.NewInt(0)
		}
	})
	require.NoError(t, c.InsertBlocks(ctx, blocks))

	result, err := c.ValidateChain(ctx, blocks[4].Hash())
	require.NoError(t, err)
	invalid, ok := result.(chainsync.InvalidChain)
	require.True(t, ok, "expected InvalidChain, got %T", result)

	assert.Equal(t, blocks[1].Hash(), invalid.LatestValidHead)
	require.NotNil(t, invalid.BadBlock)
	assert.Equal(t, blocks[2].Hash(), *invalid.BadBlock)
	assert.Contains(t, invalid.BadHeaders, blocks[2].Hash())
	assert.Contains(t, invalid.BadHeaders, blocks[3].Hash())
	assert.Contains(t, invalid.BadHeaders, blocks[4].Hash())
	assert.NotContains(t, invalid.BadHeaders, blocks[1].Hash())
}

func TestClientValidateChainMissingBlock(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	blocks := makeChain(t, types.Hash{}, 1, 5, nil)
	// leave a hole in the middle of the ancestry
	require.NoError(t, c.InsertBlocks(ctx, types.Blocks{blocks[0], blocks[1], blocks[3], blocks[4]}))

	result, err := c.ValidateChain(ctx, blocks[4].Hash())
	require.NoError(t, err)
	verr, ok := result.(chainsync.ValidationError)
	require.True(t, ok, "expected ValidationError, got %T", result)
	assert.Equal(t, blocks[2].Hash(), verr.MissingBlock)
}

func TestClientUpdateForkChoiceReorg(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	main := makeChain(t, types.Hash{}, 1, 5, nil)
	require.NoError(t, c.InsertBlocks(ctx, main))
	require.NoError(t, c.UpdateForkChoice(ctx, main[4].Hash()))

	// fork off height 2 with a longer branch
	fork := makeChain(t, main[1].Hash(), 3, 4, func(i int, h *types.Header) {
		h.Extra = []byte{0xff}
	})
	require.NoError(t, c.InsertBlocks(ctx, fork))
	require.NoError(t, c.UpdateForkChoice(ctx, fork[3].Hash()))

	head, err := c.LastForkChoice(ctx)
	require.NoError(t, err)
	assert.Equal(t, fork[3].Header.BlockID(), head)

	for i, b := range fork {
		hash, ok, err := c.store.CanonicalHash(3 + uint64(i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b.Hash(), hash)
	}
	// the common prefix is untouched
	hash, ok, err := c.store.CanonicalHash(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, main[1].Hash(), hash)

	// switching back re-marks the original branch and drops the surplus
	require.NoError(t, c.UpdateForkChoice(ctx, main[4].Hash()))
	for i, b := range main {
		hash, ok, err := c.store.CanonicalHash(1 + uint64(i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b.Hash(), hash)
	}
	_, ok, err = c.store.CanonicalHash(6)
	require.NoError(t, err)
	assert.False(t, ok)

	progress, err := c.BlockProgress(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, progress)
}

func TestClientHeadersAndLookups(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	blocks := makeChain(t, types.Hash{}, 1, 4, nil)
	require.NoError(t, c.InsertBlocks(ctx, blocks))

	headers, err := c.GetLastHeaders(ctx, 2)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.EqualValues(t, 3, headers[0].Number)
	assert.EqualValues(t, 4, headers[1].Number)

	num, found, err := c.GetBlockNum(ctx, blocks[2].Hash())
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 3, num)

	_, found, err = c.GetBlockNum(ctx, types.Hash{0xde, 0xad})
	require.NoError(t, err)
	assert.False(t, found)

	id, err := c.LastForkChoice(ctx)
	require.NoError(t, err)
	assert.True(t, id.Hash.IsZero())
}

func TestDefaultRuleSet(t *testing.T) {
	parent := &types.Header{Number: 1, Difficulty: big.NewInt(1), Time: 100}
	parentHash := parent.Hash()

	cases := []struct {
		name   string
		header types.Header
		wantOK bool
	}{
		{"valid child", types.Header{ParentHash: parentHash, Number: 2, Difficulty: big.NewInt(1), Time: 100}, true},
		{"height gap", types.Header{ParentHash: parentHash, Number: 3, Difficulty: big.NewInt(1), Time: 100}, false},
		{"wrong parent", types.Header{ParentHash: types.Hash{0x01}, Number: 2, Difficulty: big.NewInt(1), Time: 100}, false},
		{"time regression", types.Header{ParentHash: parentHash, Number: 2, Difficulty: big.NewInt(1), Time: 99}, false},
		{"zero difficulty", types.Header{ParentHash: parentHash, Number: 2, Difficulty: big.NewInt(0), Time: 100}, false},
		{"oversized extra", types.Header{ParentHash: parentHash, Number: 2, Difficulty: big.NewInt(1), Time: 100, Extra: make([]byte, MaxExtraSize+1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DefaultRuleSet{}.ValidateHeader(&tc.header, parent)
			if tc.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	// roots carry no parent linkage
	root := &types.Header{Number: 1, Difficulty: big.NewInt(1)}
	assert.NoError(t, DefaultRuleSet{}.ValidateHeader(root, nil))
	linked := &types.Header{ParentHash: types.Hash{0x02}, Number: 1, Difficulty: big.NewInt(1)}
	assert.Error(t, DefaultRuleSet{}.ValidateHeader(linked, nil))
}
