package forkview

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/types"
)

func makeHeader(parent types.Hash, number, difficulty uint64) *types.Header {
	return &types.Header{
		ParentHash: parent,
		Number:     number,
		Difficulty: new(big.Int).SetUint64(difficulty),
	}
}

func TestViewSingleChain(t *testing.T) {
	v := New(0)

	h1 := makeHeader(types.Hash{}, 1, 10)
	td := v.Add(h1)
	assert.Equal(t, int64(10), td.Int64())
	assert.Equal(t, h1.BlockID(), v.Head())

	h2 := makeHeader(h1.Hash(), 2, 5)
	td = v.Add(h2)
	assert.Equal(t, int64(15), td.Int64())
	assert.Equal(t, uint64(2), v.HeadHeight())
	assert.Equal(t, h2.Hash(), v.HeadHash())
	assert.Equal(t, int64(15), v.HeadTotalDifficulty().Int64())
}

func TestViewForkChoiceByTotalDifficulty(t *testing.T) {
	// Three competing roots with difficulties 10, 20, 15 added in that
	// order to an empty view: the 20 chain must win.
	v := New(0)

	b10 := makeHeader(types.Hash{0x01}, 1, 10)
	b20 := makeHeader(types.Hash{0x02}, 1, 20)
	b15 := makeHeader(types.Hash{0x03}, 1, 15)

	v.Add(b10)
	v.Add(b20)
	v.Add(b15)

	assert.Equal(t, b20.BlockID(), v.Head())
	assert.Equal(t, int64(20), v.HeadTotalDifficulty().Int64())
}

func TestViewTieBreakFirstSeenWins(t *testing.T) {
	v := New(0)

	first := makeHeader(types.Hash{0x01}, 1, 10)
	second := makeHeader(types.Hash{0x02}, 1, 10)

	v.Add(first)
	headAfterFirst := v.Head()

	v.Add(second)
	assert.Equal(t, headAfterFirst, v.Head(), "equal td must not displace the head")
}

func TestViewUnknownParentRootsNewChain(t *testing.T) {
	v := New(0)

	h1 := makeHeader(types.Hash{}, 1, 10)
	h2 := makeHeader(h1.Hash(), 2, 10)
	v.Add(h1)
	v.Add(h2)
	require.Equal(t, int64(20), v.HeadTotalDifficulty().Int64())

	// Orphan at a larger height but with unknown ancestry: tracked as a
	// fresh root, its td is only its own difficulty, so the head holds.
	orphan := makeHeader(types.Hash{0xff}, 100, 15)
	td := v.Add(orphan)
	assert.Equal(t, int64(15), td.Int64())
	assert.Equal(t, h2.BlockID(), v.Head())

	// A descendant of the orphan accumulates from the orphan's root td and
	// can take over once it strictly exceeds the head.
	child := makeHeader(orphan.Hash(), 101, 10)
	td = v.Add(child)
	assert.Equal(t, int64(25), td.Int64())
	assert.Equal(t, child.BlockID(), v.Head())
}

func TestViewResetHead(t *testing.T) {
	v := New(0)

	h1 := makeHeader(types.Hash{}, 1, 10)
	v.Add(h1)

	head := types.BlockID{Number: 50, Hash: types.Hash{0xaa}}
	v.ResetHead(head)

	assert.Equal(t, head, v.Head())
	assert.Equal(t, int64(0), v.HeadTotalDifficulty().Int64())

	// Children of the reset head accumulate from the zero baseline.
	child := makeHeader(head.Hash, 51, 7)
	td := v.Add(child)
	assert.Equal(t, int64(7), td.Int64())
	assert.Equal(t, child.BlockID(), v.Head())
}

func TestViewWindowEviction(t *testing.T) {
	v := New(4)

	parent := types.Hash{}
	var headers []*types.Header
	for i := uint64(1); i <= 8; i++ {
		h := makeHeader(parent, i, 1)
		headers = append(headers, h)
		v.Add(h)
		parent = h.Hash()
	}

	// Head tracks the tip even after early headers fall out of the window.
	assert.Equal(t, headers[7].BlockID(), v.Head())

	// A late child of an evicted header is treated as a new root.
	late := makeHeader(headers[0].Hash(), 2, 3)
	td := v.Add(late)
	assert.Equal(t, int64(3), td.Int64())
}
