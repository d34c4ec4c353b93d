// Package forkview tracks the canonical head over a bounded window of
// recently seen headers, accumulating total difficulty per fork.
package forkview

import (
	"math/big"

	"github.com/emberchain/ember/types"
)

// DefaultWindow bounds the number of headers tracked at once. Reorgs deeper
// than the window cannot be resolved incrementally by this view.
const DefaultWindow = 65536

type entry struct {
	id types.BlockID
	td *big.Int
}

// View computes the canonical head incrementally from a header stream that
// may arrive out of canonical order. It is owned by a single goroutine: the
// sync engine that feeds it.
//
// Total difficulties are relative to the window: a header whose parent is
// unknown starts a new candidate chain whose td is its own difficulty. The
// head only moves when a chain's td strictly exceeds the current head's, so
// on ties the first-seen chain wins.
type View struct {
	head   types.BlockID
	headTD *big.Int

	tds    map[types.Hash]*big.Int
	window []types.Hash // insertion order, for eviction
	limit  int
}

// New returns a View bounding its tracked set to limit headers.
// A non-positive limit falls back to DefaultWindow.
func New(limit int) *View {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return &View{
		headTD: new(big.Int),
		tds:    make(map[types.Hash]*big.Int),
		limit:  limit,
	}
}

// ResetHead discards all tracked state and makes head the new reference
// point with a zero baseline difficulty. Call only before any Add, at
// resume time.
func (v *View) ResetHead(head types.BlockID) {
	v.head = head
	v.headTD = new(big.Int)
	v.tds = make(map[types.Hash]*big.Int)
	v.window = v.window[:0]
	if !head.Hash.IsZero() {
		v.track(head.Hash, new(big.Int))
	}
}

// Add inserts a header, computes its chain's total difficulty and moves the
// head if that total difficulty strictly exceeds the current head's. It
// returns the total difficulty computed for the added header.
func (v *View) Add(h *types.Header) *big.Int {
	td := new(big.Int)
	if parentTD, ok := v.tds[h.ParentHash]; ok {
		td.Add(parentTD, h.Difficulty)
	} else {
		// Unknown parent: the header roots a new candidate chain.
		td.Set(h.Difficulty)
	}

	v.track(h.Hash(), td)

	if td.Cmp(v.headTD) > 0 {
		v.head = h.BlockID()
		v.headTD = td
	}
	return new(big.Int).Set(td)
}

// Head returns the current canonical head.
func (v *View) Head() types.BlockID { return v.head }

// HeadHeight returns the height of the current canonical head.
func (v *View) HeadHeight() uint64 { return v.head.Number }

// HeadHash returns the hash of the current canonical head.
func (v *View) HeadHash() types.Hash { return v.head.Hash }

// HeadTotalDifficulty returns the accumulated total difficulty of the head
// chain, relative to the window baseline.
func (v *View) HeadTotalDifficulty() *big.Int {
	return new(big.Int).Set(v.headTD)
}

func (v *View) track(hash types.Hash, td *big.Int) {
	if _, ok := v.tds[hash]; !ok {
		v.window = append(v.window, hash)
	}
	v.tds[hash] = td

	for len(v.window) > v.limit {
		evicted := v.window[0]
		v.window = v.window[1:]
		delete(v.tds, evicted)
	}
}
