package chainsync

import (
	"github.com/emberchain/ember/types"
)

// VerifyResult is the outcome of a full chain validation. Exactly one of
// ValidChain, InvalidChain or ValidationError is produced per call; callers
// must switch over all three.
type VerifyResult interface {
	isVerifyResult()
}

// ValidChain reports that the whole chain up to CurrentHead verified.
type ValidChain struct {
	CurrentHead types.Hash
}

// InvalidChain reports a rejected chain segment. LatestValidHead is the
// deepest ancestor that still verified; BadBlock, if set, is the block that
// failed; BadHeaders collects every header known to belong to the rejected
// segment.
type InvalidChain struct {
	LatestValidHead types.Hash
	BadBlock        *types.Hash
	BadHeaders      map[types.Hash]struct{}
}

// ValidationError reports that the backend could not complete verification,
// typically because block data needed to decide is missing. It is fatal to
// the current run.
type ValidationError struct {
	LatestValidHead types.Hash
	MissingBlock    types.Hash
}

func (ValidChain) isVerifyResult()      {}
func (InvalidChain) isVerifyResult()    {}
func (ValidationError) isVerifyResult() {}
