package execution

import (
	"fmt"

	"github.com/emberchain/ember/types"
)

// MaxExtraSize bounds the free-form extra data carried by a header.
const MaxExtraSize = 32

// RuleSet validates a header against its parent. Parent is nil when the
// header is a chain root.
type RuleSet interface {
	ValidateHeader(header, parent *types.Header) error
}

// DefaultRuleSet applies the structural rules every chain shares: parent
// linkage, strictly increasing height, non-decreasing timestamps and a
// bounded extra field. Consensus-specific seal checks plug in on top of it.
type DefaultRuleSet struct{}

var _ RuleSet = DefaultRuleSet{}

func (DefaultRuleSet) ValidateHeader(header, parent *types.Header) error {
	if err := header.ValidateBasic(); err != nil {
		return err
	}
	if len(header.Extra) > MaxExtraSize {
		return fmt.Errorf("extra data is %d bytes, limit is %d", len(header.Extra), MaxExtraSize)
	}
	if parent == nil {
		if !header.ParentHash.IsZero() {
			return fmt.Errorf("root header %d references unknown parent %v", header.Number, header.ParentHash)
		}
		return nil
	}
	if header.Number != parent.Number+1 {
		return fmt.Errorf("height %d does not follow parent height %d", header.Number, parent.Number)
	}
	if parentHash := parent.Hash(); header.ParentHash != parentHash {
		return fmt.Errorf("parent hash mismatch: header says %v, parent is %v", header.ParentHash, parentHash)
	}
	if header.Time < parent.Time {
		return fmt.Errorf("timestamp %d is before parent timestamp %d", header.Time, parent.Time)
	}
	if header.Difficulty.Sign() == 0 {
		return fmt.Errorf("zero difficulty at height %d", header.Number)
	}
	return nil
}
