package chainsync

import (
	"github.com/emberchain/ember/types"
)

// Message is a one-way, fire-and-forget payload pushed into the download
// and peer layer via BlockExchange.Accept.
type Message interface {
	isMessage()
}

// OutboundNewBlock asks the peer layer to broadcast full block payloads.
// Per protocol ordering rules it is only sent after the blocks passed
// header-level acceptance and were persisted locally. FirstSync marks the
// node's first-ever sync, which gates announcement verbosity.
type OutboundNewBlock struct {
	Blocks    types.Blocks
	FirstSync bool
}

// OutboundNewBlockHashes asks the peer layer to advertise block hashes.
// It is the lightweight announcement allowed only after full verification.
type OutboundNewBlockHashes struct {
	Hashes    []types.BlockID
	FirstSync bool
}

// BadHeadersUpdate exports newly discovered bad headers to the download
// layer so it stops re-fetching them. The receiver must treat the set as
// read-only; the engine remains its single writer.
type BadHeadersUpdate struct {
	BadHeaders map[types.Hash]struct{}
}

func (OutboundNewBlock) isMessage()       {}
func (OutboundNewBlockHashes) isMessage() {}
func (BadHeadersUpdate) isMessage()       {}
