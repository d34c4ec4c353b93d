package chainsync

import (
	"context"

	"github.com/emberchain/ember/types"
)

// ExecutionClient is the execution/validation backend the engine drives.
// Calls block until the backend answers; the engine issues at most one call
// at a time.
type ExecutionClient interface {
	// LastForkChoice returns the head selected by the last fork-choice
	// update, or a zero BlockID for an empty database.
	LastForkChoice(ctx context.Context) (types.BlockID, error)

	// BlockProgress returns the height of the highest persisted block,
	// independent of which chain is canonical.
	BlockProgress(ctx context.Context) (uint64, error)

	// GetLastHeaders returns up to n of the most recently persisted
	// headers, ordered oldest first so they can be replayed through the
	// fork view.
	GetLastHeaders(ctx context.Context, n uint64) ([]*types.Header, error)

	// InsertBlocks persists a batch of blocks. Ownership of the blocks
	// transfers to the backend.
	InsertBlocks(ctx context.Context, blocks types.Blocks) error

	// ValidateChain verifies the chain ending at head. It may take an
	// arbitrary amount of time.
	ValidateChain(ctx context.Context, head types.Hash) (VerifyResult, error)

	// UpdateForkChoice makes the chain ending at head canonical,
	// discarding canonical state above the fork point.
	UpdateForkChoice(ctx context.Context, head types.Hash) error

	// GetBlockNum resolves a block hash to its height, reporting whether
	// the hash is known.
	GetBlockNum(ctx context.Context, hash types.Hash) (uint64, bool, error)
}

// TargetTracking selects how the exchange decides which heights to download.
type TargetTracking int

const (
	// TrackByAnnouncements extends the download target as peers announce
	// new blocks.
	TrackByAnnouncements TargetTracking = iota
	// TrackNone downloads only up to the target known at start time.
	TrackNone
)

// BlockExchange is the download driver the engine consumes. Downloaded
// batches surface on the result queue; everything else is control surface.
type BlockExchange interface {
	// InitialState primes the exchange with recently persisted headers so
	// it has a starting point to download from.
	InitialState(headers []*types.Header)

	// DownloadBlocks starts downloading forward of the given height.
	DownloadBlocks(fromHeight uint64, target TargetTracking)

	// ResultQueue returns the queue downloaded batches are delivered on.
	ResultQueue() *ResultQueue

	// InSync reports whether the exchange has delivered everything its
	// peers advertise.
	InSync() bool

	// CurrentHeight returns the exchange's view of the chain tip height.
	CurrentHeight() uint64

	// StopDownloading halts the download scheduler.
	StopDownloading()

	// Accept hands a one-way message to the download/peer layer: bad
	// header updates and outbound announcements. It must not block the
	// caller and no reply is expected.
	Accept(msg Message)
}
