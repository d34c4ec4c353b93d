package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emberchain/ember/config"
	"github.com/emberchain/ember/internal/forkview"
	"github.com/emberchain/ember/libs/log"
	"github.com/emberchain/ember/libs/service"
	"github.com/emberchain/ember/types"
)

var (
	// ErrInvariantViolation marks a consensus invariant fault. It is fatal:
	// the run aborts and is never silently corrected.
	ErrInvariantViolation = errors.New("consensus invariant violation")

	// ErrValidationFailed marks a backend that could not complete chain
	// verification. Fatal to the current run; the supervisor decides
	// whether to restart the engine.
	ErrValidationFailed = errors.New("chain validation could not complete")
)

func ensureInvariant(condition bool, format string, args ...interface{}) error {
	if !condition {
		return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
	}
	return nil
}

// Engine drives forward sync: it resumes from saved state, downloads and
// persists new blocks, submits chains for validation, unwinds on rejection
// and emits peer announcements. It runs a single goroutine; see the package
// doc for the concurrency contract.
type Engine struct {
	service.BaseService
	logger log.Logger

	cfg      *config.SyncConfig
	exchange BlockExchange
	exec     ExecutionClient
	forkView *forkview.View
	metrics  *Metrics

	// owned by the engine goroutine, exported to the download layer only
	// via BadHeadersUpdate messages
	badHeaders map[types.Hash]struct{}

	firstSync bool

	errMtx sync.Mutex
	runErr error
}

// NewEngine returns an unstarted sync engine. The fork view is created
// empty: the execution client cannot be queried for a canonical head until
// the engine runs.
func NewEngine(
	logger log.Logger,
	cfg *config.SyncConfig,
	exchange BlockExchange,
	exec ExecutionClient,
	metrics *Metrics,
) *Engine {
	e := &Engine{
		logger:     logger,
		cfg:        cfg,
		exchange:   exchange,
		exec:       exec,
		forkView:   forkview.New(cfg.ForkViewWindow),
		metrics:    metrics,
		badHeaders: make(map[types.Hash]struct{}),
		firstSync:  true,
	}
	e.BaseService = *service.NewBaseService(logger, "SyncEngine", e)
	return e
}

// OnStart spawns the execution loop. A fatal loop error stops the service
// and is retained for Err.
func (e *Engine) OnStart(ctx context.Context) error {
	go func() {
		err := e.executionLoop(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("sync engine terminated", "err", err)
			e.errMtx.Lock()
			e.runErr = err
			e.errMtx.Unlock()
		}
		_ = e.Stop()
	}()
	return nil
}

// OnStop signals the download layer; the loop itself exits via its context.
func (e *Engine) OnStop() {
	e.exchange.StopDownloading()
}

// Err returns the fatal error that terminated the execution loop, if any.
func (e *Engine) Err() error {
	e.errMtx.Lock()
	defer e.errMtx.Unlock()
	return e.runErr
}

// resume finds the point where the previous run left off. Fast path: when
// block progress equals the fork-choice head height, DB and canonical head
// agree and the head is returned as is. Otherwise the most recent persisted
// headers are replayed through the fork view to recompute the head.
func (e *Engine) resume(ctx context.Context) (types.NewHeight, error) {
	head, err := e.exec.LastForkChoice(ctx)
	if err != nil {
		return types.NewHeight{}, fmt.Errorf("reading last fork choice: %w", err)
	}
	blockProgress, err := e.exec.BlockProgress(ctx)
	if err != nil {
		return types.NewHeight{}, fmt.Errorf("reading block progress: %w", err)
	}

	e.forkView.ResetHead(head)

	if err := ensureInvariant(head.Number <= blockProgress,
		"canonical head %d beyond block progress %d", head.Number, blockProgress); err != nil {
		return types.NewHeight{}, err
	}

	if blockProgress == head.Number {
		return head, nil
	}

	prevHeaders, err := e.exec.GetLastHeaders(ctx, e.cfg.ResumeHeaderWindow)
	if err != nil {
		return types.NewHeight{}, fmt.Errorf("reading last headers: %w", err)
	}
	for _, header := range prevHeaders {
		e.forkView.Add(header)
	}

	return e.forkView.Head(), nil
}

// forwardAndInsertBlocks is the steady-state pass: it starts the download
// from the current block progress, consumes batches from the result queue,
// feeds headers through the fork view, persists each batch and announces
// the blocks flagged for broadcast. It returns the fork view's head when
// either the context is canceled or the exchange reports it caught up and
// local progress matches its height.
func (e *Engine) forwardAndInsertBlocks(ctx context.Context) (types.NewHeight, error) {
	queue := e.exchange.ResultQueue()

	initialProgress, err := e.exec.BlockProgress(ctx)
	if err != nil {
		return types.NewHeight{}, fmt.Errorf("reading block progress: %w", err)
	}
	blockProgress := initialProgress

	e.exchange.DownloadBlocks(initialProgress, TrackByAnnouncements)
	e.metrics.Syncing.Set(1)
	defer e.metrics.Syncing.Set(0)

	e.logger.Info("waiting for blocks", "from", initialProgress)

	for ctx.Err() == nil &&
		!(e.exchange.InSync() && blockProgress == e.exchange.CurrentHeight()) {
		blocks, ok := queue.PopWait(e.cfg.PollInterval)
		if !ok {
			continue
		}

		var announcements types.Blocks

		// apply the fork choice rule header by header
		for _, block := range blocks {
			block.TD = e.forkView.Add(&block.Header)
			if block.Header.Number > blockProgress {
				blockProgress = block.Header.Number
			}
			if block.ToAnnounce {
				announcements = append(announcements, block)
			}
		}

		if err := e.exec.InsertBlocks(ctx, blocks); err != nil {
			return types.NewHeight{}, fmt.Errorf("inserting blocks: %w", err)
		}

		// per eth/67 full-block announcements go out here, after simple
		// header verification and persistence
		e.sendNewBlockAnnouncements(announcements)

		e.metrics.DownloadedBlocks.Add(float64(len(blocks)))
		e.metrics.BlockProgress.Set(float64(blockProgress))
		e.metrics.HeadHeight.Set(float64(e.forkView.HeadHeight()))
		e.logger.Info("downloading progress",
			"blocks", len(blocks),
			"last", blockProgress,
			"head", e.forkView.HeadHeight())
	}

	e.exchange.StopDownloading()

	e.logger.Info("downloading completed",
		"last", blockProgress,
		"head", e.forkView.HeadHeight())

	return types.NewHeight{Number: e.forkView.HeadHeight(), Hash: e.forkView.HeadHash()}, nil
}

// unwind is the rollback hook invoked when validation rejects a chain. The
// actual state rollback happens in the execution backend when the fork
// choice moves to the latest valid head, so there is nothing to do here
// beyond reporting.
func (e *Engine) unwind(point types.UnwindPoint, badBlock *types.Hash) {
	if badBlock != nil {
		e.logger.Info("unwinding", "to", point.Number, "bad_block", badBlock)
		return
	}
	e.logger.Info("unwinding", "to", point.Number)
}

// Run drives the engine to completion without the service wrapper. It is
// the exported form of the execution loop for callers that supervise the
// goroutine themselves.
func (e *Engine) Run(ctx context.Context) error {
	return e.executionLoop(ctx)
}

func (e *Engine) executionLoop(ctx context.Context) error {
	isStartingUp := true

	// the exchange needs a starting point to download from
	lastHeaders, err := e.exec.GetLastHeaders(ctx, e.cfg.InitialHeaderWindow)
	if err != nil {
		return fmt.Errorf("priming exchange state: %w", err)
	}
	e.exchange.InitialState(lastHeaders)

	for ctx.Err() == nil {
		var newHeight types.NewHeight
		if isStartingUp {
			// resuming; the validate call below re-checks all stages
			newHeight, err = e.resume(ctx)
		} else {
			newHeight, err = e.forwardAndInsertBlocks(ctx)
		}
		if err != nil {
			return err
		}
		if newHeight.Number == 0 {
			// empty database: no chain to verify yet, keep downloading
			isStartingUp = false
			continue
		}

		e.logger.Info("verifying chain", "head", newHeight.Number)
		verification, err := e.exec.ValidateChain(ctx, newHeight.Hash)
		if err != nil {
			return fmt.Errorf("validating chain: %w", err)
		}

		switch result := verification.(type) {
		case ValidChain:
			if err := e.handleValidChain(ctx, result, newHeight); err != nil {
				return err
			}

		case InvalidChain:
			if err := e.handleInvalidChain(ctx, result); err != nil {
				return err
			}

		case ValidationError:
			return fmt.Errorf("%w: last point %s, missing block %s",
				ErrValidationFailed, result.LatestValidHead, result.MissingBlock)

		default:
			return fmt.Errorf("%w: unknown verification result %T", ErrValidationFailed, verification)
		}

		e.firstSync = isStartingUp
		isStartingUp = false
	}

	return ctx.Err()
}

func (e *Engine) handleValidChain(ctx context.Context, result ValidChain, newHeight types.NewHeight) error {
	e.logger.Info("valid chain", "new_head", newHeight.Number)
	e.metrics.ValidChains.Add(1)

	if err := ensureInvariant(result.CurrentHead == newHeight.Hash,
		"validate chain returned head %s, expected %s", result.CurrentHead, newHeight.Hash); err != nil {
		return err
	}

	e.logger.Info("notifying fork choice update", "new_head", newHeight.Number)
	if err := e.exec.UpdateForkChoice(ctx, newHeight.Hash); err != nil {
		return fmt.Errorf("updating fork choice: %w", err)
	}

	// per eth/67 hash announcements go out only after full verification
	e.sendNewBlockHashAnnouncements(newHeight)

	return nil
}

func (e *Engine) handleInvalidChain(ctx context.Context, result InvalidChain) error {
	e.metrics.InvalidChains.Add(1)

	latestValidHeight, found, err := e.exec.GetBlockNum(ctx, result.LatestValidHead)
	if err != nil {
		return fmt.Errorf("resolving latest valid head: %w", err)
	}
	if err := ensureInvariant(found,
		"latest valid head %s not resolvable", result.LatestValidHead); err != nil {
		return err
	}

	e.logger.Info("invalid chain", "unwinding_to", latestValidHeight)

	e.unwind(types.UnwindPoint{Number: latestValidHeight, Hash: result.LatestValidHead}, result.BadBlock)

	if len(result.BadHeaders) > 0 {
		e.updateBadHeaders(result.BadHeaders)
	}

	e.logger.Info("notifying fork choice update", "head", result.LatestValidHead)
	if err := e.exec.UpdateForkChoice(ctx, result.LatestValidHead); err != nil {
		return fmt.Errorf("updating fork choice: %w", err)
	}

	return nil
}

// updateBadHeaders merges newly rejected headers into the engine's set and
// exports a copy to the download layer so it stops re-fetching them.
func (e *Engine) updateBadHeaders(badHeaders map[types.Hash]struct{}) {
	for hash := range badHeaders {
		e.badHeaders[hash] = struct{}{}
	}
	e.metrics.BadHeaders.Set(float64(len(e.badHeaders)))

	update := make(map[types.Hash]struct{}, len(e.badHeaders))
	for hash := range e.badHeaders {
		update[hash] = struct{}{}
	}
	e.exchange.Accept(BadHeadersUpdate{BadHeaders: update})
}

// BadHeaders reports whether a hash is in the engine's bad-headers set.
// Only safe to call from the engine goroutine or after the engine stopped.
func (e *Engine) BadHeaders() map[types.Hash]struct{} {
	return e.badHeaders
}

func (e *Engine) sendNewBlockAnnouncements(blocks types.Blocks) {
	if len(blocks) == 0 {
		return
	}
	e.exchange.Accept(OutboundNewBlock{Blocks: blocks, FirstSync: e.firstSync})
}

func (e *Engine) sendNewBlockHashAnnouncements(head types.NewHeight) {
	e.exchange.Accept(OutboundNewBlockHashes{
		Hashes:    []types.BlockID{head},
		FirstSync: e.firstSync,
	})
}
