package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/emberchain/ember/internal/chainsync"
	"github.com/emberchain/ember/internal/store"
	"github.com/emberchain/ember/libs/log"
	"github.com/emberchain/ember/types"
)

// Client is the in-process execution backend. It persists blocks in a
// BlockStore, validates chains against a RuleSet and maintains the
// canonical markers and fork-choice head.
//
// The sync engine issues at most one call at a time, but announcements and
// tooling may read concurrently, so the validated-set bookkeeping is
// protected by a mutex.
type Client struct {
	logger log.Logger
	store  *store.BlockStore
	rules  RuleSet

	mtx       sync.Mutex
	validated map[types.Hash]struct{}
}

var _ chainsync.ExecutionClient = (*Client)(nil)

func NewClient(logger log.Logger, bs *store.BlockStore, rules RuleSet) *Client {
	return &Client{
		logger:    logger,
		store:     bs,
		rules:     rules,
		validated: make(map[types.Hash]struct{}),
	}
}

func (c *Client) LastForkChoice(ctx context.Context) (types.BlockID, error) {
	return c.store.ForkChoice()
}

func (c *Client) BlockProgress(ctx context.Context) (uint64, error) {
	return c.store.Progress()
}

func (c *Client) GetLastHeaders(ctx context.Context, n uint64) ([]*types.Header, error) {
	return c.store.LastHeaders(n)
}

func (c *Client) InsertBlocks(ctx context.Context, blocks types.Blocks) error {
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.store.SaveBlock(block); err != nil {
			return fmt.Errorf("insert block %d: %w", block.Header.Number, err)
		}
	}
	return nil
}

func (c *Client) GetBlockNum(ctx context.Context, hash types.Hash) (uint64, bool, error) {
	return c.store.BlockNumber(hash)
}

// ValidateChain walks the ancestry of head back to the last validated
// block, then verifies the collected segment oldest first. The three
// outcomes map onto the VerifyResult variants: the whole segment passes,
// a header fails the rule set, or an ancestor is missing from the store.
func (c *Client) ValidateChain(ctx context.Context, head types.Hash) (chainsync.VerifyResult, error) {
	forkChoice, err := c.store.ForkChoice()
	if err != nil {
		return nil, err
	}

	// ancestry walk, newest first
	var segment []*types.Block
	var parent *types.Header
	cur := head
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.isValidated(cur) || cur == forkChoice.Hash {
			block, err := c.store.LoadBlock(cur)
			if err != nil {
				return nil, err
			}
			if block == nil {
				return chainsync.ValidationError{
					LatestValidHead: forkChoice.Hash,
					MissingBlock:    cur,
				}, nil
			}
			parent = &block.Header
			break
		}
		block, err := c.store.LoadBlock(cur)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return chainsync.ValidationError{
				LatestValidHead: forkChoice.Hash,
				MissingBlock:    cur,
			}, nil
		}
		segment = append(segment, block)
		if block.Header.ParentHash.IsZero() {
			break
		}
		cur = block.Header.ParentHash
	}

	// verify oldest first
	for i := len(segment) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block := segment[i]
		if err := c.rules.ValidateHeader(&block.Header, parent); err != nil {
			badBlock := block.Hash()
			badHeaders := make(map[types.Hash]struct{}, i+1)
			for j := i; j >= 0; j-- {
				badHeaders[segment[j].Hash()] = struct{}{}
			}
			latestValid := types.Hash{}
			if parent != nil {
				latestValid = parent.Hash()
			}
			c.logger.Info("chain segment rejected",
				"head", head,
				"bad_block", badBlock,
				"height", block.Header.Number,
				"err", err)
			return chainsync.InvalidChain{
				LatestValidHead: latestValid,
				BadBlock:        &badBlock,
				BadHeaders:      badHeaders,
			}, nil
		}
		parent = &block.Header
	}

	c.markValidated(segment)
	return chainsync.ValidChain{CurrentHead: head}, nil
}

// UpdateForkChoice makes the chain ending at head canonical. Canonical
// markers above the head are dropped; markers along the new branch are
// rewritten down to the fork point.
func (c *Client) UpdateForkChoice(ctx context.Context, head types.Hash) error {
	block, err := c.store.LoadBlock(head)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("fork choice head %v not in store", head)
	}

	if err := c.store.TruncateCanonical(block.Header.Number); err != nil {
		return err
	}

	// rewrite markers along the new branch until it rejoins the old one
	cur := block
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := cur.Header.BlockID()
		existing, ok, err := c.store.CanonicalHash(id.Number)
		if err != nil {
			return err
		}
		if ok && existing == id.Hash {
			break
		}
		if err := c.store.MarkCanonical(id); err != nil {
			return err
		}
		if cur.Header.ParentHash.IsZero() {
			break
		}
		cur, err = c.store.LoadBlock(cur.Header.ParentHash)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("canonical branch broken below %v", id)
		}
	}

	c.logger.Debug("fork choice updated", "head", block.Header.BlockID())
	return c.store.SaveForkChoice(block.Header.BlockID())
}

func (c *Client) isValidated(hash types.Hash) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.validated[hash]
	return ok
}

func (c *Client) markValidated(segment []*types.Block) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, block := range segment {
		c.validated[block.Hash()] = struct{}{}
	}
}
