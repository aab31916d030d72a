package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InvalidateBlock marks the block hash and its descendants failed, disconnects them if they are
// in the active chain and activates the best remaining chain.
func (cs *ChainState) InvalidateBlock(ctx context.Context, hash chainhash.Hash) error {
	if err := cs.requireRunning(); err != nil {
		return err
	}

	cs.mu.Lock()

	node := cs.index.Lookup(hash)
	if node == nil {
		cs.mu.Unlock()
		return errors.NewBlockNotFoundError("block %s is unknown", hash)
	}

	if node.Height == 0 {
		cs.mu.Unlock()
		return errors.NewInvalidArgumentError("the genesis block cannot be invalidated")
	}

	cs.logger.Infof("[InvalidateBlock] invalidating %s at height %d", hash, node.Height)

	cs.index.MarkFailed(node)

	disconnected := 0

	for cs.chain.Contains(node) {
		if err := cs.disconnectTip(ctx); err != nil {
			cs.mu.Unlock()
			return cs.abort(ctx, err)
		}

		disconnected++
	}

	tip := cs.chain.Tip()

	if disconnected > 0 {
		cs.mempool.RemoveForReorg(ctx)
		cs.updatedTip(ctx, tip, tip)
	}

	cs.index.RebuildCandidates(tip)

	cs.mu.Unlock()

	return cs.ActivateBestChain(ctx)
}

// ReconsiderBlock clears the failed flags of the block hash, its descendants and its ancestors
// and activates the best chain, which may now include them.
func (cs *ChainState) ReconsiderBlock(ctx context.Context, hash chainhash.Hash) error {
	if err := cs.requireRunning(); err != nil {
		return err
	}

	cs.mu.Lock()

	node := cs.index.Lookup(hash)
	if node == nil {
		cs.mu.Unlock()
		return errors.NewBlockNotFoundError("block %s is unknown", hash)
	}

	cs.logger.Infof("[ReconsiderBlock] reconsidering %s at height %d", hash, node.Height)

	cs.index.ClearFailed(node)
	cs.index.RebuildCandidates(cs.chain.Tip())

	cs.mu.Unlock()

	return cs.ActivateBestChain(ctx)
}
