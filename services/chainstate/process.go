package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/tracing"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ProcessNewBlock accepts block from peer into the index and the block files and moves the tip
// to the best chain. A block whose parent is unknown fails with ERR_BLOCK_ORPHAN; the caller
// keeps it until the parent arrives. A block rejected by the checks or when it is connected
// returns the rejection, and peer is reported with its DoS score.
func (cs *ChainState) ProcessNewBlock(ctx context.Context, block *model.Block, peer string) (err error) {
	if err = cs.requireRunning(); err != nil {
		return err
	}

	ctx, _, deferFn := cs.tracer.Start(ctx, "ProcessNewBlock",
		tracing.WithHistogram(prometheusChainStateProcessBlock),
		tracing.WithTag("block", block.Hash().String()),
	)

	defer func() {
		deferFn(err)
	}()

	prometheusChainStateBlockSize.Observe(float64(block.SerializeSize()))

	cs.mu.Lock()
	node, err := cs.acceptBlock(ctx, block)
	cs.mu.Unlock()

	if err != nil {
		cs.reportMisbehavior(peer, err)
		return err
	}

	if err = cs.activateBestChain(ctx, node); err != nil {
		if errors.IsInvalid(err) {
			cs.reportMisbehavior(peer, err)
		}

		return err
	}

	return nil
}

// AcceptBlockHeader checks header and adds it to the block index.
func (cs *ChainState) AcceptBlockHeader(_ context.Context, header *model.BlockHeader, proofOfStake bool) (*blockchain.Node, error) {
	if err := cs.requireRunning(); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.acceptBlockHeader(header, proofOfStake)
}

func (cs *ChainState) acceptBlockHeader(header *model.BlockHeader, proofOfStake bool) (*blockchain.Node, error) {
	hash := *header.Hash()

	if node := cs.index.Lookup(hash); node != nil {
		if node.Status.IsFailed() {
			return node, errors.NewBlockInvalidError(0, errors.RejectDuplicate, "duplicate-invalid", "block %s is marked invalid", hash)
		}

		return node, nil
	}

	if err := cs.blockValidator.CheckBlockHeader(header, proofOfStake); err != nil {
		return nil, err
	}

	if header.HashPrevBlock == nil {
		return nil, errors.NewBlockOrphanError("block %s has no parent", hash)
	}

	prev := cs.index.Lookup(*header.HashPrevBlock)
	if prev == nil {
		return nil, errors.NewBlockOrphanError("previous block %s of %s is unknown", header.HashPrevBlock, hash)
	}

	if prev.Status.IsFailed() {
		return nil, errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-prevblk", "previous block %s is invalid", prev.Hash)
	}

	if err := cs.blockValidator.ContextualCheckBlockHeader(header, prev, proofOfStake); err != nil {
		return nil, err
	}

	return cs.index.AddHeader(header, proofOfStake)
}

// AcceptBlock checks block and stores it, without moving the tip.
func (cs *ChainState) AcceptBlock(ctx context.Context, block *model.Block) (*blockchain.Node, error) {
	if err := cs.requireRunning(); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.acceptBlock(ctx, block)
}

func (cs *ChainState) acceptBlock(ctx context.Context, block *model.Block) (*blockchain.Node, error) {
	node, err := cs.acceptBlockHeader(block.Header, block.IsProofOfStake())
	if err != nil {
		return node, err
	}

	if node.Status.HaveData() {
		return node, nil
	}

	if err = cs.checkBlock(block, cs.index.Parent(node)); err != nil {
		cs.blockFailed(ctx, block, node, err)
		return node, err
	}

	pos, err := cs.stores.BlockFiles.WriteBlock(block, uint32(node.Height))
	if err != nil {
		return node, cs.abort(ctx, err)
	}

	cs.index.SetHaveData(node, uint32(len(block.Transactions)), pos)

	cs.logger.Debugf("[AcceptBlock][%s] stored at height %d, %s", node.Hash, node.Height, pos)

	return node, nil
}

// checkBlock runs the checks that need nothing but the block and its parent's index entry.
func (cs *ChainState) checkBlock(block *model.Block, prev *blockchain.Node) error {
	if err := cs.blockValidator.CheckBlock(block, false, true); err != nil {
		return err
	}

	return cs.blockValidator.ContextualCheckBlock(block, prev)
}

// blockFailed records an invalid block. Blocks that may have been corrupted in transit are not
// marked, so that a good copy can still be accepted.
func (cs *ChainState) blockFailed(ctx context.Context, block *model.Block, node *blockchain.Node, err error) {
	if !errors.IsInvalid(err) {
		return
	}

	reason := "unknown"
	if reject, ok := errors.GetReject(err); ok {
		reason = reject.Reason
	}

	prometheusChainStateInvalid.WithLabelValues(reason).Inc()

	cs.logger.Warnf("[ChainState][%s] invalid block at height %d: %v", node.Hash, node.Height, err)

	if !errors.IsCorruptionPossible(err) {
		cs.index.MarkFailed(node)
	} else {
		cs.index.RemoveCandidate(node)
	}

	cs.notifier.BlockChecked(ctx, block, err)
}

// LookupBlock returns the index entry of hash, or nil.
func (cs *ChainState) LookupBlock(hash chainhash.Hash) *blockchain.Node {
	return cs.index.Lookup(hash)
}

// ReadBlock reads the data of a stored block.
func (cs *ChainState) ReadBlock(hash chainhash.Hash) (*model.Block, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	node := cs.index.Lookup(hash)
	if node == nil {
		return nil, errors.NewBlockNotFoundError("block %s is unknown", hash)
	}

	if !node.Status.HaveData() {
		return nil, errors.NewBlockNotFoundError("block %s has no data", hash)
	}

	return cs.stores.BlockFiles.ReadBlock(node.DataPos)
}
