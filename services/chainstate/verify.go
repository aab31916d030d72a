package chainstate

import (
	"bytes"
	"context"
	"math/big"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/tracing"
)

// Verification levels of VerifyChain. Each level includes the checks of the levels below it.
const (
	// VerifyRead reads every block from disk.
	VerifyRead = iota
	// VerifyBlock runs the context-free block checks.
	VerifyBlock
	// VerifyUndo reads the undo data and checks its checksum.
	VerifyUndo
	// VerifyDisconnect disconnects the blocks in memory and checks the coins match them.
	VerifyDisconnect
	// VerifyReconnect reconnects the blocks in memory and compares the result with the tip.
	VerifyReconnect
)

// VerifyChain checks the last depth blocks of the active chain at the given level without
// changing any state. A depth of zero or less checks the whole chain.
func (cs *ChainState) VerifyChain(ctx context.Context, depth int, level int) error {
	if err := cs.requireRunning(); err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.verifyChain(ctx, depth, level)
}

type verifiedBlock struct {
	node  *blockchain.Node
	block *model.Block
}

func (cs *ChainState) verifyChain(ctx context.Context, depth int, level int) (err error) {
	tip := cs.chain.Tip()
	if tip == nil || tip.Height == 0 {
		return nil
	}

	if depth <= 0 || depth > int(tip.Height) {
		depth = int(tip.Height)
	}

	level = max(VerifyRead, min(level, VerifyReconnect))

	ctx, _, deferFn := cs.tracer.Start(ctx, "VerifyChain",
		tracing.WithLogMessage(cs.logger, "[VerifyChain] verifying the last %d blocks at level %d", depth, level),
	)

	defer func() {
		deferFn(err)
	}()

	view := coins.NewCache(cs.coinsTip)
	defer view.Discard()

	defer func() {
		if revertErr := cs.bridge.RevertTo(ctx, tip.StateRoot); revertErr != nil && err == nil {
			err = revertErr
		}
	}()

	var disconnected []verifiedBlock

	for node := tip; node != nil && node.Height > tip.Height-int32(depth); node = cs.index.Parent(node) {
		if ctx.Err() != nil {
			return errors.NewContextCanceledError("chain verification canceled", ctx.Err())
		}

		block, err := cs.stores.BlockFiles.ReadBlock(node.DataPos)
		if err != nil {
			return errors.NewStorageCorruptionError("failed to read block %s at height %d", node.Hash, node.Height, err)
		}

		if *block.Hash() != node.Hash {
			return errors.NewStorageCorruptionError("block at %s is %s, expected %s", node.DataPos, block.Hash(), node.Hash)
		}

		if level >= VerifyBlock {
			if err = cs.blockValidator.CheckBlock(block, true, true); err != nil {
				return errors.NewStorageCorruptionError("block %s at height %d fails its checks", node.Hash, node.Height, err)
			}
		}

		if level >= VerifyUndo && node.Status.HaveUndo() {
			if _, err = cs.stores.BlockFiles.ReadUndo(node.UndoPos, node.Hash); err != nil {
				return errors.NewStorageCorruptionError("failed to read undo data of block %s at height %d", node.Hash, node.Height, err)
			}
		}

		if level >= VerifyDisconnect {
			_, clean, err := cs.disconnectBlock(ctx, block, node, view)
			if err != nil {
				return errors.NewStorageCorruptionError("failed to disconnect block %s at height %d", node.Hash, node.Height, err)
			}

			if !clean {
				return errors.NewStorageCorruptionError("coins do not match block %s at height %d", node.Hash, node.Height)
			}

			disconnected = append(disconnected, verifiedBlock{node: node, block: block})
		}
	}

	if level >= VerifyReconnect {
		for i := len(disconnected) - 1; i >= 0; i-- {
			v := disconnected[i]

			if _, err = cs.connectBlock(ctx, v.block, v.node, view, true); err != nil {
				return errors.NewStorageCorruptionError("failed to reconnect block %s at height %d", v.node.Hash, v.node.Height, err)
			}
		}

		for _, change := range view.Changes() {
			tipCoin, err := cs.coinsTip.GetCoin(change.Outpoint)
			if err != nil {
				return err
			}

			if !sameCoin(change.Coin, tipCoin) {
				return errors.NewStorageCorruptionError("coin %s differs from the tip after reconnecting", change.Outpoint)
			}
		}
	}

	cs.logger.Infof("[VerifyChain] no inconsistencies in the last %d blocks", depth)

	return nil
}

func sameCoin(a, b *model.Coin) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Value == b.Value && a.Height == b.Height && a.IsCoinBase == b.IsCoinBase &&
		a.IsCoinStake == b.IsCoinStake && bytes.Equal(a.PkScript, b.PkScript)
}

// TestBlockValidity runs every check of block on top of the tip, script and contract execution
// included, without storing anything. Block templates pass checkPOW false.
func (cs *ChainState) TestBlockValidity(ctx context.Context, block *model.Block, checkPOW, checkMerkle bool) error {
	if err := cs.requireRunning(); err != nil {
		return err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	tip := cs.chain.Tip()
	header := block.Header
	proofOfStake := block.IsProofOfStake()

	if header.HashPrevBlock == nil || *header.HashPrevBlock != tip.Hash {
		return errors.NewInvalidArgumentError("block %s does not build on the tip %s", block.Hash(), tip.Hash)
	}

	if checkPOW {
		if err := cs.blockValidator.CheckBlockHeader(header, proofOfStake); err != nil {
			return err
		}
	}

	if err := cs.blockValidator.ContextualCheckBlockHeader(header, tip, proofOfStake); err != nil {
		return err
	}

	if err := cs.blockValidator.CheckBlock(block, checkPOW, checkMerkle); err != nil {
		return err
	}

	if err := cs.blockValidator.ContextualCheckBlock(block, tip); err != nil {
		return err
	}

	node := &blockchain.Node{
		ID:           blockchain.NoNode,
		Hash:         *block.Hash(),
		Parent:       tip.ID,
		Height:       tip.Height + 1,
		PrevHash:     tip.Hash,
		Version:      header.Version,
		Timestamp:    header.Timestamp,
		Bits:         header.Bits,
		Nonce:        header.Nonce,
		ChainWork:    new(big.Int),
		DataPos:      model.NullDiskBlockPos,
		UndoPos:      model.NullDiskBlockPos,
		ProofOfStake: proofOfStake,
	}

	if header.HashMerkleRoot != nil {
		node.MerkleRoot = *header.HashMerkleRoot
	}

	if header.HashStateRoot != nil {
		node.StateRoot = *header.HashStateRoot
	}

	view := coins.NewCache(cs.coinsTip)
	defer view.Discard()

	_, err := cs.connectBlock(ctx, block, node, view, true)

	if revertErr := cs.bridge.RevertTo(ctx, tip.StateRoot); revertErr != nil {
		return cs.abort(ctx, revertErr)
	}

	return err
}

// DisconnectBlocksAndReprocess disconnects the last n blocks of the active chain and activates
// the best chain again, which reconnects them unless something better is known.
func (cs *ChainState) DisconnectBlocksAndReprocess(ctx context.Context, n int) error {
	if err := cs.requireRunning(); err != nil {
		return err
	}

	cs.mu.Lock()

	oldTip := cs.chain.Tip()

	for i := 0; i < n && cs.chain.Height() > 0; i++ {
		if err := cs.disconnectTip(ctx); err != nil {
			cs.mu.Unlock()
			return cs.abort(ctx, err)
		}
	}

	if tip := cs.chain.Tip(); tip != oldTip {
		cs.mempool.RemoveForReorg(ctx)
		cs.index.RebuildCandidates(tip)
		cs.updatedTip(ctx, tip, tip)
	}

	cs.mu.Unlock()

	return cs.ActivateBestChain(ctx)
}
