package chainstate

import (
	"context"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/mempool"
	"github.com/bsv-blockchain/chainstate/services/notifier"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/tracing"
)

// ActivateBestChain moves the tip to the best valid chain the index has data for. A block that
// fails to connect is marked failed together with its descendants and the search resumes
// without it. Local faults abort the chain state.
func (cs *ChainState) ActivateBestChain(ctx context.Context) error {
	return cs.activateBestChain(ctx, nil)
}

// activation tracks the block a caller asked to process while the best chain is activated.
type activation struct {
	watch *blockchain.Node

	// rejected is the connect failure of watch, if it failed
	rejected error
}

// activateBestChain is ActivateBestChain returning the rejection of watch when watch fails to
// connect. The search still moves on to the best remaining chain before it returns.
func (cs *ChainState) activateBestChain(ctx context.Context, watch *blockchain.Node) (err error) {
	if err = cs.requireRunning(); err != nil {
		return err
	}

	ctx, _, deferFn := cs.tracer.Start(ctx, "ActivateBestChain")

	defer func() {
		deferFn(err)
	}()

	act := &activation{watch: watch}

	for {
		if ctx.Err() != nil {
			return errors.NewContextCanceledError("chain activation canceled", ctx.Err())
		}

		cs.mu.Lock()
		done, stepErr := cs.activateBestChainStep(ctx, act)
		cs.mu.Unlock()

		if stepErr != nil {
			return stepErr
		}

		if done {
			return act.rejected
		}
	}
}

// activateBestChainStep moves the tip once towards the best candidate. It reports true when the
// tip is already the best candidate.
func (cs *ChainState) activateBestChainStep(ctx context.Context, act *activation) (bool, error) {
	oldTip := cs.chain.Tip()

	best := cs.index.FindBestCandidate()
	if best == nil || (oldTip != nil && (best.ID == oldTip.ID || !best.BetterThan(oldTip))) {
		return true, nil
	}

	fork := cs.chain.FindFork(best)

	var disconnected, connected int

	for tip := cs.chain.Tip(); tip != nil && (fork == nil || tip.ID != fork.ID); tip = cs.chain.Tip() {
		if err := cs.disconnectTip(ctx); err != nil {
			return false, cs.abort(ctx, err)
		}

		disconnected++
	}

	for _, node := range cs.branch(fork, best) {
		if err := cs.connectTip(ctx, node, nil); err != nil {
			if errors.IsInvalid(err) {
				// the failure is already recorded; the next step picks another candidate
				if act.watch != nil && node.ID == act.watch.ID {
					act.rejected = err
				}

				break
			}

			return false, cs.abort(ctx, err)
		}

		connected++
	}

	if disconnected > 0 {
		cs.mempool.RemoveForReorg(ctx)
		prometheusChainStateReorgDepth.Observe(float64(disconnected))

		cs.logger.Warnf("[ActivateBestChain] reorganized %d blocks at fork %s", disconnected, fork)
	}

	tip := cs.chain.Tip()
	if tip == oldTip {
		return false, nil
	}

	cs.index.PruneCandidates(tip)
	cs.updatedTip(ctx, tip, fork)

	cs.logger.Infof("[ActivateBestChain] new tip %s at height %d, disconnected %d, connected %d", tip.Hash, tip.Height, disconnected, connected)

	if err := cs.flushStateToDisk(ctx, FlushPeriodic); err != nil {
		return false, cs.abort(ctx, err)
	}

	return false, nil
}

// branch returns the nodes after fork up to and including to, in chain order.
func (cs *ChainState) branch(fork, to *blockchain.Node) []*blockchain.Node {
	forkHeight := int32(-1)
	if fork != nil {
		forkHeight = fork.Height
	}

	nodes := make([]*blockchain.Node, 0, to.Height-forkHeight)
	for n := to; n != nil && n.Height > forkHeight; n = cs.index.Parent(n) {
		nodes = append(nodes, n)
	}

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}

	return nodes
}

// updatedTip announces a tip change and wakes the WaitForTip callers.
func (cs *ChainState) updatedTip(ctx context.Context, tip, fork *blockchain.Node) {
	forkHash := tip.PrevHash
	if fork != nil {
		forkHash = fork.Hash
	}

	prometheusChainStateHeight.Set(float64(tip.Height))

	cs.notifier.UpdatedBlockTip(ctx, tip.Hash, tip.Height, forkHash, cs.isInitialBlockDownload())
	cs.signalTip()
}

// connectTip connects node, a child of the tip, reading block from disk when it is nil. An
// invalid block is marked failed and the tip is unchanged.
func (cs *ChainState) connectTip(ctx context.Context, node *blockchain.Node, block *model.Block) (err error) {
	ctx, _, deferFn := cs.tracer.Start(ctx, "ConnectTip",
		tracing.WithHistogram(prometheusChainStateConnectBlock),
		tracing.WithCounter(prometheusChainStateConnected),
	)

	defer func() {
		deferFn(err)
	}()

	start := time.Now()

	if block == nil {
		if block, err = cs.stores.BlockFiles.ReadBlock(node.DataPos); err != nil {
			return err
		}
	}

	view := coins.NewCache(cs.coinsTip)

	conn, err := cs.connectBlock(ctx, block, node, view, false)
	if err != nil {
		if errors.IsInvalid(err) {
			cs.blockFailed(ctx, block, node, err)
		}

		return err
	}

	cs.notifier.BlockChecked(ctx, block, nil)

	if err = view.Flush(ctx); err != nil {
		return err
	}

	cs.chain.SetTip(node)

	if err = cs.writeIndexes(block, node, conn); err != nil {
		return err
	}

	cs.mempool.RemoveForBlock(ctx, block)
	cs.notifier.BlockConnected(ctx, block, node.Height)

	prometheusChainStateCoinsCacheBytes.Set(float64(cs.coinsTip.DynamicMemoryUsage()))

	cs.logger.Debugf("[ConnectTip][%s] height %d, %d transactions, fees %d in %s", node.Hash, node.Height, len(block.Transactions), conn.fees, time.Since(start))

	return nil
}

// disconnectTip disconnects the tip and returns its transactions to the mempool.
func (cs *ChainState) disconnectTip(ctx context.Context) error {
	tip := cs.chain.Tip()
	if tip == nil || tip.Height == 0 {
		return errors.NewProcessingError("cannot disconnect the genesis block")
	}

	block, err := cs.stores.BlockFiles.ReadBlock(tip.DataPos)
	if err != nil {
		return err
	}

	view := coins.NewCache(cs.coinsTip)

	undo, clean, err := cs.disconnectBlock(ctx, block, tip, view)
	if err != nil {
		return err
	}

	if !clean {
		cs.logger.Warnf("[DisconnectTip][%s] coins did not match the block while disconnecting", tip.Hash)
	}

	if err = view.Flush(ctx); err != nil {
		return err
	}

	cs.chain.SetTip(cs.index.Parent(tip))

	if err = cs.eraseIndexes(block, tip, undo); err != nil {
		return err
	}

	for _, tx := range block.Transactions {
		if model.IsCoinBase(tx) || model.IsCoinStake(tx) {
			continue
		}

		if _, err := cs.mempool.AcceptToMemoryPool(ctx, tx, mempool.WithBypassLimits(), mempool.WithLimitFree(false)); err != nil {
			cs.logger.Debugf("[DisconnectTip][%s] transaction %s not returned to the mempool: %v", tip.Hash, tx.TxHash(), err)
			cs.mempool.RemoveRecursive(ctx, tx, notifier.RemovalReorg)
		}
	}

	cs.notifier.BlockDisconnected(ctx, block, tip.Height)
	prometheusChainStateDisconnected.Inc()

	cs.logger.Infof("[DisconnectTip][%s] disconnected block at height %d", tip.Hash, tip.Height)

	return nil
}
