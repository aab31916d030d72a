package chainstate

import (
	"bytes"
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/contract"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/vm"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ordishs/gocore"
)

// blockConnection is what connecting a block produced besides the coins changes.
type blockConnection struct {
	undo *model.BlockUndo
	fees int64
	// contracts holds the contract addresses each transaction called or created.
	contracts map[chainhash.Hash][]vm.Address
}

// connectBlock applies block on top of view, which must be at the parent of node. With justCheck
// set the undo data is not written and the index is not touched; the caller discards view and
// restores the contract state.
func (cs *ChainState) connectBlock(ctx context.Context, block *model.Block, node *blockchain.Node, view *coins.Cache, justCheck bool) (*blockConnection, error) {
	start := gocore.CurrentTime()
	defer cs.stats.NewStat("ConnectBlock").AddTime(start)

	best, err := view.BestBlock()
	if err != nil {
		return nil, err
	}

	if best != node.PrevHash {
		return nil, errors.NewProcessingError("block %s builds on %s but the coins are at %s", node.Hash, node.PrevHash, best)
	}

	prev := cs.index.Parent(node)
	if prev == nil {
		return nil, errors.NewProcessingError("block %s has no parent in the index", node.Hash)
	}

	if err = cs.blockValidator.CheckBlock(block, !justCheck, !justCheck); err != nil {
		return nil, err
	}

	if err = cs.blockValidator.CheckProofOfStake(block, prev, view); err != nil {
		return nil, err
	}

	if err = checkNoOverwrite(block, view); err != nil {
		return nil, err
	}

	exec, err := cs.bridge.NewBlockExecution(ctx, block, node.Height, prev.StateRoot)
	if err != nil {
		return nil, err
	}

	conn := &blockConnection{
		undo: &model.BlockUndo{
			TxUndo:        make([]model.TxUndo, 0, len(block.Transactions)-1),
			PrevStateRoot: prev.StateRoot,
		},
		contracts: make(map[chainhash.Hash][]vm.Address),
	}

	control := cs.txValidator.NewControl(ctx)

	reward, err := cs.connectTransactions(ctx, block, node, prev, view, exec, control, !justCheck, conn)

	if waitErr := control.Wait(); err == nil {
		err = waitErr
	}

	if err != nil {
		if abortErr := exec.Abort(ctx); abortErr != nil {
			cs.logger.Errorf("[ConnectBlock][%s] failed to restore contract state: %v", node.Hash, abortErr)
		}

		return nil, err
	}

	result, err := exec.Finish(ctx)
	if err != nil {
		return nil, err
	}

	conn.undo.ContractOutpoints = result.ContractOutpoints

	height, err := coinHeight(node)
	if err != nil {
		return nil, cs.revertContracts(ctx, prev, err)
	}

	// contract outputs become spendable from the next block on
	for _, condensing := range result.Condensing {
		if err = view.AddCoins(condensing, height, false); err != nil {
			return nil, cs.revertContracts(ctx, prev, err)
		}
	}

	limit := cs.params.BlockSubsidy(node.Height, node.ProofOfStake) + conn.fees - result.Refunds
	if reward > limit {
		return nil, cs.revertContracts(ctx, prev, errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-cb-amount",
			"block %s pays %d, limit is %d (fees %d, refunds %d)", node.Hash, reward, limit, conn.fees, result.Refunds))
	}

	if !justCheck {
		if !node.Status.HaveUndo() {
			pos, err := cs.stores.BlockFiles.WriteUndo(conn.undo, node.Hash, node.DataPos.File)
			if err != nil {
				return nil, err
			}

			cs.index.SetUndoPos(node, pos)
		}

		cs.index.RaiseValidity(node, blockchain.StatusValidScripts)
	}

	view.SetBestBlock(node.Hash)

	return conn, nil
}

// connectTransactions spends and creates the coins of every transaction of block and returns the
// value claimed by the block reward: the coinbase outputs plus the coinstake gain.
func (cs *ChainState) connectTransactions(ctx context.Context, block *model.Block, node, prev *blockchain.Node, view *coins.Cache,
	exec *contract.BlockExecution, control *validator.Control, cacheStore bool, conn *blockConnection) (int64, error) {
	height := node.Height
	flags := validator.GetBlockScriptFlags(cs.params, height)

	spendHeight, err := coinHeight(node)
	if err != nil {
		return 0, err
	}

	var (
		sigOpCost int64
		reward    int64
	)

	for _, tx := range block.Transactions {
		if err := ctx.Err(); err != nil {
			return 0, errors.NewContextCanceledError("connecting block %s canceled", node.Hash, err)
		}

		cost, err := validator.GetTransactionSigOpCost(tx, view, flags)
		if err != nil {
			return 0, err
		}

		sigOpCost += cost
		if sigOpCost > validator.MaxBlockSigOpsCost {
			return 0, errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-blk-sigops", "sigop cost %d above %d", sigOpCost, validator.MaxBlockSigOpsCost)
		}

		if model.IsCoinBase(tx) {
			for _, out := range tx.TxOut {
				reward += out.Value
			}

			if err = view.AddCoins(tx, spendHeight, false); err != nil {
				return 0, err
			}

			continue
		}

		fee, err := validator.CheckTxInputs(tx, view, spendHeight, cs.params)
		if err != nil {
			return 0, err
		}

		if err = cs.checkSequenceLocks(tx, view, prev, height); err != nil {
			return 0, err
		}

		conn.fees += fee
		if !cs.params.MoneyRange(conn.fees) {
			return 0, errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-txns-accumulated-fee-outofrange", "fees %d", conn.fees)
		}

		if model.IsCoinStake(tx) {
			valueIn, err := view.GetValueIn(tx)
			if err != nil {
				return 0, err
			}

			for _, out := range tx.TxOut {
				reward += out.Value
			}

			reward -= int64(valueIn)
		}

		if err = cs.txValidator.CheckInputs(tx, view, flags, flags, cacheStore, control); err != nil {
			return 0, err
		}

		txResult, err := exec.ApplyTx(ctx, tx, view)
		if err != nil {
			return 0, err
		}

		if txResult != nil && len(txResult.Contracts) > 0 {
			conn.contracts[tx.TxHash()] = txResult.Contracts
		}

		undo, err := view.SpendInputs(tx)
		if err != nil {
			return 0, err
		}

		conn.undo.TxUndo = append(conn.undo.TxUndo, undo)

		if err = view.AddCoins(tx, spendHeight, false); err != nil {
			return 0, err
		}
	}

	return reward, nil
}

// checkNoOverwrite rejects a block creating an output that is still unspent (BIP30).
func checkNoOverwrite(block *model.Block, view coins.View) error {
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()

		for i := range tx.TxOut {
			vout, err := safeconversion.IntToUint32(i)
			if err != nil {
				return errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-txns-vout-toolarge", "transaction %s has %d outputs", txHash, len(tx.TxOut), err)
			}

			exists, err := view.HaveCoin(wire.OutPoint{Hash: txHash, Index: vout})
			if err != nil {
				return err
			}

			if exists {
				return errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-txns-BIP30", "transaction %s overwrites unspent output %d", txHash, i)
			}
		}
	}

	return nil
}

// checkSequenceLocks checks the relative lock times of tx (BIP68) on the branch ending at prev.
func (cs *ChainState) checkSequenceLocks(tx *wire.MsgTx, view coins.View, prev *blockchain.Node, height int32) error {
	if height < cs.params.CSVHeight || tx.Version < 2 {
		return nil
	}

	prevHeights := make([]int32, len(tx.TxIn))

	for i, in := range tx.TxIn {
		coin, err := view.GetCoin(in.PreviousOutPoint)
		if err != nil {
			return err
		}

		if coin == nil {
			return errors.NewTxMissingInputsError("input %d of %s spends unknown coin %s", i, tx.TxHash(), in.PreviousOutPoint)
		}

		if prevHeights[i], err = safeconversion.Uint32ToInt32(coin.Height); err != nil {
			return errors.NewProcessingError("coin %s has height %d", in.PreviousOutPoint, coin.Height, err)
		}
	}

	lock := validator.CalcSequenceLock(tx, prevHeights, func(h int32) int64 {
		return cs.index.CalcPastMedianTime(cs.index.Ancestor(prev, h))
	})

	if !lock.Satisfied(height, cs.index.CalcPastMedianTime(prev)) {
		return errors.NewBlockInvalidError(100, errors.RejectInvalid, "bad-txns-nonfinal", "sequence locks of %s are not satisfied", tx.TxHash())
	}

	return nil
}

// revertContracts restores the contract state of prev after a block failed past execution.
func (cs *ChainState) revertContracts(ctx context.Context, prev *blockchain.Node, err error) error {
	if revertErr := cs.bridge.RevertTo(ctx, prev.StateRoot); revertErr != nil {
		return errors.NewProcessingError("failed to restore contract state %s", prev.StateRoot, revertErr)
	}

	return err
}

// disconnectBlock undoes block, the tip of view. It reports whether the coins found matched the
// block exactly; an unclean disconnect still leaves view at the parent.
func (cs *ChainState) disconnectBlock(ctx context.Context, block *model.Block, node *blockchain.Node, view *coins.Cache) (*model.BlockUndo, bool, error) {
	start := gocore.CurrentTime()
	defer cs.stats.NewStat("DisconnectBlock").AddTime(start)

	best, err := view.BestBlock()
	if err != nil {
		return nil, false, err
	}

	if best != node.Hash {
		return nil, false, errors.NewProcessingError("cannot disconnect %s, the coins are at %s", node.Hash, best)
	}

	if !node.Status.HaveUndo() {
		return nil, false, errors.NewStorageCorruptionError("no undo data for block %s", node.Hash)
	}

	undo, err := cs.stores.BlockFiles.ReadUndo(node.UndoPos, node.Hash)
	if err != nil {
		return nil, false, err
	}

	if len(undo.TxUndo)+1 != len(block.Transactions) {
		return nil, false, errors.NewStorageCorruptionError("undo data of %s has %d entries for %d transactions", node.Hash, len(undo.TxUndo), len(block.Transactions))
	}

	height, err := coinHeight(node)
	if err != nil {
		return nil, false, err
	}

	clean := true

	spend := func(outpoint wire.OutPoint) (*model.Coin, error) {
		coin, err := view.SpendCoin(outpoint)
		if err != nil {
			if errors.Is(err, errors.ErrNoSuchCoin) {
				clean = false
				return nil, nil
			}

			return nil, err
		}

		return coin, nil
	}

	for _, outpoint := range undo.ContractOutpoints {
		if _, err = spend(outpoint); err != nil {
			return nil, false, err
		}
	}

	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		txHash := tx.TxHash()

		for vout, out := range tx.TxOut {
			if !coins.IsSpendable(out.PkScript) {
				continue
			}

			index, err := safeconversion.IntToUint32(vout)
			if err != nil {
				return nil, false, errors.NewProcessingError("transaction %s has %d outputs", txHash, len(tx.TxOut), err)
			}

			coin, err := spend(wire.OutPoint{Hash: txHash, Index: index})
			if err != nil {
				return nil, false, err
			}

			if coin != nil && (coin.Value != out.Value || coin.Height != height || !bytes.Equal(coin.PkScript, out.PkScript)) {
				clean = false
			}
		}

		if i == 0 {
			continue
		}

		txUndo := undo.TxUndo[i-1]
		if len(txUndo.PrevOuts) != len(tx.TxIn) {
			return nil, false, errors.NewStorageCorruptionError("undo data of %s has %d coins for %d inputs", txHash, len(txUndo.PrevOuts), len(tx.TxIn))
		}

		for j := len(tx.TxIn) - 1; j >= 0; j-- {
			outpoint := tx.TxIn[j].PreviousOutPoint

			exists, err := view.HaveCoin(outpoint)
			if err != nil {
				return nil, false, err
			}

			if exists {
				clean = false
			}

			if err = view.AddCoin(outpoint, txUndo.PrevOuts[j], true); err != nil {
				return nil, false, err
			}
		}
	}

	if err = cs.bridge.RevertTo(ctx, undo.PrevStateRoot); err != nil {
		return nil, false, err
	}

	view.SetBestBlock(node.PrevHash)

	return undo, clean, nil
}

// coinHeight returns the height coins created by node record.
func coinHeight(node *blockchain.Node) (uint32, error) {
	height, err := safeconversion.Int32ToUint32(node.Height)
	if err != nil {
		return 0, errors.NewProcessingError("block %s has height %d", node.Hash, node.Height, err)
	}

	return height, nil
}
