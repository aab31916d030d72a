package blockvalidation

import (
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/services/contract"
	"github.com/bsv-blockchain/chainstate/services/validator"
	btcdchain "github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ordishs/gocore"
)

// witnessNonceSize is the size of the single coinbase witness item committed to by the
// witness commitment.
const witnessNonceSize = 32

// CheckBlock runs the checks that need nothing but the block: header, merkle root, size,
// reward transaction layout, signature, every transaction on its own, legacy signature
// operations and the structure of contract outputs.
//
// checkPOW and checkMerkle skip the header and merkle checks for blocks that already passed them.
func (bv *BlockValidator) CheckBlock(block *model.Block, checkPOW bool, checkMerkle bool) error {
	start := gocore.CurrentTime()
	defer func() {
		bv.stats.NewStat("CheckBlock").AddTime(start)
		prometheusBlockValidationCheckBlock.Observe(time.Since(start).Seconds())
	}()

	proofOfStake := block.IsProofOfStake()

	if checkPOW {
		if err := bv.CheckBlockHeader(block.Header, proofOfStake); err != nil {
			return err
		}
	}

	if checkMerkle {
		if err := checkMerkleRoot(block); err != nil {
			return err
		}
	}

	n := len(block.Transactions)
	if n == 0 || n*btcdchain.WitnessScaleFactor > validator.MaxBlockWeight ||
		block.StrippedSize()*btcdchain.WitnessScaleFactor > validator.MaxBlockWeight {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-length", "%d transactions, %d bytes stripped", n, block.StrippedSize())
	}

	if err := bv.checkRewardLayout(block, proofOfStake); err != nil {
		return err
	}

	if proofOfStake {
		if err := bv.stake.CheckBlockSignature(block); err != nil {
			return err
		}
	} else if len(block.Signature) != 0 {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-signature", "proof of work block carries a signature")
	}

	if err := checkWitnessNonce(block); err != nil {
		return err
	}

	sigOps := 0

	for _, tx := range block.Transactions {
		if err := validator.CheckTransaction(tx, bv.params); err != nil {
			return blockRejectFromTx(err, tx.TxHash())
		}

		for _, out := range tx.TxOut {
			if !model.IsContractScript(out.PkScript) {
				continue
			}

			if model.IsCoinBase(tx) || model.IsCoinStake(tx) {
				return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-txns-contract-reward", "reward transaction %s has a contract output", tx.TxHash())
			}

			if _, err := contract.ParseScript(out.PkScript); err != nil {
				return err
			}
		}

		sigOps += validator.GetLegacySigOpCount(tx)
	}

	if sigOps*btcdchain.WitnessScaleFactor > validator.MaxBlockSigOpsCost {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-sigops", "%d legacy signature operations", sigOps)
	}

	return nil
}

// checkMerkleRoot compares the header merkle root with the transactions. Duplicated
// transactions give the same root as the block they were duplicated from, so they are
// rejected as a mutation too.
func checkMerkleRoot(block *model.Block) error {
	root := block.CalcMerkleRoot(false)
	if block.Header.HashMerkleRoot == nil || !root.IsEqual(block.Header.HashMerkleRoot) {
		return errors.NewBlockMutatedError(dosMax, "bad-txnmrklroot", "header commits to %v, transactions give %s", block.Header.HashMerkleRoot, root)
	}

	seen := make(map[chainhash.Hash]struct{}, len(block.Transactions))

	for _, tx := range block.Transactions {
		txID := tx.TxHash()
		if _, ok := seen[txID]; ok {
			return errors.NewBlockMutatedError(dosMax, "bad-txns-duplicate", "transaction %s appears twice", txID)
		}

		seen[txID] = struct{}{}
	}

	return nil
}

// checkRewardLayout checks that the coinbase comes first and only there, and that a coinstake
// appears only as the second transaction. The coinbase of a proof-of-stake block pays nothing.
func (bv *BlockValidator) checkRewardLayout(block *model.Block, proofOfStake bool) error {
	if !model.IsCoinBase(block.Transactions[0]) {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cb-missing", "first transaction is not a coinbase")
	}

	for i, tx := range block.Transactions[1:] {
		if model.IsCoinBase(tx) {
			return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cb-multiple", "more than one coinbase")
		}

		if i > 0 && model.IsCoinStake(tx) {
			return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-multiple", "coinstake at index %d", i+1)
		}
	}

	if proofOfStake {
		for _, out := range block.Transactions[0].TxOut {
			if out.Value != 0 {
				return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cb-pos-reward", "coinbase of a proof-of-stake block pays %d", out.Value)
			}
		}
	}

	return nil
}

// checkWitnessNonce checks the structure of the coinbase witness: empty, or the single 32 byte
// nonce the witness commitment is computed with.
func checkWitnessNonce(block *model.Block) error {
	witness := block.Transactions[0].TxIn[0].Witness
	if len(witness) == 0 {
		return nil
	}

	if len(witness) != 1 || len(witness[0]) != witnessNonceSize {
		return errors.NewBlockMutatedError(dosMax, "bad-witness-nonce-size", "coinbase witness has %d items", len(witness))
	}

	return nil
}

// blockRejectFromTx turns a transaction rejection into a rejection of the block holding it.
func blockRejectFromTx(err error, txID chainhash.Hash) error {
	reject, ok := errors.GetReject(err)
	if !ok {
		return err
	}

	return errors.NewBlockInvalidError(reject.DoS, reject.RejectCode, reject.Reason, "transaction %s: %s", txID, err.Error())
}

// ContextualCheckBlock checks the transactions of the block against its height and the chain
// it extends.
// Parameters:
//   - block: Block to check, already through CheckBlock
//   - prev: Index node of the parent block
//
// Returns nil when every transaction is final, the coinbase commits to the height once BIP34 is
// active, the witness commitment is valid once witness is active (and no witness data is present
// before), and the block is within the weight and base size limits.
func (bv *BlockValidator) ContextualCheckBlock(block *model.Block, prev *blockchain.Node) error {
	if prev == nil {
		return errors.NewProcessingError("contextual check of block %s without a parent", block.Hash())
	}

	start := gocore.CurrentTime()
	defer bv.stats.NewStat("ContextualCheckBlock").AddTime(start)

	height := prev.Height + 1

	lockTimeCutoff := block.Header.Time()
	if height >= bv.params.CSVHeight {
		lockTimeCutoff = bv.index.CalcPastMedianTime(prev)
	}

	for _, tx := range block.Transactions {
		if !validator.IsFinalTx(tx, height, lockTimeCutoff) {
			return errors.NewBlockInvalidError(dosLow, errors.RejectInvalid, "bad-txns-nonfinal", "transaction %s is not final", tx.TxHash())
		}
	}

	if height >= bv.params.BIP0034Height {
		committed, err := btcdchain.ExtractCoinbaseHeight(btcutil.NewTx(block.CoinbaseTx()))
		if err != nil || committed != height {
			return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cb-height", "coinbase does not commit to height %d", height)
		}
	}

	if height >= bv.params.WitnessHeight {
		if err := btcdchain.ValidateWitnessCommitment(block.BtcUtilBlock()); err != nil {
			return errors.NewBlockMutatedError(dosMax, "bad-witness-merkle-match", "%s", err.Error())
		}
	} else if block.HasWitness() {
		return errors.NewBlockMutatedError(dosMax, "unexpected-witness", "witness data before activation at height %d", bv.params.WitnessHeight)
	}

	if weight := block.Weight(); weight > validator.MaxBlockWeight {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-weight", "weight %d", weight)
	}

	if size := block.StrippedSize(); size > validator.MaxBlockBaseSize {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-length", "base size %d", size)
	}

	return nil
}
