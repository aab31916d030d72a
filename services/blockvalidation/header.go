package blockvalidation

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/ordishs/gocore"
)

// CheckBlockHeader checks the header on its own: the target is within the limit of the block
// kind, the hash meets the target for proof-of-work blocks, the version is positive and the
// timestamp is not too far in the future. Proof-of-stake blocks prove their target with the
// stake kernel instead, checked by CheckProofOfStake.
func (bv *BlockValidator) CheckBlockHeader(header *model.BlockHeader, proofOfStake bool) error {
	start := gocore.CurrentTime()
	defer bv.stats.NewStat("CheckBlockHeader").AddTime(start)

	if header.Version < 1 {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-version", "version %d", header.Version)
	}

	limit := bv.params.PowLimit
	if proofOfStake {
		limit = bv.params.PosLimit
	}

	target := header.Target()
	if target.Sign() <= 0 || target.Cmp(limit) > 0 {
		return errors.NewBlockInvalidError(dosMedium, errors.RejectInvalid, "bad-diffbits", "target %08x outside of the limit", header.Bits)
	}

	if !proofOfStake {
		ok, err := header.HasMetTargetDifficulty()
		if err != nil || !ok {
			return errors.NewBlockInvalidError(dosMedium, errors.RejectInvalid, "high-hash", "proof of work failed for %s", header.Hash())
		}
	}

	return bv.checkTimeTooNew(header)
}

func (bv *BlockValidator) checkTimeTooNew(header *model.BlockHeader) error {
	if maxTime := bv.maxFutureTime(); header.Time() > maxTime {
		prometheusBlockValidationTimeTooNew.Inc()
		return errors.NewBlockTimeFutureError("time-too-new", "block timestamp %d is after %d", header.Time(), maxTime)
	}

	return nil
}

// ContextualCheckBlockHeader checks the header against its parent in the block index.
// Parameters:
//   - header: Header to check
//   - prev: Index node of the parent block
//   - proofOfStake: Whether the block is a proof-of-stake block
//
// Returns nil when the header extends prev correctly. The bits must match the retarget, the
// timestamp must be after the median time past of prev and not in the future, the version must
// not be obsolete at the block height, proof-of-work must still be accepted at that height and
// a checkpoint at that height must match.
func (bv *BlockValidator) ContextualCheckBlockHeader(header *model.BlockHeader, prev *blockchain.Node, proofOfStake bool) error {
	if prev == nil {
		return errors.NewProcessingError("contextual header check of %s without a parent", header.Hash())
	}

	start := gocore.CurrentTime()
	defer bv.stats.NewStat("ContextualCheckBlockHeader").AddTime(start)

	height := prev.Height + 1

	if !proofOfStake && height > bv.params.LastPOWBlock {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "reject-pow", "proof of work block at height %d after %d", height, bv.params.LastPOWBlock)
	}

	if expected := bv.index.CalcNextWorkRequired(prev, proofOfStake); header.Bits != expected {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-diffbits", "bits %08x, expected %08x", header.Bits, expected)
	}

	if mtp := bv.index.CalcPastMedianTime(prev); header.Time() <= mtp {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "time-too-old", "block timestamp %d is not after median time past %d", header.Time(), mtp)
	}

	if err := bv.checkTimeTooNew(header); err != nil {
		return err
	}

	if (header.Version < 2 && height >= bv.params.BIP0034Height) ||
		(header.Version < 3 && height >= bv.params.BIP0066Height) ||
		(header.Version < 4 && height >= bv.params.BIP0065Height) {
		return errors.NewBlockInvalidError(dosMax, errors.RejectObsolete, "bad-version", "version 0x%08x is obsolete at height %d", header.Version, height)
	}

	for _, checkpoint := range bv.params.Checkpoints {
		if checkpoint.Height == height && !checkpoint.Hash.IsEqual(header.Hash()) {
			return errors.NewBlockInvalidError(dosMax, errors.RejectCheckpoint, "checkpoint mismatch", "block %s at height %d, checkpoint %s", header.Hash(), height, checkpoint.Hash)
		}
	}

	return nil
}
