package blockchain

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// lastBlockOfType walks back from n to the most recent block of the requested kind. Proof of
// work and proof of stake difficulties are tracked separately.
func (idx *Index) lastBlockOfType(n *Node, proofOfStake bool) *Node {
	for n != nil && n.Parent != NoNode && n.ProofOfStake != proofOfStake {
		n = idx.node(n.Parent)
	}

	return n
}

// CalcNextWorkRequired returns the compact target required of the block following prev. The
// target moves every block by an exponential moving average toward the target spacing:
//
//	new = old * ((interval-1)*spacing + 2*actual) / ((interval+1)*spacing)
//
// and never exceeds the limit of its kind.
func (idx *Index) CalcNextWorkRequired(prev *Node, proofOfStake bool) uint32 {
	params := idx.params

	limit, limitBits := params.PowLimit, params.PowLimitBits
	if proofOfStake {
		limit, limitBits = params.PosLimit, params.PosLimitBits
	}

	if prev == nil {
		return limitBits
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	last := idx.lastBlockOfType(prev, proofOfStake)
	if last == nil || last.Parent == NoNode {
		return limitBits
	}

	if params.NoDifficultyAdjustment {
		return last.Bits
	}

	lastPrev := idx.lastBlockOfType(idx.node(last.Parent), proofOfStake)
	if lastPrev == nil || lastPrev.Parent == NoNode {
		return limitBits
	}

	spacing := int64(params.TargetTimePerBlock.Seconds())
	interval := params.AdjustmentInterval()

	actual := last.Time() - lastPrev.Time()
	if actual < 0 {
		actual = spacing
	}

	if actual > spacing*10 {
		actual = spacing * 10
	}

	target := blockchain.CompactToBig(last.Bits)
	target.Mul(target, big.NewInt((interval-1)*spacing+2*actual))
	target.Div(target, big.NewInt((interval+1)*spacing))

	if target.Sign() <= 0 || target.Cmp(limit) > 0 {
		return limitBits
	}

	return blockchain.BigToCompact(target)
}
