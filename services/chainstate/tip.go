package chainstate

import (
	"context"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxTipAge is how old the tip may be before the node considers itself in initial download.
const maxTipAge = 24 * time.Hour

// Tip returns the tip of the active chain.
func (cs *ChainState) Tip() *blockchain.Node {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.chain.Tip()
}

// Height returns the height of the active chain, or -1 before Start.
func (cs *ChainState) Height() int32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.chain.Height()
}

// BlockAtHeight returns the active chain block at height, or nil.
func (cs *ChainState) BlockAtHeight(height int32) *blockchain.Node {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.chain.AtHeight(height)
}

// IsInActiveChain reports whether hash is a block of the active chain.
func (cs *ChainState) IsInActiveChain(hash chainhash.Hash) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.chain.Contains(cs.index.Lookup(hash))
}

// Locator returns a block locator for the tip of the active chain.
func (cs *ChainState) Locator() []chainhash.Hash {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.chain.Locator(nil)
}

// GetCoin returns the unspent coin at outpoint in the tip, or nil.
func (cs *ChainState) GetCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	coin, err := cs.coinsTip.GetCoin(outpoint)
	if err != nil || coin == nil {
		return nil, err
	}

	return coin.Clone(), nil
}

// signalTip wakes every WaitForTip caller. Callers hold cs.mu.
func (cs *ChainState) signalTip() {
	close(cs.tipChanged)
	cs.tipChanged = make(chan struct{})
}

// WaitForTip blocks until the tip hash differs from current, timeout elapses or ctx is done, and
// returns the tip at that moment. A timeout of zero or less waits without a time limit.
func (cs *ChainState) WaitForTip(ctx context.Context, timeout time.Duration, current chainhash.Hash) (*blockchain.Node, error) {
	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	for {
		cs.mu.Lock()
		tip := cs.chain.Tip()
		changed := cs.tipChanged
		cs.mu.Unlock()

		if tip != nil && tip.Hash != current {
			return tip, nil
		}

		select {
		case <-changed:
		case <-expired:
			return tip, nil
		case <-ctx.Done():
			return tip, errors.NewContextCanceledError("waiting for a new tip", ctx.Err())
		}
	}
}

// IsInitialBlockDownload reports whether the tip is still far behind the present. Once false it
// stays false.
func (cs *ChainState) IsInitialBlockDownload() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.isInitialBlockDownload()
}

func (cs *ChainState) isInitialBlockDownload() bool {
	if cs.ibdDone.Load() {
		return false
	}

	tip := cs.chain.Tip()
	if tip == nil || tip.Time() < time.Now().Add(-maxTipAge).Unix() {
		return true
	}

	cs.logger.Infof("[ChainState] leaving initial block download at height %d", tip.Height)
	cs.ibdDone.Store(true)

	return false
}
