package chainstate

import (
	"context"
	"encoding/binary"
	"time"

	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/bsv-blockchain/chainstate/tracing"
)

// FlushMode says when FlushStateToDisk writes.
type FlushMode int

const (
	// FlushIfNeeded writes only when the coins cache is over its size limit.
	FlushIfNeeded FlushMode = iota
	// FlushPeriodic also writes when the flush interval has elapsed.
	FlushPeriodic
	// FlushAlways writes unconditionally.
	FlushAlways
)

func (m FlushMode) String() string {
	switch m {
	case FlushIfNeeded:
		return "IfNeeded"
	case FlushPeriodic:
		return "Periodic"
	case FlushAlways:
		return "Always"
	default:
		return "Unknown"
	}
}

// FlushStateToDisk writes the changed index entries and the coins tip to their stores.
func (cs *ChainState) FlushStateToDisk(ctx context.Context, mode FlushMode) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.flushStateToDisk(ctx, mode)
}

// flushStateToDisk writes the index before the coins, so the best block of the coins store is
// always a block the index store knows. The contract state is persisted by every commit.
func (cs *ChainState) flushStateToDisk(ctx context.Context, mode FlushMode) (err error) {
	cacheSize := cs.coinsTip.DynamicMemoryUsage()
	cacheFull := cacheSize > cs.settings.Chainstate.CoinsCacheSizeMB<<20
	intervalElapsed := time.Since(cs.lastFlush) > cs.settings.Chainstate.FlushInterval

	switch mode {
	case FlushIfNeeded:
		if !cacheFull {
			return nil
		}
	case FlushPeriodic:
		if !cacheFull && !intervalElapsed {
			return nil
		}
	}

	ctx, _, deferFn := cs.tracer.Start(ctx, "FlushStateToDisk",
		tracing.WithHistogram(prometheusChainStateFlush),
		tracing.WithTag("mode", mode.String()),
	)

	defer func() {
		deferFn(err)
	}()

	if err = cs.index.Flush(ctx, cs.stores.BlockIndex); err != nil {
		return err
	}

	lastFile := make([]byte, 4)
	binary.LittleEndian.PutUint32(lastFile, uint32(cs.stores.BlockFiles.LastFile()))

	if err = cs.stores.BlockIndex.SetState(ctx, blockindex.StateLastFile, lastFile); err != nil {
		return err
	}

	if err = cs.coinsTip.Flush(ctx); err != nil {
		return err
	}

	if tip := cs.chain.Tip(); tip != nil {
		if err = cs.stores.BlockIndex.SetState(ctx, blockindex.StateBestChain, tip.Hash[:]); err != nil {
			return err
		}
	}

	cs.lastFlush = time.Now()
	prometheusChainStateCoinsCacheBytes.Set(0)

	cs.logger.Debugf("[FlushStateToDisk] %s flush of %d bytes of coins", mode, cacheSize)

	return nil
}
