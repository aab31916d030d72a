package coins

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dolthub/swiss"
)

const (
	// flagDirty marks an entry that differs from the base view.
	flagDirty uint8 = 1 << iota
	// flagFresh marks an entry the base view does not hold unspent. Spending a fresh entry
	// drops it from the cache instead of leaving a tombstone.
	flagFresh
)

// entryOverhead approximates the map slot and entry header for memory accounting.
const entryOverhead = 96

type cacheEntry struct {
	coin  *model.Coin // nil once spent
	flags uint8
}

// Cache is a write-back overlay over a base View. Reads fall through to the base and are
// cached; writes stay in the overlay until Flush. A Cache is itself a View, so caches nest.
type Cache struct {
	mu          sync.Mutex
	base        View
	entries     *swiss.Map[wire.OutPoint, *cacheEntry]
	bestBlock   chainhash.Hash
	hasBest     bool
	memoryUsage int
}

func NewCache(base View) *Cache {
	return &Cache{
		base:    base,
		entries: swiss.NewMap[wire.OutPoint, *cacheEntry](1024),
	}
}

// fetch returns the cache entry for outpoint, loading it from the base when needed.
// A nil entry means neither the overlay nor the base knows the coin.
func (c *Cache) fetch(outpoint wire.OutPoint) (*cacheEntry, error) {
	if entry, ok := c.entries.Get(outpoint); ok {
		return entry, nil
	}

	coin, err := c.base.GetCoin(outpoint)
	if err != nil {
		return nil, err
	}

	if coin == nil {
		return nil, nil
	}

	entry := &cacheEntry{coin: coin.Clone()}
	c.entries.Put(outpoint, entry)
	c.memoryUsage += entryOverhead + entry.coin.DynamicMemoryUsage()

	return entry, nil
}

// GetCoin returns a copy of the unspent coin at outpoint, or nil when there is none.
func (c *Cache) GetCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.fetch(outpoint)
	if err != nil || entry == nil || entry.coin == nil {
		return nil, err
	}

	return entry.coin.Clone(), nil
}

// AccessCoin is GetCoin without the copy. The returned coin must not be modified.
func (c *Cache) AccessCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.fetch(outpoint)
	if err != nil || entry == nil {
		return nil, err
	}

	return entry.coin, nil
}

func (c *Cache) HaveCoin(outpoint wire.OutPoint) (bool, error) {
	coin, err := c.AccessCoin(outpoint)
	return coin != nil, err
}

// HaveCoinInCache reports whether outpoint is unspent in the overlay, without touching the base.
func (c *Cache) HaveCoinInCache(outpoint wire.OutPoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(outpoint)

	return ok && entry.coin != nil
}

// AddCoin adds an unspent coin. Replacing an unspent coin fails with ERR_OVERWRITE unless
// possibleOverwrite is set.
func (c *Cache) AddCoin(outpoint wire.OutPoint, coin *model.Coin, possibleOverwrite bool) error {
	if coin == nil {
		return errors.NewInvalidArgumentError("cannot add nil coin for %s", outpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.addCoin(outpoint, coin, possibleOverwrite)
}

func (c *Cache) addCoin(outpoint wire.OutPoint, coin *model.Coin, possibleOverwrite bool) error {
	entry, err := c.fetch(outpoint)
	if err != nil {
		return err
	}

	fresh := false

	if entry == nil {
		entry = &cacheEntry{}
		c.entries.Put(outpoint, entry)
		c.memoryUsage += entryOverhead

		fresh = true
	} else {
		if entry.coin != nil {
			if !possibleOverwrite {
				return errors.NewOverwriteError("attempted overwrite of unspent coin %s", outpoint)
			}

			c.memoryUsage -= entry.coin.DynamicMemoryUsage()
		}

		// a tombstone that was never flushed means the base does not hold the coin either
		fresh = entry.coin == nil && entry.flags&flagDirty == 0
	}

	entry.coin = coin.Clone()
	entry.flags |= flagDirty
	if fresh {
		entry.flags |= flagFresh
	}

	c.memoryUsage += entry.coin.DynamicMemoryUsage()

	return nil
}

// SpendCoin marks the coin at outpoint spent and returns it. Spending an unknown or already
// spent coin fails with ERR_NO_SUCH_COIN.
func (c *Cache) SpendCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.spendCoin(outpoint)
}

func (c *Cache) spendCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	entry, err := c.fetch(outpoint)
	if err != nil {
		return nil, err
	}

	if entry == nil || entry.coin == nil {
		return nil, errors.NewNoSuchCoinError("no such coin %s", outpoint)
	}

	spent := entry.coin
	c.memoryUsage -= spent.DynamicMemoryUsage()

	if entry.flags&flagFresh != 0 {
		c.entries.Delete(outpoint)
		c.memoryUsage -= entryOverhead
	} else {
		entry.coin = nil
		entry.flags |= flagDirty
	}

	return spent, nil
}

// AddCoins adds every spendable output of tx at the given height. Unspendable outputs and
// contract outputs are skipped.
func (c *Cache) AddCoins(tx *wire.MsgTx, height uint32, possibleOverwrite bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txHash := tx.TxHash()
	isCoinBase := model.IsCoinBase(tx)
	isCoinStake := model.IsCoinStake(tx)

	for i, out := range tx.TxOut {
		if !IsSpendable(out.PkScript) {
			continue
		}

		coin := &model.Coin{
			Value:       out.Value,
			PkScript:    out.PkScript,
			Height:      height,
			IsCoinBase:  isCoinBase,
			IsCoinStake: isCoinStake,
		}

		if err := c.addCoin(wire.OutPoint{Hash: txHash, Index: uint32(i)}, coin, possibleOverwrite); err != nil {
			return err
		}
	}

	return nil
}

// SpendInputs spends every input of tx and returns the spent coins in input order. On failure
// the coins spent so far are restored.
func (c *Cache) SpendInputs(tx *wire.MsgTx) (model.TxUndo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	undo := model.TxUndo{PrevOuts: make([]*model.Coin, 0, len(tx.TxIn))}

	for _, in := range tx.TxIn {
		coin, err := c.spendCoin(in.PreviousOutPoint)
		if err != nil {
			for i := len(undo.PrevOuts) - 1; i >= 0; i-- {
				_ = c.addCoin(tx.TxIn[i].PreviousOutPoint, undo.PrevOuts[i], true)
			}

			return model.TxUndo{}, err
		}

		undo.PrevOuts = append(undo.PrevOuts, coin)
	}

	return undo, nil
}

// HaveInputs reports whether every input of tx resolves to an unspent coin.
func (c *Cache) HaveInputs(tx *wire.MsgTx) (bool, error) {
	if model.IsCoinBase(tx) {
		return true, nil
	}

	for _, in := range tx.TxIn {
		ok, err := c.HaveCoin(in.PreviousOutPoint)
		if err != nil || !ok {
			return false, err
		}
	}

	return true, nil
}

// GetValueIn sums the values of the coins spent by tx.
func (c *Cache) GetValueIn(tx *wire.MsgTx) (btcutil.Amount, error) {
	if model.IsCoinBase(tx) {
		return 0, nil
	}

	var total btcutil.Amount

	for _, in := range tx.TxIn {
		coin, err := c.AccessCoin(in.PreviousOutPoint)
		if err != nil {
			return 0, err
		}

		if coin == nil {
			return 0, errors.NewNoSuchCoinError("no such coin %s", in.PreviousOutPoint)
		}

		total += btcutil.Amount(coin.Value)
	}

	return total, nil
}

// Uncache drops a clean entry so its memory can be reclaimed.
func (c *Cache) Uncache(outpoint wire.OutPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries.Get(outpoint); ok && entry.flags == 0 {
		c.entries.Delete(outpoint)
		c.memoryUsage -= entryOverhead + coinUsage(entry.coin)
	}
}

func (c *Cache) BestBlock() (chainhash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasBest {
		hash, err := c.base.BestBlock()
		if err != nil {
			return chainhash.Hash{}, err
		}

		c.bestBlock = hash
		c.hasBest = true
	}

	return c.bestBlock, nil
}

func (c *Cache) SetBestBlock(hash chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bestBlock = hash
	c.hasBest = true
}

// BatchWrite merges a child cache's dirty entries into this cache. The whole batch is
// validated before anything is applied.
func (c *Cache) BatchWrite(_ context.Context, changes []Change, bestBlock chainhash.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, change := range changes {
		if !change.Fresh {
			continue
		}

		if entry, ok := c.entries.Get(change.Outpoint); ok && entry.coin != nil {
			return errors.NewStorageCorruptionError("fresh coin %s already unspent in parent cache", change.Outpoint)
		}
	}

	for _, change := range changes {
		entry, ok := c.entries.Get(change.Outpoint)
		if !ok {
			if change.Fresh && change.Coin == nil {
				continue
			}

			entry = &cacheEntry{coin: change.Coin.Clone(), flags: flagDirty}
			if change.Fresh {
				entry.flags |= flagFresh
			}

			c.entries.Put(change.Outpoint, entry)
			c.memoryUsage += entryOverhead + coinUsage(entry.coin)

			continue
		}

		c.memoryUsage -= coinUsage(entry.coin)

		if entry.flags&flagFresh != 0 && change.Coin == nil {
			c.entries.Delete(change.Outpoint)
			c.memoryUsage -= entryOverhead

			continue
		}

		entry.coin = change.Coin.Clone()
		entry.flags |= flagDirty
		c.memoryUsage += coinUsage(entry.coin)
	}

	c.bestBlock = bestBlock
	c.hasBest = true

	return nil
}

// Changes returns the dirty entries that a Flush would write.
func (c *Cache) Changes() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.changes()
}

func (c *Cache) changes() []Change {
	changes := make([]Change, 0, c.entries.Count())

	c.entries.Iter(func(outpoint wire.OutPoint, entry *cacheEntry) bool {
		if entry.flags&flagDirty != 0 {
			changes = append(changes, Change{
				Outpoint: outpoint,
				Coin:     entry.coin,
				Fresh:    entry.flags&flagFresh != 0,
			})
		}

		return false
	})

	return changes
}

// Flush writes every dirty entry and the best block to the base view in one batch and empties
// the cache. If the base rejects the batch the cache keeps its contents and the base is unchanged.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasBest {
		hash, err := c.base.BestBlock()
		if err != nil {
			return err
		}

		c.bestBlock = hash
		c.hasBest = true
	}

	if err := c.base.BatchWrite(ctx, c.changes(), c.bestBlock); err != nil {
		return err
	}

	c.entries.Clear()
	c.memoryUsage = 0

	return nil
}

// Discard drops every entry without writing anything to the base.
func (c *Cache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Clear()
	c.memoryUsage = 0
	c.hasBest = false
}

// CacheSize is the number of entries held, spent tombstones included.
func (c *Cache) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Count()
}

func (c *Cache) DynamicMemoryUsage() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.memoryUsage
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{BestBlock: c.bestBlock, Coins: c.entries.Count(), Bytes: c.memoryUsage}
}

func coinUsage(coin *model.Coin) int {
	if coin == nil {
		return 0
	}

	return coin.DynamicMemoryUsage()
}

// IsSpendable reports whether an output with pkScript can ever be spent and so belongs in the
// coin set. Data carriers, oversized scripts and contract outputs are never added.
func IsSpendable(pkScript []byte) bool {
	if len(pkScript) > txscript.MaxScriptSize {
		return false
	}

	if len(pkScript) > 0 && pkScript[0] == txscript.OP_RETURN {
		return false
	}

	return !model.IsContractScript(pkScript)
}
