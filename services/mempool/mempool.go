/*
Package mempool holds the unconfirmed transactions accepted for relay and mining.

Admission (AcceptToMemoryPool) runs the context-free transaction checks, the relay policy, the
input and fee checks against the chain tip extended with the mempool, the contract gas checks
and the script checks with the standard flags. Contract calls are never executed here: their
parameters and gas fee are checked and execution waits for the block.

The mempool keeps one entry per transaction and an index from every spent outpoint to its
spender, so that no two entries spend the same output. Parent and child links between entries
are kept for recursive removal and ancestor limits.

The caller serializes admission with chain updates: the chainstate holds its lock while it calls
AcceptToMemoryPool, RemoveForBlock and RemoveForReorg. The mempool lock only protects readers.
*/
package mempool

import (
	"context"
	"sync"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/contract"
	"github.com/bsv-blockchain/chainstate/services/notifier"
	"github.com/bsv-blockchain/chainstate/services/validator"
	"github.com/bsv-blockchain/chainstate/settings"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/tracing"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dolthub/swiss"
	"github.com/jellydator/ttlcache/v3"
	"github.com/ordishs/gocore"
	"golang.org/x/time/rate"
)

// Chain is the active chain the mempool validates against. It is called with the chainstate
// lock held and must not take it.
type Chain interface {
	// CoinsTip returns the coins at the tip of the active chain.
	CoinsTip() coins.View
	// TipHeight returns the height of the tip of the active chain.
	TipHeight() int32
	// MedianTimePast returns the median time past of the active chain block at height.
	MedianTimePast(height int32) int64
}

// ContractChecker checks the contract calls of a transaction without executing them.
type ContractChecker interface {
	CheckTransaction(tx *wire.MsgTx, view coins.View, minGasLimit uint64, dos int) ([]*contract.Call, error)
}

// Mempool is the pool of unconfirmed transactions.
type Mempool struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	params      *chaincfg.Params
	chain       Chain
	txValidator *validator.TxValidator
	contracts   ContractChecker
	notifier    *notifier.Notifier
	tracer      *tracing.Tracer
	stats       *gocore.Stat

	mu        sync.RWMutex
	entries   *swiss.Map[chainhash.Hash, *Entry]
	spenders  *swiss.Map[wire.OutPoint, chainhash.Hash]
	totalSize int64
	sequence  uint64

	freeLimiter   *rate.Limiter
	recentRejects *ttlcache.Cache[chainhash.Hash, error] // by witness hash
}

// New creates an empty mempool.
// Parameters:
//   - logger: Logger for admission and removal
//   - tSettings: Settings providing the network, relay policy and contract limits
//   - chain: Active chain the mempool validates against
//   - txValidator: Script verifier shared with block connection
//   - contracts: Contract gas checks
//   - n: Notifier receiving TransactionAdded and TransactionRemoved, may be nil
func New(logger ulogger.Logger, tSettings *settings.Settings, chain Chain, txValidator *validator.TxValidator,
	contracts ContractChecker, n *notifier.Notifier) *Mempool {
	initPrometheusMetrics()

	policy := tSettings.Policy

	// free transactions share LimitFreeRelay thousand bytes per minute, with ten minutes of burst
	freeBytesPerMinute := float64(policy.LimitFreeRelay) * 1000

	m := &Mempool{
		logger:      logger,
		settings:    tSettings,
		params:      tSettings.ChainCfgParams,
		chain:       chain,
		txValidator: txValidator,
		contracts:   contracts,
		notifier:    n,
		tracer:      tracing.NewTracer("mempool"),
		stats:       gocore.NewStat("mempool"),
		entries:     swiss.NewMap[chainhash.Hash, *Entry](1024),
		spenders:    swiss.NewMap[wire.OutPoint, chainhash.Hash](2048),
		freeLimiter: rate.NewLimiter(rate.Limit(freeBytesPerMinute/60), int(freeBytesPerMinute*10)),
		recentRejects: ttlcache.New[chainhash.Hash, error](
			ttlcache.WithTTL[chainhash.Hash, error](policy.RecentRejectsTTL),
			ttlcache.WithCapacity[chainhash.Hash, error](120_000),
		),
	}

	go m.recentRejects.Start()

	return m
}

// Stop stops the recent rejects cleanup.
func (m *Mempool) Stop() {
	m.recentRejects.Stop()
}

// Exists reports whether txID is in the mempool.
func (m *Mempool) Exists(txID chainhash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries.Get(txID)

	return ok
}

// Get returns the entry of txID.
func (m *Mempool) Get(txID chainhash.Hash) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries.Get(txID)
}

// Size returns the number of transactions in the mempool.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries.Count()
}

// Bytes returns the total virtual size of the transactions in the mempool.
func (m *Mempool) Bytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.totalSize
}

// TxIDs returns the ids of the mempool transactions in acceptance order.
func (m *Mempool) TxIDs() []chainhash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return entryIDs(m.sortedEntries())
}

// LookupSpender returns the mempool transaction spending outpoint.
func (m *Mempool) LookupSpender(outpoint wire.OutPoint) (*wire.MsgTx, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txID, ok := m.spenders.Get(outpoint)
	if !ok {
		return nil, false
	}

	entry, ok := m.entries.Get(txID)
	if !ok {
		return nil, false
	}

	return entry.Tx, true
}

// Clear empties the mempool and the recent rejects. No notifications are sent.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Clear()
	m.spenders.Clear()
	m.totalSize = 0
	m.recentRejects.DeleteAll()

	m.updateGauges()
}

// ResetRecentRejects forgets every rejected transaction. Called when the tip changes, since a
// rejection may depend on the chain.
func (m *Mempool) ResetRecentRejects() {
	m.recentRejects.DeleteAll()
}

// IsRecentlyRejected reports whether the transaction with witness hash wtxID was rejected since
// the last tip change. Without witness data the witness hash is the txid.
func (m *Mempool) IsRecentlyRejected(wtxID chainhash.Hash) bool {
	return m.recentRejects.Has(wtxID)
}

// AddUnchecked adds entry without any validation. The spent outputs must not be spent by
// another entry.
func (m *Mempool) AddUnchecked(ctx context.Context, entry *Entry) {
	m.mu.Lock()
	m.addUnchecked(entry)
	m.mu.Unlock()

	m.notifier.TransactionAdded(ctx, entry.Tx)
}

func (m *Mempool) addUnchecked(entry *Entry) {
	if entry.Size == 0 {
		entry.Size = model.TxVirtualSize(entry.Tx)
		entry.Weight = model.TxWeight(entry.Tx)
	}

	m.sequence++
	entry.Sequence = m.sequence
	entry.parents = make(map[chainhash.Hash]struct{})
	entry.children = make(map[chainhash.Hash]struct{})

	for _, in := range entry.Tx.TxIn {
		m.spenders.Put(in.PreviousOutPoint, entry.TxID)

		if parent, ok := m.entries.Get(in.PreviousOutPoint.Hash); ok {
			entry.parents[parent.TxID] = struct{}{}
			parent.children[entry.TxID] = struct{}{}
		}
	}

	// children arriving before their parent, after a reorg returned the parent
	for i := range entry.Tx.TxOut {
		if childID, ok := m.spenders.Get(wire.OutPoint{Hash: entry.TxID, Index: uint32(i)}); ok {
			if child, ok := m.entries.Get(childID); ok {
				entry.children[childID] = struct{}{}
				child.parents[entry.TxID] = struct{}{}
			}
		}
	}

	m.entries.Put(entry.TxID, entry)
	m.totalSize += entry.Size

	m.updateGauges()
}

// removeEntry drops one entry and its spender records. Its children keep their inputs.
func (m *Mempool) removeEntry(entry *Entry, reason notifier.RemovalReason, removed *[]*Entry) {
	for _, in := range entry.Tx.TxIn {
		if spender, ok := m.spenders.Get(in.PreviousOutPoint); ok && spender == entry.TxID {
			m.spenders.Delete(in.PreviousOutPoint)
		}
	}

	for parentID := range entry.parents {
		if parent, ok := m.entries.Get(parentID); ok {
			delete(parent.children, entry.TxID)
		}
	}

	for childID := range entry.children {
		if child, ok := m.entries.Get(childID); ok {
			delete(child.parents, entry.TxID)
		}
	}

	m.entries.Delete(entry.TxID)
	m.totalSize -= entry.Size

	prometheusMempoolRemoved.WithLabelValues(reason.String()).Inc()

	*removed = append(*removed, entry)
}

// descendants returns entry and every mempool transaction depending on it, parents first.
func (m *Mempool) descendants(entry *Entry) []*Entry {
	seen := map[chainhash.Hash]struct{}{entry.TxID: {}}
	out := []*Entry{entry}

	for i := 0; i < len(out); i++ {
		for childID := range out[i].children {
			if _, ok := seen[childID]; ok {
				continue
			}

			seen[childID] = struct{}{}

			if child, ok := m.entries.Get(childID); ok {
				out = append(out, child)
			}
		}
	}

	return out
}

// ancestorCount returns the number of in-mempool ancestors of the given parents, the parents
// included.
func (m *Mempool) ancestorCount(parents map[chainhash.Hash]struct{}, limit int) int {
	seen := make(map[chainhash.Hash]struct{}, len(parents))
	queue := make([]chainhash.Hash, 0, len(parents))

	for parentID := range parents {
		seen[parentID] = struct{}{}
		queue = append(queue, parentID)
	}

	for i := 0; i < len(queue) && len(seen) <= limit; i++ {
		entry, ok := m.entries.Get(queue[i])
		if !ok {
			continue
		}

		for grandParent := range entry.parents {
			if _, ok := seen[grandParent]; !ok {
				seen[grandParent] = struct{}{}
				queue = append(queue, grandParent)
			}
		}
	}

	return len(seen)
}

func (m *Mempool) removeRecursive(entry *Entry, reason notifier.RemovalReason, removed *[]*Entry) {
	for _, e := range m.descendants(entry) {
		if _, ok := m.entries.Get(e.TxID); ok {
			m.removeEntry(e, reason, removed)
		}
	}
}

// RemoveRecursive removes tx and every mempool transaction depending on it. tx does not need to
// be in the mempool: transactions spending its outputs are removed either way.
func (m *Mempool) RemoveRecursive(ctx context.Context, tx *wire.MsgTx, reason notifier.RemovalReason) []*Entry {
	m.mu.Lock()

	var removed []*Entry

	txID := tx.TxHash()

	if entry, ok := m.entries.Get(txID); ok {
		m.removeRecursive(entry, reason, &removed)
	} else {
		for i := range tx.TxOut {
			if childID, ok := m.spenders.Get(wire.OutPoint{Hash: txID, Index: uint32(i)}); ok {
				if child, ok := m.entries.Get(childID); ok {
					m.removeRecursive(child, reason, &removed)
				}
			}
		}
	}

	m.updateGauges()
	m.mu.Unlock()

	m.notifyRemoved(ctx, removed, reason)

	return removed
}

// RemoveForBlock removes the transactions confirmed by block, and recursively the mempool
// transactions conflicting with them. The recent rejects are forgotten.
func (m *Mempool) RemoveForBlock(ctx context.Context, block *model.Block) {
	m.mu.Lock()

	var confirmed, conflicts []*Entry

	for _, tx := range block.Transactions {
		txID := tx.TxHash()

		if entry, ok := m.entries.Get(txID); ok {
			m.removeEntry(entry, notifier.RemovalBlock, &confirmed)
		}

		for _, in := range tx.TxIn {
			spenderID, ok := m.spenders.Get(in.PreviousOutPoint)
			if !ok || spenderID == txID {
				continue
			}

			if spender, ok := m.entries.Get(spenderID); ok {
				m.removeRecursive(spender, notifier.RemovalConflict, &conflicts)
			}
		}
	}

	m.updateGauges()
	m.mu.Unlock()

	m.ResetRecentRejects()

	if len(confirmed)+len(conflicts) > 0 {
		m.logger.Debugf("[Mempool] block %s confirmed %d and conflicted %d transactions", block.Hash(), len(confirmed), len(conflicts))
	}

	m.notifyRemoved(ctx, confirmed, notifier.RemovalBlock)
	m.notifyRemoved(ctx, conflicts, notifier.RemovalConflict)
}

// RemoveForReorg removes, after the tip moved back, the transactions that can no longer be
// mined in the next block: non-final ones, ones spending coins that no longer exist and ones
// spending coinbase or coinstake outputs that are not mature anymore.
func (m *Mempool) RemoveForReorg(ctx context.Context) {
	m.mu.Lock()

	height := m.chain.TipHeight() + 1
	mtp := m.chain.MedianTimePast(height - 1)
	tip := m.chain.CoinsTip()

	var removed []*Entry

	for _, entry := range m.sortedEntries() {
		if _, ok := m.entries.Get(entry.TxID); !ok {
			continue
		}

		if !validator.IsFinalTx(entry.Tx, height, mtp) || !m.inputsAvailable(entry, tip, uint32(height)) {
			m.removeRecursive(entry, notifier.RemovalReorg, &removed)
		}
	}

	m.updateGauges()
	m.mu.Unlock()

	m.notifyRemoved(ctx, removed, notifier.RemovalReorg)
}

func (m *Mempool) inputsAvailable(entry *Entry, tip coins.View, spendHeight uint32) bool {
	for _, in := range entry.Tx.TxIn {
		if _, ok := m.entries.Get(in.PreviousOutPoint.Hash); ok {
			continue
		}

		coin, err := tip.GetCoin(in.PreviousOutPoint)
		if err != nil || coin == nil {
			return false
		}

		if !coin.IsMature(spendHeight, uint32(m.params.CoinbaseMaturity)) {
			return false
		}
	}

	return true
}

// Entries returns the mempool entries in acceptance order.
func (m *Mempool) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sortedEntries()
}

func (m *Mempool) sortedEntries() []*Entry {
	out := make([]*Entry, 0, m.entries.Count())

	m.entries.Iter(func(_ chainhash.Hash, entry *Entry) bool {
		out = append(out, entry)
		return false
	})

	sortBySequence(out)

	return out
}

func (m *Mempool) notifyRemoved(ctx context.Context, removed []*Entry, reason notifier.RemovalReason) {
	for _, entry := range removed {
		m.notifier.TransactionRemoved(ctx, entry.Tx, reason)
	}
}

func (m *Mempool) updateGauges() {
	prometheusMempoolSize.Set(float64(m.entries.Count()))
	prometheusMempoolBytes.Set(float64(m.totalSize))
}

// Expire removes the transactions that stayed in the mempool longer than maxAge, with their
// descendants, and returns the number removed.
func (m *Mempool) Expire(ctx context.Context, maxAge time.Duration) int {
	m.mu.Lock()

	cutoff := time.Now().Add(-maxAge)

	var removed []*Entry

	for _, entry := range m.sortedEntries() {
		if _, ok := m.entries.Get(entry.TxID); ok && entry.Time.Before(cutoff) {
			m.removeRecursive(entry, notifier.RemovalExplicit, &removed)
		}
	}

	m.updateGauges()
	m.mu.Unlock()

	m.notifyRemoved(ctx, removed, notifier.RemovalExplicit)

	return len(removed)
}
