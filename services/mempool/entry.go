package mempool

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Entry is a transaction in the mempool with the data computed when it was accepted.
type Entry struct {
	Tx   *wire.MsgTx
	TxID chainhash.Hash

	Fee       int64
	Size      int64 // virtual size
	Weight    int64
	Priority  float64
	Height    int32 // chain height when accepted
	Time      time.Time
	SigOpCost int64

	SpendsCoinbase bool

	// GasPrice is the lowest gas price of the contract calls of the transaction, 0 without calls.
	GasPrice uint64

	// Sequence orders entries by acceptance.
	Sequence uint64

	parents  map[chainhash.Hash]struct{}
	children map[chainhash.Hash]struct{}
}

// NewEntry returns an entry for tx with no fee data, for AddUnchecked.
func NewEntry(tx *wire.MsgTx, fee int64, height int32) *Entry {
	return &Entry{
		Tx:     tx,
		TxID:   tx.TxHash(),
		Fee:    fee,
		Height: height,
		Time:   time.Now(),
	}
}

// FeeRate returns the fee in satoshis per 1000 virtual bytes.
func (e *Entry) FeeRate() int64 {
	if e.Size == 0 {
		return 0
	}

	return e.Fee * 1000 / e.Size
}

// Parents returns the ids of the mempool transactions spent by the entry.
func (e *Entry) Parents() []chainhash.Hash {
	return hashes(e.parents)
}

// Children returns the ids of the mempool transactions spending the entry.
func (e *Entry) Children() []chainhash.Hash {
	return hashes(e.children)
}

func hashes(set map[chainhash.Hash]struct{}) []chainhash.Hash {
	out := make([]chainhash.Hash, 0, len(set))
	for hash := range set {
		out = append(out, hash)
	}

	return out
}

func sortBySequence(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})
}

func entryIDs(entries []*Entry) []chainhash.Hash {
	ids := make([]chainhash.Hash, len(entries))
	for i, entry := range entries {
		ids[i] = entry.TxID
	}

	return ids
}
