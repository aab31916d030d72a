package mempool

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// View is a read-only coins.View over the chain tip coins that also resolves the outputs of
// mempool transactions. Mempool outputs are reported at height, the height of the next block.
//
// A mempool output is returned even when another mempool transaction spends it; conflicts are
// checked against the spender index before the view is consulted.
type View struct {
	pool   *Mempool
	base   coins.View
	height uint32
}

// NewView returns a view of base extended with the outputs of the mempool. The caller holds the
// mempool lock for as long as the view is used.
func (m *Mempool) NewView(base coins.View, height uint32) *View {
	return &View{pool: m, base: base, height: height}
}

func (v *View) GetCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	if entry, ok := v.pool.entries.Get(outpoint.Hash); ok {
		if outpoint.Index >= uint32(len(entry.Tx.TxOut)) {
			return nil, nil
		}

		out := entry.Tx.TxOut[outpoint.Index]
		if !coins.IsSpendable(out.PkScript) {
			return nil, nil
		}

		return &model.Coin{
			Value:    out.Value,
			PkScript: out.PkScript,
			Height:   v.height,
		}, nil
	}

	return v.base.GetCoin(outpoint)
}

func (v *View) HaveCoin(outpoint wire.OutPoint) (bool, error) {
	coin, err := v.GetCoin(outpoint)
	return coin != nil, err
}

func (v *View) BestBlock() (chainhash.Hash, error) {
	return v.base.BestBlock()
}

func (v *View) BatchWrite(context.Context, []coins.Change, chainhash.Hash) error {
	return errors.NewProcessingError("the mempool coins view is read-only")
}

// InPool reports whether outpoint is an output of a mempool transaction.
func (v *View) InPool(outpoint wire.OutPoint) bool {
	_, ok := v.pool.entries.Get(outpoint.Hash)
	return ok
}
