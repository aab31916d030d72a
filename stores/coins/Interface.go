// Package coins holds the unspent output set: the View contract shared by every backend and
// the write-back Cache that overlays a View during block connection and mempool admission.
package coins

import (
	"context"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// View is a readable and batch-writable set of unspent coins.
//
// GetCoin returns (nil, nil) when the outpoint is unknown or spent. BatchWrite applies all
// changes and the new best block atomically: either every change is visible afterwards or
// none is.
type View interface {
	GetCoin(outpoint wire.OutPoint) (*model.Coin, error)
	HaveCoin(outpoint wire.OutPoint) (bool, error)
	BestBlock() (chainhash.Hash, error)
	BatchWrite(ctx context.Context, changes []Change, bestBlock chainhash.Hash) error
}

// Change is one dirty cache entry handed to a parent view on flush. A nil Coin erases the
// outpoint. Fresh means the parent is known not to hold an unspent coin at the outpoint.
type Change struct {
	Outpoint wire.OutPoint
	Coin     *model.Coin
	Fresh    bool
}

// Stats summarises a view for logging.
type Stats struct {
	BestBlock chainhash.Hash
	Coins     int
	Bytes     int
}
