package chainstate

import (
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/settings"
	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/bsv-blockchain/chainstate/stores/blockfile"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	coinsleveldb "github.com/bsv-blockchain/chainstate/stores/coins/leveldb"
	"github.com/bsv-blockchain/chainstate/stores/txindex"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/bsv-blockchain/chainstate/vm/simple"
)

// Stores are the persistent collaborators of the chain state.
type Stores struct {
	BlockIndex blockindex.Store
	Coins      coins.View
	BlockFiles *blockfile.Store
	// TxIndex is nil when neither the transaction nor the address index is enabled.
	TxIndex *txindex.Index
	State   vm.StateDB

	closers []io.Closer
}

// OpenStores opens every store at the locations configured in tSettings.
func OpenStores(logger ulogger.Logger, tSettings *settings.Settings) (stores *Stores, err error) {
	cfg := tSettings.Chainstate
	stores = &Stores{}

	defer func() {
		if err != nil {
			_ = stores.Close()
		}
	}()

	if stores.BlockIndex, err = blockindex.NewStore(logger, cfg.BlockIndexStoreURL, tSettings); err != nil {
		return nil, errors.NewServiceError("failed to open block index store %s", cfg.BlockIndexStoreURL, err)
	}

	stores.closers = append(stores.closers, stores.BlockIndex)

	coinsDB, err := coinsleveldb.New(logger, cfg.CoinsDBPath)
	if err != nil {
		return nil, err
	}

	stores.Coins = coinsDB
	stores.closers = append(stores.closers, coinsDB)

	if stores.BlockFiles, err = blockfile.New(logger, cfg.BlocksDir, tSettings.ChainCfgParams.Net, cfg.MaxBlockFileSize); err != nil {
		return nil, err
	}

	if cfg.TxIndex || cfg.AddressIndex {
		if stores.TxIndex, err = txindex.New(logger, cfg.IndexDBPath); err != nil {
			return nil, err
		}

		stores.closers = append(stores.closers, stores.TxIndex)
	}

	state, err := simple.NewStateDB(cfg.ContractStatePath)
	if err != nil {
		return nil, err
	}

	stores.State = state
	stores.closers = append(stores.closers, state)

	return stores, nil
}

// Close closes the stores opened by OpenStores, last opened first.
func (s *Stores) Close() error {
	var errs []error

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.closers = nil

	return errors.Join(errs...)
}
