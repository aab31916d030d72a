package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/txindex"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// GetTransaction returns the transaction txID from the mempool or, with the transaction index
// enabled, from the block files. The returned block hash is zero for mempool transactions.
func (cs *ChainState) GetTransaction(ctx context.Context, txID chainhash.Hash) (*wire.MsgTx, chainhash.Hash, error) {
	if entry, ok := cs.mempool.Get(txID); ok {
		return entry.Tx, chainhash.Hash{}, nil
	}

	if cs.stores.TxIndex == nil || !cs.settings.Chainstate.TxIndex {
		return nil, chainhash.Hash{}, errors.NewTxNotFoundError("transaction %s is not in the mempool and the transaction index is disabled", txID)
	}

	if ctx.Err() != nil {
		return nil, chainhash.Hash{}, errors.NewContextCanceledError("transaction lookup canceled", ctx.Err())
	}

	pos, err := cs.stores.TxIndex.ReadTxPos(txID)
	if err != nil {
		return nil, chainhash.Hash{}, err
	}

	tx, blockHash, err := cs.stores.BlockFiles.ReadTransaction(pos)
	if err != nil {
		return nil, chainhash.Hash{}, err
	}

	if tx.TxHash() != txID {
		return nil, chainhash.Hash{}, errors.NewStorageCorruptionError("transaction at %s is %s, expected %s", pos, tx.TxHash(), txID)
	}

	return tx, blockHash, nil
}

// FindTransactionsByAddress returns the positions of the confirmed transactions paying to or
// spending from address, ordered by height.
func (cs *ChainState) FindTransactionsByAddress(address btcutil.Address) ([]model.ExtDiskTxPos, error) {
	if cs.stores.TxIndex == nil || !cs.settings.Chainstate.AddressIndex {
		return nil, errors.NewConfigurationError("the address index is disabled")
	}

	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("unsupported address %s", address, err)
	}

	dest := txindex.ExtractDestination(pkScript, cs.params.BtcdParams())
	if dest == nil {
		return nil, errors.NewInvalidArgumentError("address %s has no indexed destination", address)
	}

	return cs.stores.TxIndex.FindTransactionsByDestination(dest)
}

// ContractTxs is the set of transactions that touched a contract at a height.
type ContractTxs struct {
	Height  uint32
	Address vm.Address
	TxIDs   []chainhash.Hash
}

// GetContractTransactions returns the contract transactions between fromHeight and toHeight
// inclusive. A nil address returns every contract.
func (cs *ChainState) GetContractTransactions(ctx context.Context, fromHeight, toHeight uint32, address *vm.Address) ([]ContractTxs, error) {
	if cs.stores.TxIndex == nil || !cs.settings.Chainstate.TxIndex {
		return nil, errors.NewConfigurationError("the transaction index is disabled")
	}

	if fromHeight > toHeight {
		return nil, errors.NewInvalidArgumentError("height range %d-%d is empty", fromHeight, toHeight)
	}

	if address != nil && fromHeight == toHeight {
		txIDs, err := cs.stores.TxIndex.GetContractTxsByHeight(fromHeight, *address)
		if err != nil || len(txIDs) == 0 {
			return nil, err
		}

		return []ContractTxs{{Height: fromHeight, Address: *address, TxIDs: txIDs}}, nil
	}

	var result []ContractTxs

	err := cs.stores.TxIndex.IterateHeights(fromHeight, toHeight, func(key model.HeightTxIndexKey, txIDs []chainhash.Hash) bool {
		if address == nil || vm.Address(key.Address) == *address {
			result = append(result, ContractTxs{Height: key.Height, Address: key.Address, TxIDs: txIDs})
		}

		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, errors.NewContextCanceledError("contract transaction lookup canceled", ctx.Err())
	}

	return result, nil
}
