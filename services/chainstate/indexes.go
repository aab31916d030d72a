package chainstate

import (
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/stores/blockfile"
	"github.com/bsv-blockchain/chainstate/stores/txindex"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// writeIndexes records the transactions of a connected block in the enabled indexes.
func (cs *ChainState) writeIndexes(block *model.Block, node *blockchain.Node, conn *blockConnection) error {
	if cs.stores.TxIndex == nil {
		return nil
	}

	positions := blockfile.TxPositions(block, node.DataPos)

	if cs.settings.Chainstate.TxIndex {
		entries := make([]txindex.TxPosEntry, len(block.Transactions))
		for i, tx := range block.Transactions {
			entries[i] = txindex.TxPosEntry{TxID: tx.TxHash(), Pos: positions[i]}
		}

		if err := cs.stores.TxIndex.WriteTxPositions(entries); err != nil {
			return err
		}

		if heights := heightEntries(block, node, conn.contracts); len(heights) > 0 {
			if err := cs.stores.TxIndex.WriteHeightIndex(heights); err != nil {
				return err
			}
		}
	}

	if cs.settings.Chainstate.AddressIndex {
		if err := cs.stores.TxIndex.WriteAddressIndex(cs.addressEntries(block, node, positions, conn.undo)); err != nil {
			return err
		}
	}

	return nil
}

// eraseIndexes removes what writeIndexes recorded for a disconnected block.
func (cs *ChainState) eraseIndexes(block *model.Block, node *blockchain.Node, undo *model.BlockUndo) error {
	if cs.stores.TxIndex == nil {
		return nil
	}

	if cs.settings.Chainstate.TxIndex {
		txIDs := make([]chainhash.Hash, len(block.Transactions))
		for i, tx := range block.Transactions {
			txIDs[i] = tx.TxHash()
		}

		if err := cs.stores.TxIndex.EraseTxPositions(txIDs); err != nil {
			return err
		}

		if err := cs.stores.TxIndex.EraseHeightIndex(uint32(node.Height)); err != nil {
			return err
		}
	}

	if cs.settings.Chainstate.AddressIndex {
		positions := blockfile.TxPositions(block, node.DataPos)

		if err := cs.stores.TxIndex.EraseAddressIndex(cs.addressEntries(block, node, positions, undo)); err != nil {
			return err
		}
	}

	return nil
}

// addressEntries lists, for every transaction of block, the destinations it pays to and the
// destinations of the coins it spends.
func (cs *ChainState) addressEntries(block *model.Block, node *blockchain.Node, positions []model.DiskTxPos, undo *model.BlockUndo) []txindex.AddressEntry {
	entries := make([]txindex.AddressEntry, 0, len(block.Transactions)*2)

	for i, tx := range block.Transactions {
		pos := model.ExtDiskTxPos{DiskTxPos: positions[i], Height: uint32(node.Height)}

		for _, out := range tx.TxOut {
			if dest := txindex.ExtractDestination(out.PkScript, cs.params.BtcdParams()); dest != nil {
				entries = append(entries, txindex.AddressEntry{Dest: dest, Pos: pos})
			}
		}

		if i == 0 || undo == nil || i-1 >= len(undo.TxUndo) {
			continue
		}

		for _, coin := range undo.TxUndo[i-1].PrevOuts {
			if dest := txindex.ExtractDestination(coin.PkScript, cs.params.BtcdParams()); dest != nil {
				entries = append(entries, txindex.AddressEntry{Dest: dest, Pos: pos})
			}
		}
	}

	return entries
}

// heightEntries groups the contract transactions of block by the contract address they touched.
func heightEntries(block *model.Block, node *blockchain.Node, contracts map[chainhash.Hash][]vm.Address) []txindex.HeightEntry {
	if len(contracts) == 0 {
		return nil
	}

	byAddress := make(map[vm.Address]int)
	entries := make([]txindex.HeightEntry, 0, len(contracts))

	for _, tx := range block.Transactions {
		txID := tx.TxHash()

		for _, address := range contracts[txID] {
			i, ok := byAddress[address]
			if !ok {
				i = len(entries)
				byAddress[address] = i
				entries = append(entries, txindex.HeightEntry{
					Key: model.HeightTxIndexKey{Height: uint32(node.Height), Address: address},
				})
			}

			txIDs := entries[i].TxIDs
			if len(txIDs) == 0 || txIDs[len(txIDs)-1] != txID {
				entries[i].TxIDs = append(txIDs, txID)
			}
		}
	}

	return entries
}
