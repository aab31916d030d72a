// Package txindex keeps the optional lookup indexes over the block files: transaction id to
// position, spend destination to positions, and (height, contract address) to transactions.
package txindex

import (
	"bytes"
	"sort"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
)

const (
	prefixTx      = 't'
	prefixAddress = 'a'
	prefixHeight  = 'h'
)

// Destination identifies where an output pays: the address type byte followed by the hash or
// key the script commits to.
type Destination []byte

// ExtractDestination returns the destination of a standard pkScript, or nil for scripts that
// do not pay a single address.
func ExtractDestination(pkScript []byte, params *chaincfg.Params) Destination {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return nil
	}

	return DestinationFromAddress(byte(class), addrs[0])
}

func DestinationFromAddress(class byte, addr btcutil.Address) Destination {
	return append(Destination{class}, addr.ScriptAddress()...)
}

// TxPosEntry is one transaction position to index.
type TxPosEntry struct {
	TxID chainhash.Hash
	Pos  model.DiskTxPos
}

// AddressEntry records that the transaction at Pos spends from or pays to Dest.
type AddressEntry struct {
	Dest Destination
	Pos  model.ExtDiskTxPos
}

// HeightEntry records the contract transactions touching an address at a height.
type HeightEntry struct {
	Key   model.HeightTxIndexKey
	TxIDs []chainhash.Hash
}

type Index struct {
	logger ulogger.Logger
	db     *leveldb.DB
}

func New(logger ulogger.Logger, path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, errors.NewStorageError("failed to open index db at %s", path, err)
	}

	return &Index{logger: logger, db: db}, nil
}

func NewInMemory(logger ulogger.Logger) (*Index, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.NewStorageError("failed to open in-memory index db", err)
	}

	return &Index{logger: logger, db: db}, nil
}

func (idx *Index) Close() error {
	if err := idx.db.Close(); err != nil {
		return errors.NewStorageError("failed to close index db", err)
	}

	return nil
}

func txKey(txID chainhash.Hash) []byte {
	return append([]byte{prefixTx}, txID[:]...)
}

func addressPrefix(dest Destination) []byte {
	key := make([]byte, 0, 2+len(dest))
	key = append(key, prefixAddress, byte(len(dest)))

	return append(key, dest...)
}

func addressKey(dest Destination, pos model.ExtDiskTxPos) []byte {
	return pos.AppendBytes(addressPrefix(dest))
}

func heightKey(key model.HeightTxIndexKey) []byte {
	return append([]byte{prefixHeight}, key.Bytes()...)
}

func (idx *Index) write(batch *leveldb.Batch, what string) error {
	if err := idx.db.Write(batch, nil); err != nil {
		return errors.NewStorageError("failed to write %s", what, err)
	}

	return nil
}

// WriteTxPositions indexes transaction positions in one batch.
func (idx *Index) WriteTxPositions(entries []TxPosEntry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put(txKey(e.TxID), e.Pos.Bytes())
	}

	return idx.write(batch, "tx index")
}

func (idx *Index) EraseTxPositions(txIDs []chainhash.Hash) error {
	batch := new(leveldb.Batch)
	for _, txID := range txIDs {
		batch.Delete(txKey(txID))
	}

	return idx.write(batch, "tx index")
}

// ReadTxPos returns the position of txID, or ERR_TX_NOT_FOUND.
func (idx *Index) ReadTxPos(txID chainhash.Hash) (model.DiskTxPos, error) {
	value, err := idx.db.Get(txKey(txID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return model.DiskTxPos{}, errors.NewTxNotFoundError("tx %s not indexed", txID)
		}

		return model.DiskTxPos{}, errors.NewStorageError("failed to read tx index for %s", txID, err)
	}

	return model.NewDiskTxPosFromBytes(value)
}

func (idx *Index) WriteAddressIndex(entries []AddressEntry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put(addressKey(e.Dest, e.Pos), nil)
	}

	return idx.write(batch, "address index")
}

func (idx *Index) EraseAddressIndex(entries []AddressEntry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Delete(addressKey(e.Dest, e.Pos))
	}

	return idx.write(batch, "address index")
}

// FindTransactionsByDestination returns every recorded position for dest in chain order.
func (idx *Index) FindTransactionsByDestination(dest Destination) ([]model.ExtDiskTxPos, error) {
	prefix := addressPrefix(dest)

	iter := idx.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var positions []model.ExtDiskTxPos

	for iter.Next() {
		pos, err := model.NewExtDiskTxPosFromBytes(bytes.Clone(iter.Key()[len(prefix):]))
		if err != nil {
			return nil, errors.NewStorageCorruptionError("malformed address index key", err)
		}

		positions = append(positions, pos)
	}

	if err := iter.Error(); err != nil {
		return nil, errors.NewStorageError("address index iteration failed", err)
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Less(positions[j])
	})

	return positions, nil
}

func (idx *Index) WriteHeightIndex(entries []HeightEntry) error {
	batch := new(leveldb.Batch)

	for _, e := range entries {
		value := make([]byte, 0, len(e.TxIDs)*chainhash.HashSize)
		for _, txID := range e.TxIDs {
			value = append(value, txID[:]...)
		}

		batch.Put(heightKey(e.Key), value)
	}

	return idx.write(batch, "height index")
}

// EraseHeightIndex removes every entry at height.
func (idx *Index) EraseHeightIndex(height uint32) error {
	prefix := append([]byte{prefixHeight}, model.HeightTxIndexIteratorKey{Height: height}.Bytes()...)

	iter := idx.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(bytes.Clone(iter.Key()))
	}

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("height index iteration failed", err)
	}

	return idx.write(batch, "height index")
}

// GetContractTxsByHeight returns the contract transactions recorded for address at height.
func (idx *Index) GetContractTxsByHeight(height uint32, address [20]byte) ([]chainhash.Hash, error) {
	value, err := idx.db.Get(heightKey(model.HeightTxIndexKey{Height: height, Address: address}), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}

		return nil, errors.NewStorageError("failed to read height index", err)
	}

	return decodeTxIDs(value)
}

// IterateHeights walks the height index from fromHeight to toHeight inclusive, in key order.
// Iteration stops early when fn returns false.
func (idx *Index) IterateHeights(fromHeight, toHeight uint32, fn func(key model.HeightTxIndexKey, txIDs []chainhash.Hash) bool) error {
	start := append([]byte{prefixHeight}, model.HeightTxIndexIteratorKey{Height: fromHeight}.Bytes()...)

	var limit []byte
	if toHeight < ^uint32(0) {
		limit = append([]byte{prefixHeight}, model.HeightTxIndexIteratorKey{Height: toHeight + 1}.Bytes()...)
	} else {
		limit = []byte{prefixHeight + 1}
	}

	iter := idx.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	for iter.Next() {
		key, err := model.NewHeightTxIndexKeyFromBytes(iter.Key()[1:])
		if err != nil {
			return errors.NewStorageCorruptionError("malformed height index key", err)
		}

		txIDs, err := decodeTxIDs(iter.Value())
		if err != nil {
			return err
		}

		if !fn(key, txIDs) {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("height index iteration failed", err)
	}

	return nil
}

func decodeTxIDs(value []byte) ([]chainhash.Hash, error) {
	if len(value)%chainhash.HashSize != 0 {
		return nil, errors.NewStorageCorruptionError("height index value of %d bytes", len(value))
	}

	txIDs := make([]chainhash.Hash, len(value)/chainhash.HashSize)
	for i := range txIDs {
		copy(txIDs[i][:], value[i*chainhash.HashSize:])
	}

	return txIDs, nil
}
