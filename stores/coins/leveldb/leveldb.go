// Package leveldb persists the coin set in a LevelDB database.
//
// Keys are 'C' ‖ txid ‖ varint(vout) for coins and 'B' for the best block hash. A flush is
// written as a single leveldb.Batch so a crash leaves either the old or the new state.
package leveldb

import (
	"bytes"
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util/varint"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/storage"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/ordishs/gocore"
)

const (
	prefixCoin      = 'C'
	keyBestBlock    = 'B'
	coinKeyMaxBytes = 1 + chainhash.HashSize + 5
)

var stat = gocore.NewStat("coinsdb")

type Store struct {
	logger ulogger.Logger
	db     *leveldb.DB
}

// New opens (creating if needed) the coins database at path. Compression is disabled; coin
// records are small and mostly incompressible.
func New(logger ulogger.Logger, path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, errors.NewStorageError("failed to open coins db at %s", path, err)
	}

	logger.Infof("[CoinsDB] opened %s", path)

	return &Store{logger: logger, db: db}, nil
}

// NewInMemory opens a coins database on LevelDB's memory storage.
func NewInMemory(logger ulogger.Logger) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.NewStorageError("failed to open in-memory coins db", err)
	}

	return &Store{logger: logger, db: db}, nil
}

func coinKey(outpoint wire.OutPoint) []byte {
	key := make([]byte, 0, coinKeyMaxBytes)
	key = append(key, prefixCoin)
	key = append(key, outpoint.Hash[:]...)

	return varint.Put(key, uint64(outpoint.Index))
}

func outpointFromKey(key []byte) (wire.OutPoint, error) {
	if len(key) < 1+chainhash.HashSize+1 || key[0] != prefixCoin {
		return wire.OutPoint{}, errors.NewStorageCorruptionError("malformed coin key %x", key)
	}

	var outpoint wire.OutPoint

	copy(outpoint.Hash[:], key[1:1+chainhash.HashSize])

	index, err := varint.Read(bytes.NewReader(key[1+chainhash.HashSize:]))
	if err != nil {
		return wire.OutPoint{}, errors.NewStorageCorruptionError("malformed coin key index %x", key, err)
	}

	outpoint.Index = uint32(index)

	return outpoint, nil
}

func (s *Store) GetCoin(outpoint wire.OutPoint) (*model.Coin, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat("GetCoin").AddTime(start)

	value, err := s.db.Get(coinKey(outpoint), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}

		return nil, errors.NewStorageError("failed to read coin %s", outpoint, err)
	}

	return model.NewCoinFromBytes(value)
}

func (s *Store) HaveCoin(outpoint wire.OutPoint) (bool, error) {
	ok, err := s.db.Has(coinKey(outpoint), nil)
	if err != nil {
		return false, errors.NewStorageError("failed to look up coin %s", outpoint, err)
	}

	return ok, nil
}

// BestBlock returns the hash of the block the stored coin set reflects, or the zero hash for
// an empty database.
func (s *Store) BestBlock() (chainhash.Hash, error) {
	value, err := s.db.Get([]byte{keyBestBlock}, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return chainhash.Hash{}, nil
		}

		return chainhash.Hash{}, errors.NewStorageError("failed to read best block", err)
	}

	hash, err := chainhash.NewHash(value)
	if err != nil {
		return chainhash.Hash{}, errors.NewStorageCorruptionError("malformed best block", err)
	}

	return *hash, nil
}

func (s *Store) BatchWrite(ctx context.Context, changes []coins.Change, bestBlock chainhash.Hash) error {
	start := gocore.CurrentTime()
	defer stat.NewStat("BatchWrite").AddTime(start)

	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("coins flush canceled", err)
	}

	batch := new(leveldb.Batch)

	var written, erased int

	for _, change := range changes {
		key := coinKey(change.Outpoint)

		if change.Coin == nil {
			batch.Delete(key)
			erased++

			continue
		}

		batch.Put(key, change.Coin.Bytes())
		written++
	}

	batch.Put([]byte{keyBestBlock}, bestBlock[:])

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return errors.NewStorageError("failed to write coins batch", err)
	}

	s.logger.Debugf("[CoinsDB] wrote %d coins, erased %d, best block %s", written, erased, bestBlock)

	return nil
}

// ForEach calls fn for every stored coin in key order, stopping at the first error.
func (s *Store) ForEach(fn func(outpoint wire.OutPoint, coin *model.Coin) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte{prefixCoin}), nil)
	defer iter.Release()

	for iter.Next() {
		outpoint, err := outpointFromKey(iter.Key())
		if err != nil {
			return err
		}

		coin, err := model.NewCoinFromBytes(iter.Value())
		if err != nil {
			return err
		}

		if err = fn(outpoint, coin); err != nil {
			return err
		}
	}

	if err := iter.Error(); err != nil {
		return errors.NewStorageError("coins iteration failed", err)
	}

	return nil
}

func (s *Store) Stats() (coins.Stats, error) {
	best, err := s.BestBlock()
	if err != nil {
		return coins.Stats{}, err
	}

	stats := coins.Stats{BestBlock: best}

	err = s.ForEach(func(_ wire.OutPoint, coin *model.Coin) error {
		stats.Coins++
		stats.Bytes += len(coin.Bytes())

		return nil
	})

	return stats, err
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.NewStorageError("failed to close coins db", err)
	}

	return nil
}
