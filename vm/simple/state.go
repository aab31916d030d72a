package simple

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sort"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/storage"
)

const (
	prefixState = 'S'

	maxCodeSize    = 24_576
	maxStorageItem = 1024
	maxAccounts    = 1 << 24
)

type account struct {
	balance uint64
	code    []byte
	storage map[string][]byte
}

func (a *account) clone() *account {
	c := &account{
		balance: a.balance,
		code:    a.code,
		storage: make(map[string][]byte, len(a.storage)),
	}

	for k, v := range a.storage {
		c.storage[k] = v
	}

	return c
}

func (a *account) empty() bool {
	return a.balance == 0 && len(a.code) == 0 && len(a.storage) == 0
}

type journalEntry struct {
	addr vm.Address
	prev *account
}

// StateDB keeps the accounts of the current root in memory and persists every committed root to
// LevelDB, so any block's state can be reloaded when the chain is rewound.
type StateDB struct {
	db       *leveldb.DB
	root     chainhash.Hash
	accounts map[vm.Address]*account
	journal  []journalEntry
}

// NewStateDB opens (creating if needed) a state database at path.
func NewStateDB(path string) (*StateDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.NewStorageError("failed to open contract state db at %s", path, err)
	}

	return newStateDB(db), nil
}

// NewMemoryStateDB opens a state database on LevelDB's memory storage.
func NewMemoryStateDB() (*StateDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.NewStorageError("failed to open in-memory contract state db", err)
	}

	return newStateDB(db), nil
}

func newStateDB(db *leveldb.DB) *StateDB {
	return &StateDB{
		db:       db,
		accounts: make(map[vm.Address]*account),
	}
}

func (s *StateDB) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.NewStorageError("failed to close contract state db", err)
	}

	return nil
}

// Root returns the root the state was last loaded from or committed to.
func (s *StateDB) Root() chainhash.Hash {
	return s.root
}

// SetRoot discards uncommitted changes and loads the state committed under root. The zero root is
// the empty state.
func (s *StateDB) SetRoot(_ context.Context, root chainhash.Hash) error {
	s.journal = s.journal[:0]

	if root == (chainhash.Hash{}) {
		s.root = root
		s.accounts = make(map[vm.Address]*account)

		return nil
	}

	data, err := s.db.Get(stateKey(root), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return errors.NewNotFoundError("contract state root %s not found", root)
		}

		return errors.NewStorageError("failed to read contract state %s", root, err)
	}

	accounts, err := decodeAccounts(bytes.NewReader(data))
	if err != nil {
		return errors.NewStorageCorruptionError("contract state %s is corrupt", root, err)
	}

	s.root = root
	s.accounts = accounts

	return nil
}

// Commit persists the current state and returns its root.
func (s *StateDB) Commit(_ context.Context) (chainhash.Hash, error) {
	s.journal = s.journal[:0]

	for addr, acc := range s.accounts {
		if acc.empty() {
			delete(s.accounts, addr)
		}
	}

	root := s.calcRoot()

	if root != (chainhash.Hash{}) {
		var buf bytes.Buffer
		if err := encodeAccounts(&buf, s.accounts); err != nil {
			return chainhash.Hash{}, errors.NewProcessingError("failed to encode contract state", err)
		}

		if err := s.db.Put(stateKey(root), buf.Bytes(), nil); err != nil {
			return chainhash.Hash{}, errors.NewStorageError("failed to write contract state %s", root, err)
		}
	}

	s.root = root

	return root, nil
}

// IntermediateRoot returns the root of the uncommitted state.
func (s *StateDB) IntermediateRoot() chainhash.Hash {
	return s.calcRoot()
}

func (s *StateDB) Snapshot() int {
	return len(s.journal)
}

func (s *StateDB) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		entry := s.journal[i]
		if entry.prev == nil {
			delete(s.accounts, entry.addr)
		} else {
			s.accounts[entry.addr] = entry.prev
		}
	}

	s.journal = s.journal[:id]
}

// mutable returns the account at addr for modification, recording its prior value.
func (s *StateDB) mutable(addr vm.Address) *account {
	acc, ok := s.accounts[addr]
	if !ok {
		s.journal = append(s.journal, journalEntry{addr: addr})
		acc = &account{storage: make(map[string][]byte)}
		s.accounts[addr] = acc

		return acc
	}

	s.journal = append(s.journal, journalEntry{addr: addr, prev: acc})
	acc = acc.clone()
	s.accounts[addr] = acc

	return acc
}

func (s *StateDB) Exists(addr vm.Address) bool {
	acc, ok := s.accounts[addr]
	return ok && !acc.empty()
}

func (s *StateDB) GetBalance(addr vm.Address) uint64 {
	if acc, ok := s.accounts[addr]; ok {
		return acc.balance
	}

	return 0
}

func (s *StateDB) AddBalance(addr vm.Address, amount uint64) {
	if amount == 0 {
		return
	}

	s.mutable(addr).balance += amount
}

// SubBalance debits amount and reports false, leaving the balance untouched, when it is insufficient.
func (s *StateDB) SubBalance(addr vm.Address, amount uint64) bool {
	if s.GetBalance(addr) < amount {
		return false
	}

	if amount > 0 {
		s.mutable(addr).balance -= amount
	}

	return true
}

func (s *StateDB) GetCode(addr vm.Address) []byte {
	if acc, ok := s.accounts[addr]; ok {
		return acc.code
	}

	return nil
}

func (s *StateDB) SetCode(addr vm.Address, code []byte) {
	s.mutable(addr).code = append([]byte(nil), code...)
}

func (s *StateDB) GetStorage(addr vm.Address, key []byte) []byte {
	if acc, ok := s.accounts[addr]; ok {
		return acc.storage[string(key)]
	}

	return nil
}

// SetStorage writes value under key. An empty value deletes the key.
func (s *StateDB) SetStorage(addr vm.Address, key []byte, value []byte) {
	acc := s.mutable(addr)

	if len(value) == 0 {
		delete(acc.storage, string(key))
		return
	}

	acc.storage[string(key)] = append([]byte(nil), value...)
}

func stateKey(root chainhash.Hash) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize)
	key = append(key, prefixState)

	return append(key, root[:]...)
}

func sortedAddresses(accounts map[vm.Address]*account) []vm.Address {
	addrs := make([]vm.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	return addrs
}

func sortedKeys(storage map[string][]byte) []string {
	keys := make([]string, 0, len(storage))
	for k := range storage {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// calcRoot is the SHA-256 merkle root over the non-empty accounts ordered by address. Each leaf
// commits to the address, balance, code hash and the merkle root of the account's storage.
func (s *StateDB) calcRoot() chainhash.Hash {
	leaves := make([]chainhash.Hash, 0, len(s.accounts))

	for _, addr := range sortedAddresses(s.accounts) {
		acc := s.accounts[addr]
		if acc.empty() {
			continue
		}

		storageLeaves := make([]chainhash.Hash, 0, len(acc.storage))

		for _, k := range sortedKeys(acc.storage) {
			var buf bytes.Buffer
			_ = wire.WriteVarBytes(&buf, 0, []byte(k))
			_ = wire.WriteVarBytes(&buf, 0, acc.storage[k])
			storageLeaves = append(storageLeaves, chainhash.HashH(buf.Bytes()))
		}

		storageRoot := merkleRoot(storageLeaves)
		codeHash := chainhash.HashH(acc.code)

		leaf := make([]byte, 0, vm.AddressSize+8+2*chainhash.HashSize)
		leaf = append(leaf, addr[:]...)
		leaf = binary.LittleEndian.AppendUint64(leaf, acc.balance)
		leaf = append(leaf, codeHash[:]...)
		leaf = append(leaf, storageRoot[:]...)

		leaves = append(leaves, chainhash.HashH(leaf))
	}

	return merkleRoot(leaves)
}

// merkleRoot pairs hashes level by level, duplicating the last hash of odd levels. No leaves give
// the zero hash.
func merkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.Hash{}
	}

	level := leaves

	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)

		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}

			var pair [2 * chainhash.HashSize]byte
			copy(pair[:chainhash.HashSize], level[i][:])
			copy(pair[chainhash.HashSize:], right[:])
			next = append(next, chainhash.HashH(pair[:]))
		}

		level = next
	}

	return level[0]
}

func encodeAccounts(w io.Writer, accounts map[vm.Address]*account) error {
	addrs := sortedAddresses(accounts)

	if err := wire.WriteVarInt(w, 0, uint64(len(addrs))); err != nil {
		return err
	}

	for _, addr := range addrs {
		acc := accounts[addr]

		if _, err := w.Write(addr[:]); err != nil {
			return err
		}

		var balance [8]byte
		binary.LittleEndian.PutUint64(balance[:], acc.balance)

		if _, err := w.Write(balance[:]); err != nil {
			return err
		}

		if err := wire.WriteVarBytes(w, 0, acc.code); err != nil {
			return err
		}

		if err := wire.WriteVarInt(w, 0, uint64(len(acc.storage))); err != nil {
			return err
		}

		for _, k := range sortedKeys(acc.storage) {
			if err := wire.WriteVarBytes(w, 0, []byte(k)); err != nil {
				return err
			}

			if err := wire.WriteVarBytes(w, 0, acc.storage[k]); err != nil {
				return err
			}
		}
	}

	return nil
}

func decodeAccounts(r io.Reader) (map[vm.Address]*account, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	if count > maxAccounts {
		return nil, errors.NewProcessingError("account count %d too large", count)
	}

	accounts := make(map[vm.Address]*account, count)

	for i := uint64(0); i < count; i++ {
		var addr vm.Address
		if _, err = io.ReadFull(r, addr[:]); err != nil {
			return nil, err
		}

		var balance [8]byte
		if _, err = io.ReadFull(r, balance[:]); err != nil {
			return nil, err
		}

		acc := &account{balance: binary.LittleEndian.Uint64(balance[:])}

		if acc.code, err = wire.ReadVarBytes(r, 0, maxCodeSize, "code"); err != nil {
			return nil, err
		}

		items, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, err
		}

		acc.storage = make(map[string][]byte, items)

		for j := uint64(0); j < items; j++ {
			k, err := wire.ReadVarBytes(r, 0, maxStorageItem, "key")
			if err != nil {
				return nil, err
			}

			v, err := wire.ReadVarBytes(r, 0, maxStorageItem, "value")
			if err != nil {
				return nil, err
			}

			acc.storage[string(k)] = v
		}

		accounts[addr] = acc
	}

	return accounts, nil
}
