// Package vm defines the contract virtual machine the chainstate drives.
//
// The chainstate treats the VM as an opaque deterministic executor: given the same prior state,
// message and block environment, Execute must return the same result and leave the state with the
// same root on every node. Implementations live in sub packages.
package vm

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AddressSize is the length of a contract or account address.
const AddressSize = 20

// Address identifies an account: a contract, or the hash160 of a public key.
type Address [AddressSize]byte

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// AddressFromBytes copies b into an address. It returns false when b has the wrong length.
func AddressFromBytes(b []byte) (Address, bool) {
	var a Address
	if len(b) != AddressSize {
		return a, false
	}

	copy(a[:], b)

	return a, true
}

// Message is one contract call or creation extracted from a transaction output.
type Message struct {
	// Sender is the hash160 of the key that signed the first input of the transaction.
	Sender Address

	// To is the called contract. It is ignored for creations.
	To     Address
	Create bool

	// Value is the amount of the contract output credited to the contract.
	Value uint64

	GasLimit uint64
	GasPrice uint64

	// Data is the contract code for a creation, the call data otherwise.
	Data []byte

	// TxID and Vout identify the output carrying the call; creations derive the new address from them.
	TxID chainhash.Hash
	Vout uint32
}

// Env is the block environment a message executes in.
type Env struct {
	Timestamp  int64
	Height     int32
	Difficulty uint32
	GasLimit   uint64
	Coinbase   Address
}

// Transfer moves value out of a contract to an address that is not a contract. The chainstate
// turns transfers into spendable outputs.
type Transfer struct {
	From  Address
	To    Address
	Value uint64
}

// Result is the outcome of one message.
type Result struct {
	GasUsed uint64

	// Excepted is set when execution failed. The state changes of the message are reverted and the
	// value is returned to the sender; the gas is still consumed.
	Excepted  bool
	Exception string

	// ContractAddress is the address of a created contract.
	ContractAddress Address

	Transfers []Transfer
}

// StateDB is the account state a VM executes against. It is versioned by root: SetRoot loads the
// state committed under a root, Commit persists the current state and returns its root.
type StateDB interface {
	Root() chainhash.Hash
	SetRoot(ctx context.Context, root chainhash.Hash) error
	Commit(ctx context.Context) (chainhash.Hash, error)

	Snapshot() int
	RevertToSnapshot(id int)

	Exists(addr Address) bool
	GetBalance(addr Address) uint64
	AddBalance(addr Address, amount uint64)
	SubBalance(addr Address, amount uint64) bool
	GetCode(addr Address) []byte
	SetCode(addr Address, code []byte)
	GetStorage(addr Address, key []byte) []byte
	SetStorage(addr Address, key []byte, value []byte)
}

// Executor runs messages. A returned error is a local fault, never a consensus failure; contract
// failures are reported through Result.Excepted.
type Executor interface {
	Execute(ctx context.Context, state StateDB, msg *Message, env *Env) (*Result, error)
}
