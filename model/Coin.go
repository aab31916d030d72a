package model

import (
	"bytes"
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/util/varint"
)

// maxCoinScriptSize bounds scripts read from disk.
const maxCoinScriptSize = 10_000_000

// Coin is an unspent transaction output together with the context needed to
// validate a spend of it.
type Coin struct {
	Value       int64
	PkScript    []byte
	Height      uint32
	IsCoinBase  bool
	IsCoinStake bool
}

func (c *Coin) Clone() *Coin {
	if c == nil {
		return nil
	}

	script := make([]byte, len(c.PkScript))
	copy(script, c.PkScript)

	return &Coin{
		Value:       c.Value,
		PkScript:    script,
		Height:      c.Height,
		IsCoinBase:  c.IsCoinBase,
		IsCoinStake: c.IsCoinStake,
	}
}

// IsMature reports whether a coinbase or coinstake coin can be spent at spendHeight.
func (c *Coin) IsMature(spendHeight uint32, maturity uint32) bool {
	if !c.IsCoinBase && !c.IsCoinStake {
		return true
	}

	return spendHeight >= c.Height && spendHeight-c.Height >= maturity
}

// DynamicMemoryUsage approximates the heap held by the coin.
func (c *Coin) DynamicMemoryUsage() int {
	return 48 + cap(c.PkScript)
}

func (c *Coin) code() uint64 {
	code := uint64(c.Height) << 2
	if c.IsCoinBase {
		code |= 1
	}

	if c.IsCoinStake {
		code |= 2
	}

	return code
}

// Bytes serializes the coin as varint(height<<2 | coinstake<<1 | coinbase), varint(value), varint(len) script.
func (c *Coin) Bytes() []byte {
	b := make([]byte, 0, 3*9+len(c.PkScript))
	b = varint.Put(b, c.code())
	b = varint.Put(b, uint64(c.Value))
	b = varint.Put(b, uint64(len(c.PkScript)))

	return append(b, c.PkScript...)
}

func (c *Coin) Write(w io.Writer) error {
	_, err := w.Write(c.Bytes())
	return err
}

func NewCoinFromBytes(b []byte) (*Coin, error) {
	return ReadCoin(bytes.NewReader(b))
}

// ReadCoin reads a coin written by Write.
func ReadCoin(r *bytes.Reader) (*Coin, error) {
	code, err := varint.Read(r)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("error reading coin code", err)
	}

	value, err := varint.Read(r)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("error reading coin value", err)
	}

	scriptLen, err := varint.Read(r)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("error reading coin script length", err)
	}

	if scriptLen > maxCoinScriptSize || scriptLen > uint64(r.Len()) {
		return nil, errors.NewStorageCorruptionError("coin script length %d out of range", scriptLen)
	}

	script := make([]byte, scriptLen)
	if _, err = io.ReadFull(r, script); err != nil {
		return nil, errors.NewStorageCorruptionError("error reading coin script", err)
	}

	return &Coin{
		Value:       int64(value),
		PkScript:    script,
		Height:      uint32(code >> 2),
		IsCoinBase:  code&1 != 0,
		IsCoinStake: code&2 != 0,
	}, nil
}
