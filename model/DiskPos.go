package model

import (
	"bytes"
	"fmt"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/util/varint"
)

// DiskBlockPos locates a record in the numbered block or undo files.
type DiskBlockPos struct {
	File int32
	Pos  uint32
}

// NullDiskBlockPos is the position of a record that has not been written.
var NullDiskBlockPos = DiskBlockPos{File: -1}

func (p DiskBlockPos) IsNull() bool {
	return p.File == -1
}

func (p DiskBlockPos) String() string {
	return fmt.Sprintf("DiskBlockPos(file=%d, pos=%d)", p.File, p.Pos)
}

// Less orders positions by file, then offset.
func (p DiskBlockPos) Less(o DiskBlockPos) bool {
	if p.File != o.File {
		return p.File < o.File
	}

	return p.Pos < o.Pos
}

func (p DiskBlockPos) AppendBytes(b []byte) []byte {
	// the null file number is stored as zero with the position shifted by one
	b = varint.Put(b, uint64(p.File+1))
	return varint.Put(b, uint64(p.Pos))
}

func (p DiskBlockPos) Bytes() []byte {
	return p.AppendBytes(nil)
}

func readDiskBlockPos(r *bytes.Reader) (DiskBlockPos, error) {
	file, err := varint.Read(r)
	if err != nil {
		return NullDiskBlockPos, errors.NewStorageCorruptionError("error reading file number", err)
	}

	pos, err := varint.Read(r)
	if err != nil {
		return NullDiskBlockPos, errors.NewStorageCorruptionError("error reading file offset", err)
	}

	return DiskBlockPos{File: int32(file) - 1, Pos: uint32(pos)}, nil
}

func NewDiskBlockPosFromBytes(b []byte) (DiskBlockPos, error) {
	return readDiskBlockPos(bytes.NewReader(b))
}

// DiskTxPos locates a transaction: the block record plus the offset of the
// transaction after the block header.
type DiskTxPos struct {
	DiskBlockPos
	TxOffset uint32
}

func (p DiskTxPos) String() string {
	return fmt.Sprintf("DiskTxPos(file=%d, pos=%d, txoffset=%d)", p.File, p.Pos, p.TxOffset)
}

// Less orders by block position, then transaction offset.
func (p DiskTxPos) Less(o DiskTxPos) bool {
	if p.DiskBlockPos != o.DiskBlockPos {
		return p.DiskBlockPos.Less(o.DiskBlockPos)
	}

	return p.TxOffset < o.TxOffset
}

func (p DiskTxPos) AppendBytes(b []byte) []byte {
	b = p.DiskBlockPos.AppendBytes(b)
	return varint.Put(b, uint64(p.TxOffset))
}

func (p DiskTxPos) Bytes() []byte {
	return p.AppendBytes(nil)
}

func readDiskTxPos(r *bytes.Reader) (DiskTxPos, error) {
	blockPos, err := readDiskBlockPos(r)
	if err != nil {
		return DiskTxPos{}, err
	}

	offset, err := varint.Read(r)
	if err != nil {
		return DiskTxPos{}, errors.NewStorageCorruptionError("error reading tx offset", err)
	}

	return DiskTxPos{DiskBlockPos: blockPos, TxOffset: uint32(offset)}, nil
}

func NewDiskTxPosFromBytes(b []byte) (DiskTxPos, error) {
	return readDiskTxPos(bytes.NewReader(b))
}

// ExtDiskTxPos is a transaction position tagged with the height of its block.
// Height orders first so address history iterates in chain order.
type ExtDiskTxPos struct {
	DiskTxPos
	Height uint32
}

func (p ExtDiskTxPos) Less(o ExtDiskTxPos) bool {
	if p.Height != o.Height {
		return p.Height < o.Height
	}

	return p.DiskTxPos.Less(o.DiskTxPos)
}

func (p ExtDiskTxPos) AppendBytes(b []byte) []byte {
	b = p.DiskTxPos.AppendBytes(b)
	return varint.Put(b, uint64(p.Height))
}

func (p ExtDiskTxPos) Bytes() []byte {
	return p.AppendBytes(nil)
}

func NewExtDiskTxPosFromBytes(b []byte) (ExtDiskTxPos, error) {
	r := bytes.NewReader(b)

	txPos, err := readDiskTxPos(r)
	if err != nil {
		return ExtDiskTxPos{}, err
	}

	height, err := varint.Read(r)
	if err != nil {
		return ExtDiskTxPos{}, errors.NewStorageCorruptionError("error reading height", err)
	}

	return ExtDiskTxPos{DiskTxPos: txPos, Height: uint32(height)}, nil
}
