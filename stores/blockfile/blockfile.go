// Package blockfile stores raw blocks and their undo records in numbered append-only files.
//
// Blocks go to blk00000.dat, blk00001.dat, ...; undo records to the rev file with the same
// number as the block they belong to. Every record is framed as network magic (4 bytes LE),
// length (4 bytes LE), payload. A position addresses the payload, not the frame.
// Undo payloads are followed by a 32-byte checksum: double-SHA256(block hash ‖ undo bytes).
package blockfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ordishs/gocore"
)

const (
	frameHeaderSize = 8
	checksumSize    = chainhash.HashSize
)

var stat = gocore.NewStat("blockfile")

type fileKind string

const (
	kindBlock fileKind = "blk"
	kindUndo  fileKind = "rev"
)

// FileInfo tracks the content of one block file.
type FileInfo struct {
	Blocks     int
	Size       uint32
	UndoSize   uint32
	HeightMin  uint32
	HeightMax  uint32
	hasHeights bool
}

type Store struct {
	mu          sync.Mutex
	logger      ulogger.Logger
	dir         string
	magic       wire.BitcoinNet
	maxFileSize uint32
	lastFile    int32
	files       []FileInfo
}

// New opens the block files in dir, creating the directory when missing. Existing files are
// scanned for their sizes so writing resumes at the end of the last one.
func New(logger ulogger.Logger, dir string, magic wire.BitcoinNet, maxFileSize int64) (*Store, error) {
	if maxFileSize <= frameHeaderSize || maxFileSize > int64(^uint32(0)) {
		return nil, errors.NewConfigurationError("invalid max block file size %d", maxFileSize)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("failed to create blocks dir %s", dir, err)
	}

	s := &Store{
		logger:      logger,
		dir:         dir,
		magic:       magic,
		maxFileSize: uint32(maxFileSize),
	}

	for n := int32(0); ; n++ {
		blkInfo, err := os.Stat(s.path(kindBlock, n))
		if os.IsNotExist(err) {
			break
		}

		if err != nil {
			return nil, errors.NewStorageError("failed to stat block file %d", n, err)
		}

		info := FileInfo{Size: uint32(blkInfo.Size())}

		if revInfo, err := os.Stat(s.path(kindUndo, n)); err == nil {
			info.UndoSize = uint32(revInfo.Size())
		}

		s.files = append(s.files, info)
	}

	if len(s.files) == 0 {
		s.files = append(s.files, FileInfo{})
	}

	s.lastFile = int32(len(s.files) - 1)

	logger.Infof("[BlockFiles] opened %s, last file %d (%d bytes)", dir, s.lastFile, s.files[s.lastFile].Size)

	return s, nil
}

func (s *Store) path(kind fileKind, file int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%05d.dat", kind, file))
}

// WriteBlock appends block to the current block file, moving to a new file when it would
// overflow, and returns the position of the serialized block.
func (s *Store) WriteBlock(block *model.Block, height uint32) (model.DiskBlockPos, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat("WriteBlock").AddTime(start)

	data, err := block.Bytes()
	if err != nil {
		return model.NullDiskBlockPos, errors.NewProcessingError("failed to serialize block %s", block.Hash(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(s.files[s.lastFile].Size)+frameHeaderSize+uint64(len(data)) > uint64(s.maxFileSize) && s.files[s.lastFile].Size > 0 {
		s.logger.Infof("[BlockFiles] leaving block file %d: %d blocks, heights %d-%d", s.lastFile,
			s.files[s.lastFile].Blocks, s.files[s.lastFile].HeightMin, s.files[s.lastFile].HeightMax)

		s.files = append(s.files, FileInfo{})
		s.lastFile++
	}

	info := &s.files[s.lastFile]

	pos, err := s.appendRecord(kindBlock, s.lastFile, info.Size, data, nil)
	if err != nil {
		return model.NullDiskBlockPos, err
	}

	info.Size = pos.Pos + uint32(len(data))
	info.Blocks++

	if !info.hasHeights || height < info.HeightMin {
		info.HeightMin = height
	}

	if !info.hasHeights || height > info.HeightMax {
		info.HeightMax = height
	}

	info.hasHeights = true

	return pos, nil
}

// appendRecord writes a framed record at offset and returns the payload position. The trailer
// follows the payload and is not counted in the frame length.
func (s *Store) appendRecord(kind fileKind, file int32, offset uint32, payload []byte, trailer []byte) (model.DiskBlockPos, error) {
	f, err := os.OpenFile(s.path(kind, file), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return model.NullDiskBlockPos, errors.NewStorageError("failed to open %s file %d", kind, file, err)
	}

	defer f.Close()

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload)+len(trailer))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(s.magic))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, trailer...)

	if _, err = f.WriteAt(frame, int64(offset)); err != nil {
		return model.NullDiskBlockPos, errors.NewStorageError("failed to write %s file %d", kind, file, err)
	}

	if err = f.Sync(); err != nil {
		return model.NullDiskBlockPos, errors.NewStorageError("failed to sync %s file %d", kind, file, err)
	}

	return model.DiskBlockPos{File: file, Pos: offset + frameHeaderSize}, nil
}

// readRecord returns the payload at pos after checking the frame.
func (s *Store) readRecord(kind fileKind, pos model.DiskBlockPos, extra int) ([]byte, error) {
	if pos.IsNull() || pos.Pos < frameHeaderSize {
		return nil, errors.NewInvalidArgumentError("invalid %s position %s", kind, pos)
	}

	f, err := os.Open(s.path(kind, pos.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("%s file %d not found", kind, pos.File)
		}

		return nil, errors.NewStorageError("failed to open %s file %d", kind, pos.File, err)
	}

	defer f.Close()

	header := make([]byte, frameHeaderSize)
	if _, err = f.ReadAt(header, int64(pos.Pos-frameHeaderSize)); err != nil {
		return nil, errors.NewStorageError("failed to read %s frame at %s", kind, pos, err)
	}

	if wire.BitcoinNet(binary.LittleEndian.Uint32(header[0:4])) != s.magic {
		return nil, errors.NewStorageCorruptionError("bad magic in %s file at %s", kind, pos)
	}

	size := binary.LittleEndian.Uint32(header[4:8])

	payload := make([]byte, int(size)+extra)
	if _, err = f.ReadAt(payload, int64(pos.Pos)); err != nil {
		return nil, errors.NewStorageCorruptionError("truncated %s record at %s", kind, pos, err)
	}

	return payload, nil
}

// ReadBlock reads the block stored at pos.
func (s *Store) ReadBlock(pos model.DiskBlockPos) (*model.Block, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat("ReadBlock").AddTime(start)

	data, err := s.readRecord(kindBlock, pos, 0)
	if err != nil {
		return nil, err
	}

	block, err := model.NewBlockFromBytes(data)
	if err != nil {
		return nil, errors.NewStorageCorruptionError("failed to deserialize block at %s", pos, err)
	}

	return block, nil
}

// ReadTransaction reads the transaction at pos and returns it with the hash of its block. TxOffset
// counts from the end of the block header.
func (s *Store) ReadTransaction(pos model.DiskTxPos) (*wire.MsgTx, chainhash.Hash, error) {
	f, err := os.Open(s.path(kindBlock, pos.File))
	if err != nil {
		return nil, chainhash.Hash{}, errors.NewStorageError("failed to open block file %d", pos.File, err)
	}

	defer f.Close()

	headerBytes := make([]byte, model.BlockHeaderSize)
	if _, err = f.ReadAt(headerBytes, int64(pos.Pos)); err != nil {
		return nil, chainhash.Hash{}, errors.NewStorageError("failed to read block header at %s", pos.DiskBlockPos, err)
	}

	header, err := model.NewBlockHeaderFromBytes(headerBytes)
	if err != nil {
		return nil, chainhash.Hash{}, errors.NewStorageCorruptionError("bad block header at %s", pos.DiskBlockPos, err)
	}

	tx := &wire.MsgTx{}
	if err = tx.Deserialize(io.NewSectionReader(f, int64(pos.Pos)+model.BlockHeaderSize+int64(pos.TxOffset), 1<<32)); err != nil {
		return nil, chainhash.Hash{}, errors.NewStorageCorruptionError("failed to deserialize tx at %s", pos, err)
	}

	return tx, *header.Hash(), nil
}

// WriteUndo appends the undo record of the block with blockHash to the rev file numbered file.
func (s *Store) WriteUndo(undo *model.BlockUndo, blockHash chainhash.Hash, file int32) (model.DiskBlockPos, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat("WriteUndo").AddTime(start)

	data, err := undo.Bytes()
	if err != nil {
		return model.NullDiskBlockPos, errors.NewProcessingError("failed to serialize undo for %s", blockHash, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if file < 0 || int(file) >= len(s.files) {
		return model.NullDiskBlockPos, errors.NewInvalidArgumentError("undo for unknown block file %d", file)
	}

	info := &s.files[file]

	checksum := undoChecksum(blockHash, data)

	pos, err := s.appendRecord(kindUndo, file, info.UndoSize, data, checksum[:])
	if err != nil {
		return model.NullDiskBlockPos, err
	}

	info.UndoSize = pos.Pos + uint32(len(data)) + checksumSize

	return pos, nil
}

// ReadUndo reads the undo record at pos and verifies its checksum against blockHash.
func (s *Store) ReadUndo(pos model.DiskBlockPos, blockHash chainhash.Hash) (*model.BlockUndo, error) {
	start := gocore.CurrentTime()
	defer stat.NewStat("ReadUndo").AddTime(start)

	payload, err := s.readRecord(kindUndo, pos, checksumSize)
	if err != nil {
		return nil, err
	}

	data := payload[:len(payload)-checksumSize]

	expected := undoChecksum(blockHash, data)
	if !bytes.Equal(expected[:], payload[len(payload)-checksumSize:]) {
		return nil, errors.NewStorageCorruptionError("undo checksum mismatch for block %s at %s", blockHash, pos)
	}

	return model.NewBlockUndoFromBytes(data)
}

func undoChecksum(blockHash chainhash.Hash, data []byte) chainhash.Hash {
	b := make([]byte, 0, chainhash.HashSize+len(data))
	b = append(b, blockHash[:]...)
	b = append(b, data...)

	return chainhash.DoubleHashH(b)
}

// LastFile is the number of the block file currently written to.
func (s *Store) LastFile() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastFile
}

// FileInfo returns the accounting of block file n.
func (s *Store) FileInfo(n int32) (FileInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || int(n) >= len(s.files) {
		return FileInfo{}, false
	}

	return s.files[n], true
}

// TxPositions returns the position of every transaction of block stored at pos, in block order.
func TxPositions(block *model.Block, pos model.DiskBlockPos) []model.DiskTxPos {
	positions := make([]model.DiskTxPos, len(block.Transactions))
	offset := uint32(wire.VarIntSerializeSize(uint64(len(block.Transactions))))

	for i, tx := range block.Transactions {
		positions[i] = model.DiskTxPos{DiskBlockPos: pos, TxOffset: offset}
		offset += uint32(tx.SerializeSize())
	}

	return positions
}
