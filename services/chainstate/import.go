package chainstate

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// maxImportBlockSize bounds the length field of an imported record.
const maxImportBlockSize = 32 << 20

// ImportBlocks reads framed blocks (network magic, little endian length, block) from r and
// processes them in order. Blocks whose parent is not known yet wait until the parent arrives.
// Invalid blocks are logged and skipped; it returns the number of blocks accepted.
func (cs *ChainState) ImportBlocks(ctx context.Context, r io.Reader) (int, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	magic := make([]byte, 4)
	binary.LittleEndian.PutUint32(magic, uint32(cs.params.Net))

	orphans := make(map[chainhash.Hash][]*model.Block)
	imported := 0

	for {
		if ctx.Err() != nil {
			return imported, errors.NewContextCanceledError("block import canceled", ctx.Err())
		}

		block, err := readImportRecord(br, magic)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			if errors.Is(err, io.ErrUnexpectedEOF) {
				cs.logger.Warnf("[ImportBlocks] truncated record at the end of the input")
				break
			}

			cs.logger.Warnf("[ImportBlocks] skipping unreadable record: %v", err)

			continue
		}

		if cs.LookupBlock(*block.Header.HashPrevBlock) == nil && *block.Hash() != *cs.params.GenesisHash {
			prev := *block.Header.HashPrevBlock
			orphans[prev] = append(orphans[prev], block)

			continue
		}

		queue := []*model.Block{block}

		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]

			ok, err := cs.importBlock(ctx, next)
			if err != nil {
				return imported, err
			}

			if ok {
				imported++
			}

			hash := *next.Hash()
			queue = append(queue, orphans[hash]...)
			delete(orphans, hash)
		}
	}

	if len(orphans) > 0 {
		cs.logger.Warnf("[ImportBlocks] %d blocks left without a known parent", countOrphans(orphans))
	}

	cs.logger.Infof("[ImportBlocks] imported %d blocks", imported)

	return imported, nil
}

func (cs *ChainState) importBlock(ctx context.Context, block *model.Block) (bool, error) {
	if node := cs.LookupBlock(*block.Hash()); node != nil && node.Status.HaveData() {
		return false, nil
	}

	if err := cs.ProcessNewBlock(ctx, block, ""); err != nil {
		if errors.IsInvalid(err) {
			cs.logger.Warnf("[ImportBlocks] block %s rejected: %v", block.Hash(), err)
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func readImportRecord(r *bufio.Reader, magic []byte) (*model.Block, error) {
	if err := seekMagic(r, magic); err != nil {
		return nil, err
	}

	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	n := binary.LittleEndian.Uint32(size[:])
	if n < model.BlockHeaderSize || n > maxImportBlockSize {
		return nil, errors.NewProcessingError("record length %d out of range", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	return model.NewBlockFromBytes(payload)
}

// seekMagic consumes r up to and including the next occurrence of magic.
func seekMagic(r *bufio.Reader, magic []byte) error {
	matched := 0

	for matched < len(magic) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}

		switch {
		case b == magic[matched]:
			matched++
		case b == magic[0]:
			matched = 1
		default:
			matched = 0
		}
	}

	return nil
}

func countOrphans(orphans map[chainhash.Hash][]*model.Block) int {
	n := 0
	for _, blocks := range orphans {
		n += len(blocks)
	}

	return n
}

// ExportBlock writes block to w in the framing ImportBlocks reads.
func ExportBlock(w io.Writer, net wire.BitcoinNet, block *model.Block) error {
	data, err := block.Bytes()
	if err != nil {
		return errors.NewProcessingError("failed to serialize block %s", block.Hash(), err)
	}

	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[0:4], uint32(net))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))

	if _, err = w.Write(frame[:]); err != nil {
		return errors.NewProcessingError("failed to write block frame", err)
	}

	if _, err = w.Write(data); err != nil {
		return errors.NewProcessingError("failed to write block %s", block.Hash(), err)
	}

	return nil
}
