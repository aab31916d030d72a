package model

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHeaderSize is the serialized size of a header: the classic 80 bytes plus the contract state root.
const BlockHeaderSize = 112

type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the blockchain.
	HashPrevBlock *chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	HashMerkleRoot *chainhash.Hash

	// Time the block was created in unix time.
	Timestamp uint32

	// Difficulty target for the block in compact form.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32

	// Root of the contract state after executing the block's contract calls.
	HashStateRoot *chainhash.Hash
}

func NewBlockHeaderFromBytes(headerBytes []byte) (*BlockHeader, error) {
	if len(headerBytes) != BlockHeaderSize {
		return nil, errors.NewInvalidArgumentError("block header should be %d bytes long, got %d", BlockHeaderSize, len(headerBytes))
	}

	hashPrevBlock, err := chainhash.NewHash(headerBytes[4:36])
	if err != nil {
		return nil, errors.NewProcessingError("error creating previous block hash from bytes", err)
	}

	hashMerkleRoot, err := chainhash.NewHash(headerBytes[36:68])
	if err != nil {
		return nil, errors.NewProcessingError("error creating merkle root hash from bytes", err)
	}

	hashStateRoot, err := chainhash.NewHash(headerBytes[80:112])
	if err != nil {
		return nil, errors.NewProcessingError("error creating state root hash from bytes", err)
	}

	return &BlockHeader{
		Version:        int32(binary.LittleEndian.Uint32(headerBytes[:4])),
		HashPrevBlock:  hashPrevBlock,
		HashMerkleRoot: hashMerkleRoot,
		Timestamp:      binary.LittleEndian.Uint32(headerBytes[68:72]),
		Bits:           binary.LittleEndian.Uint32(headerBytes[72:76]),
		Nonce:          binary.LittleEndian.Uint32(headerBytes[76:80]),
		HashStateRoot:  hashStateRoot,
	}, nil
}

func NewBlockHeaderFromString(headerHex string) (*BlockHeader, error) {
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("error decoding hex string to bytes", err)
	}

	return NewBlockHeaderFromBytes(headerBytes)
}

func (bh *BlockHeader) Hash() *chainhash.Hash {
	hash := chainhash.DoubleHashH(bh.Bytes())
	return &hash
}

func (bh *BlockHeader) String() string {
	return bh.Hash().String()
}

func (bh *BlockHeader) Time() int64 {
	return int64(bh.Timestamp)
}

// HasMetTargetDifficulty reports whether the header hash is at or below the target encoded in Bits.
func (bh *BlockHeader) HasMetTargetDifficulty() (bool, error) {
	target := blockchain.CompactToBig(bh.Bits)
	if target.Sign() <= 0 {
		return false, errors.NewProcessingError("block target difficulty %08x is not positive", bh.Bits)
	}

	hashNum := blockchain.HashToBig(bh.Hash())

	return hashNum.Cmp(target) <= 0, nil
}

// Target returns the expanded target, or zero for malformed bits.
func (bh *BlockHeader) Target() *big.Int {
	return blockchain.CompactToBig(bh.Bits)
}

func (bh *BlockHeader) Bytes() []byte {
	b := make([]byte, BlockHeaderSize)

	binary.LittleEndian.PutUint32(b[0:4], uint32(bh.Version))

	if bh.HashPrevBlock != nil {
		copy(b[4:36], bh.HashPrevBlock[:])
	}

	if bh.HashMerkleRoot != nil {
		copy(b[36:68], bh.HashMerkleRoot[:])
	}

	binary.LittleEndian.PutUint32(b[68:72], bh.Timestamp)
	binary.LittleEndian.PutUint32(b[72:76], bh.Bits)
	binary.LittleEndian.PutUint32(b[76:80], bh.Nonce)

	if bh.HashStateRoot != nil {
		copy(b[80:112], bh.HashStateRoot[:])
	}

	return b
}
