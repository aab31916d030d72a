package model

import (
	"bytes"
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var zeroHash chainhash.Hash

// maxBlockTxs bounds the transaction count read from untrusted bytes.
const maxBlockTxs = 1_000_000

type Block struct {
	Header       *BlockHeader
	Transactions []*wire.MsgTx

	// Signature is the stake key signature over the block hash, present on proof-of-stake blocks.
	Signature []byte

	// local
	hash *chainhash.Hash
}

func NewBlock(header *BlockHeader, txs []*wire.MsgTx) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	return NewBlockFromReader(bytes.NewReader(blockBytes))
}

func NewBlockFromReader(r io.Reader) (*Block, error) {
	headerBytes := make([]byte, BlockHeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.NewProcessingError("error reading block header", err)
	}

	header, err := NewBlockHeaderFromBytes(headerBytes)
	if err != nil {
		return nil, err
	}

	txCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.NewProcessingError("error reading transaction count", err)
	}

	if txCount > maxBlockTxs {
		return nil, errors.NewProcessingError("too many transactions in block: %d", txCount)
	}

	block := &Block{
		Header:       header,
		Transactions: make([]*wire.MsgTx, 0, txCount),
	}

	for i := uint64(0); i < txCount; i++ {
		tx := &wire.MsgTx{}
		if err = tx.Deserialize(r); err != nil {
			return nil, errors.NewProcessingError("error reading transaction %d", i, err)
		}

		block.Transactions = append(block.Transactions, tx)
	}

	block.Signature, err = wire.ReadVarBytes(r, 0, 1024, "block signature")
	if err != nil {
		return nil, errors.NewProcessingError("error reading block signature", err)
	}

	return block, nil
}

func (b *Block) Hash() *chainhash.Hash {
	if b.hash != nil {
		return b.hash
	}

	b.hash = b.Header.Hash()

	return b.hash
}

func (b *Block) String() string {
	return b.Hash().String()
}

// Bytes serializes the block, including witness data.
func (b *Block) Bytes() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, b.SerializeSize()))
	if err := b.serialize(buf, true); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// BaseBytes serializes the block without witness data.
func (b *Block) BaseBytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := b.serialize(buf, false); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (b *Block) serialize(w io.Writer, witness bool) error {
	if _, err := w.Write(b.Header.Bytes()); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(b.Transactions))); err != nil {
		return err
	}

	for _, tx := range b.Transactions {
		var err error
		if witness {
			err = tx.Serialize(w)
		} else {
			err = tx.SerializeNoWitness(w)
		}

		if err != nil {
			return err
		}
	}

	return wire.WriteVarBytes(w, 0, b.Signature)
}

// SerializeSize is the size of the block including witness data.
func (b *Block) SerializeSize() int {
	n := BlockHeaderSize + wire.VarIntSerializeSize(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		n += tx.SerializeSize()
	}

	return n + wire.VarIntSerializeSize(uint64(len(b.Signature))) + len(b.Signature)
}

// StrippedSize is the size of the block without witness data.
func (b *Block) StrippedSize() int {
	n := BlockHeaderSize + wire.VarIntSerializeSize(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		n += tx.SerializeSizeStripped()
	}

	return n + wire.VarIntSerializeSize(uint64(len(b.Signature))) + len(b.Signature)
}

// Weight is stripped size times three plus total size.
func (b *Block) Weight() int64 {
	return int64(b.StrippedSize()*(blockchain.WitnessScaleFactor-1) + b.SerializeSize())
}

func (b *Block) CoinbaseTx() *wire.MsgTx {
	if len(b.Transactions) == 0 {
		return nil
	}

	return b.Transactions[0]
}

// IsProofOfStake reports whether the second transaction is a coinstake.
func (b *Block) IsProofOfStake() bool {
	return len(b.Transactions) > 1 && IsCoinStake(b.Transactions[1])
}

func (b *Block) HasWitness() bool {
	for _, tx := range b.Transactions {
		if tx.HasWitness() {
			return true
		}
	}

	return false
}

// BtcUtilBlock adapts the block for the btcd consensus helpers that operate on btcutil blocks.
func (b *Block) BtcUtilBlock() *btcutil.Block {
	return btcutil.NewBlock(&wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    b.Header.Version,
			PrevBlock:  *b.Header.HashPrevBlock,
			MerkleRoot: *b.Header.HashMerkleRoot,
			Bits:       b.Header.Bits,
			Nonce:      b.Header.Nonce,
		},
		Transactions: b.Transactions,
	})
}

// CalcMerkleRoot computes the transaction merkle root, or the witness merkle root when witness is set.
func (b *Block) CalcMerkleRoot(witness bool) chainhash.Hash {
	if len(b.Transactions) == 0 {
		return chainhash.Hash{}
	}

	txs := make([]*btcutil.Tx, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = btcutil.NewTx(tx)
	}

	store := blockchain.BuildMerkleTreeStore(txs, witness)

	return *store[len(store)-1]
}
