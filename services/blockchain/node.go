package blockchain

import (
	"math/big"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NodeID addresses a node in the index arena. It is stable for the life of the index.
type NodeID int32

// NoNode is the parent of the genesis node.
const NoNode NodeID = -1

// Node is one entry of the block index. Nodes are owned by the Index; Parent and skip are arena
// indexes, never pointers.
type Node struct {
	ID     NodeID
	Hash   chainhash.Hash
	Parent NodeID
	skip   NodeID
	Height int32

	// ChainWork is the cumulative work of the chain up to and including this block.
	ChainWork *big.Int
	Status    BlockStatus

	PrevHash   chainhash.Hash
	Version    int32
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
	MerkleRoot chainhash.Hash
	StateRoot  chainhash.Hash

	DataPos model.DiskBlockPos
	UndoPos model.DiskBlockPos

	TxCount uint32
	// ChainTxCount is the number of transactions up to and including this block, or zero while
	// the data of this block or of any ancestor is missing.
	ChainTxCount uint64

	// SequenceID orders blocks by when their data was first received.
	SequenceID   int64
	ProofOfStake bool
}

func (n *Node) Header() *model.BlockHeader {
	return n.Record().Header()
}

func (n *Node) Time() int64 {
	return int64(n.Timestamp)
}

func (n *Node) Record() *model.BlockIndexRecord {
	return &model.BlockIndexRecord{
		Hash:         n.Hash,
		PrevHash:     n.PrevHash,
		Height:       n.Height,
		ChainWork:    new(big.Int).Set(n.ChainWork),
		Status:       uint32(n.Status),
		Version:      n.Version,
		Timestamp:    n.Timestamp,
		Bits:         n.Bits,
		Nonce:        n.Nonce,
		MerkleRoot:   n.MerkleRoot,
		StateRoot:    n.StateRoot,
		DataPos:      n.DataPos,
		UndoPos:      n.UndoPos,
		TxCount:      n.TxCount,
		SequenceID:   n.SequenceID,
		ProofOfStake: n.ProofOfStake,
	}
}

func (n *Node) String() string {
	return n.Hash.String()
}

// BetterThan orders candidate tips: more work wins, then the block whose data arrived first,
// then the numerically lower hash.
func (n *Node) BetterThan(o *Node) bool {
	if c := n.ChainWork.Cmp(o.ChainWork); c != 0 {
		return c > 0
	}

	if n.SequenceID != o.SequenceID {
		return n.SequenceID < o.SequenceID
	}

	return blockchain.HashToBig(&n.Hash).Cmp(blockchain.HashToBig(&o.Hash)) < 0
}

func invertLowestOne(n int32) int32 {
	return n & (n - 1)
}

// skipHeight is the height the skip pointer of a node at height points to. Any height can be
// reached from any descendant in O(log n) steps.
func skipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}

	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}

	return invertLowestOne(height)
}
