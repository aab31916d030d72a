// Package blocks builds mined regtest blocks for tests.
package blocks

import (
	"testing"

	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/test/utils/transactions"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// BlockOption is a function that modifies block creation options
type BlockOption func(*BlockOptions)

// BlockOptions holds all the configurable options for block creation
type BlockOptions struct {
	version   int32
	timestamp uint32
	bits      uint32
	stateRoot chainhash.Hash
	coinbase  *wire.MsgTx
	reward    int64
	minerKey  *btcec.PublicKey
	txs       []*wire.MsgTx
	noMining  bool
	tag       string
}

func WithVersion(version int32) BlockOption {
	return func(opts *BlockOptions) {
		opts.version = version
	}
}

func WithTimestamp(timestamp uint32) BlockOption {
	return func(opts *BlockOptions) {
		opts.timestamp = timestamp
	}
}

func WithBits(bits uint32) BlockOption {
	return func(opts *BlockOptions) {
		opts.bits = bits
	}
}

func WithStateRoot(root chainhash.Hash) BlockOption {
	return func(opts *BlockOptions) {
		opts.stateRoot = root
	}
}

// WithCoinbase replaces the generated coinbase.
func WithCoinbase(tx *wire.MsgTx) BlockOption {
	return func(opts *BlockOptions) {
		opts.coinbase = tx
	}
}

// WithReward sets the value paid by the generated coinbase to the miner key.
func WithReward(reward int64, minerKey *btcec.PublicKey) BlockOption {
	return func(opts *BlockOptions) {
		opts.reward = reward
		opts.minerKey = minerKey
	}
}

// WithTransactions appends txs after the coinbase.
func WithTransactions(txs ...*wire.MsgTx) BlockOption {
	return func(opts *BlockOptions) {
		opts.txs = append(opts.txs, txs...)
	}
}

// WithTag sets the miner data of the generated coinbase, making otherwise identical blocks differ.
func WithTag(tag string) BlockOption {
	return func(opts *BlockOptions) {
		opts.tag = tag
	}
}

// WithoutMining leaves the nonce at zero.
func WithoutMining() BlockOption {
	return func(opts *BlockOptions) {
		opts.noMining = true
	}
}

// Create builds a block at height on top of prev, computes its merkle root and mines it against
// its bits. The default bits are the regtest limit, so mining takes a couple of attempts.
func Create(t testing.TB, prev *model.BlockHeader, height int32, options ...BlockOption) *model.Block {
	opts := &BlockOptions{
		version:   4,
		timestamp: prev.Timestamp + 240,
		bits:      prev.Bits,
		stateRoot: *prev.HashStateRoot,
		tag:       "miner",
	}

	for _, option := range options {
		option(opts)
	}

	coinbase := opts.coinbase
	if coinbase == nil {
		coinbaseOpts := []transactions.TxOption{transactions.WithCoinbaseData(height, opts.tag)}

		if opts.minerKey != nil {
			coinbaseOpts = append(coinbaseOpts, transactions.WithP2PKHOutputs(1, opts.reward, opts.minerKey))
		} else {
			coinbaseOpts = append(coinbaseOpts, transactions.WithOpReturnData([]byte(opts.tag)))
		}

		coinbase = transactions.Create(t, coinbaseOpts...)
	}

	txs := append([]*wire.MsgTx{coinbase}, opts.txs...)

	block := model.NewBlock(&model.BlockHeader{
		Version:       opts.version,
		HashPrevBlock: prev.Hash(),
		Timestamp:     opts.timestamp,
		Bits:          opts.bits,
		HashStateRoot: &opts.stateRoot,
	}, txs)

	merkleRoot := block.CalcMerkleRoot(false)
	block.Header.HashMerkleRoot = &merkleRoot

	if !opts.noMining {
		Mine(t, block.Header)
	}

	return block
}

// Mine increments the nonce of header until its hash meets the target.
func Mine(t testing.TB, header *model.BlockHeader) {
	for {
		ok, err := header.HasMetTargetDifficulty()
		require.NoError(t, err)

		if ok {
			return
		}

		header.Nonce++
	}
}
