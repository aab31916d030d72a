package blockvalidation

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/bsv-blockchain/chainstate/chaincfg"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/services/blockchain"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	btcdchain "github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// StakeChecker validates what a proof-of-stake block proves instead of work.
type StakeChecker interface {
	// CheckKernel checks that coin, spent by the first input of the coinstake and confirmed at
	// coinTime, was entitled to stake a block with header.
	CheckKernel(header *model.BlockHeader, prevout wire.OutPoint, coin *model.Coin, coinTime int64) error

	// CheckBlockSignature checks that the block is signed by the key the coinstake pays to.
	CheckBlockSignature(block *model.Block) error
}

// KernelChecker is the default StakeChecker.
//
// The kernel hash is the double SHA-256 of the staked outpoint, the time of the block that
// confirmed the staked coin and the block time. It must not exceed the block target weighted by
// the staked value, and the coin must be at least the minimum stake age.
type KernelChecker struct {
	params *chaincfg.Params
}

func NewKernelChecker(params *chaincfg.Params) *KernelChecker {
	return &KernelChecker{params: params}
}

// KernelHash returns the stake kernel hash of prevout staked at blockTime.
func KernelHash(prevout wire.OutPoint, coinTime int64, blockTime uint32) chainhash.Hash {
	var buf [chainhash.HashSize + 4 + 4 + 4]byte

	copy(buf[:], prevout.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], prevout.Index)
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize+4:], uint32(coinTime))
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize+8:], blockTime)

	return chainhash.DoubleHashH(buf[:])
}

func (k *KernelChecker) CheckKernel(header *model.BlockHeader, prevout wire.OutPoint, coin *model.Coin, coinTime int64) error {
	age := header.Time() - coinTime
	if age < int64(k.params.StakeMinAge/time.Second) {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-kernel", "staked coin is %ds old", age)
	}

	if coin.Value <= 0 {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-kernel", "staked coin has no value")
	}

	weighted := new(big.Int).Mul(header.Target(), big.NewInt(coin.Value))
	kernel := KernelHash(prevout, coinTime, header.Timestamp)

	if btcdchain.HashToBig(&kernel).Cmp(weighted) > 0 {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-kernel", "kernel %s above the weighted target", kernel)
	}

	return nil
}

func (k *KernelChecker) CheckBlockSignature(block *model.Block) error {
	if len(block.Signature) == 0 {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-signature", "proof of stake block is not signed")
	}

	pubKey, compressed, err := ecdsa.RecoverCompact(block.Signature, block.Hash()[:])
	if err != nil {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-signature", "%s", err.Error())
	}

	serialized := pubKey.SerializeUncompressed()
	if compressed {
		serialized = pubKey.SerializeCompressed()
	}

	if !paysTo(block.Transactions[1].TxOut[1].PkScript, serialized) {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-blk-signature", "block is not signed by the staker")
	}

	return nil
}

// paysTo reports whether pkScript is a P2PK or P2PKH script of the serialized public key.
func paysTo(pkScript []byte, pubKey []byte) bool {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyTy:
		tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
		return tokenizer.Next() && bytes.Equal(tokenizer.Data(), pubKey)
	case txscript.PubKeyHashTy:
		return bytes.Equal(pkScript[3:23], btcutil.Hash160(pubKey))
	default:
		return false
	}
}

// SignBlock signs the header hash of block with the staker key.
func SignBlock(block *model.Block, privKey *btcec.PrivateKey) {
	block.Signature = ecdsa.SignCompact(privKey, block.Hash()[:], true)
}

// CheckProofOfStake checks the stake of a proof-of-stake block against the coin its coinstake
// spends. It runs at connect time, before the coinstake inputs are spent from view.
func (bv *BlockValidator) CheckProofOfStake(block *model.Block, prev *blockchain.Node, view coins.View) error {
	if !block.IsProofOfStake() {
		return nil
	}

	prevout := block.Transactions[1].TxIn[0].PreviousOutPoint

	coin, err := view.GetCoin(prevout)
	if err != nil {
		return errors.NewStorageError("failed to read staked coin %s", prevout, err)
	}

	if coin == nil {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-prevout", "staked coin %s is missing or spent", prevout)
	}

	coinHeight, err := safeconversion.Uint32ToInt32(coin.Height)
	if err != nil {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-prevout", "staked coin %s has height %d", prevout, coin.Height, err)
	}

	confirmed := bv.index.Ancestor(prev, coinHeight)
	if confirmed == nil {
		return errors.NewBlockInvalidError(dosMax, errors.RejectInvalid, "bad-cs-prevout", "staked coin %s confirmed above the parent", prevout)
	}

	if err = bv.stake.CheckKernel(block.Header, prevout, coin, confirmed.Time()); err != nil {
		prometheusBlockValidationStakeFailures.Inc()
		return err
	}

	return nil
}
