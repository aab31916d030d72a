package contract

import (
	"math"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/vm"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// VMVersion is the only contract script version accepted.
const VMVersion = 1

// maxScriptNumLen bounds the numeric pushes of a contract script.
const maxScriptNumLen = 8

// ScriptParams are the fields encoded in a contract output script:
//
//	<version> <gasLimit> <gasPrice> <data> OP_CREATE
//	<version> <gasLimit> <gasPrice> <data> <address> OP_CALL
type ScriptParams struct {
	Version  int64
	GasLimit uint64
	GasPrice uint64
	Data     []byte
	To       vm.Address
	Create   bool
}

// GasFee is the most the call can cost: gas limit times gas price.
func (p *ScriptParams) GasFee() (uint64, bool) {
	if p.GasPrice != 0 && p.GasLimit > math.MaxUint64/p.GasPrice {
		return 0, false
	}

	return p.GasLimit * p.GasPrice, true
}

// BuildScript encodes p as a contract output script.
func BuildScript(p *ScriptParams) ([]byte, error) {
	builder := txscript.NewScriptBuilder().
		AddInt64(p.Version).
		AddInt64(int64(p.GasLimit)).
		AddInt64(int64(p.GasPrice)).
		AddFullData(p.Data)

	if p.Create {
		builder.AddOp(model.OpCreate)
	} else {
		builder.AddData(p.To[:]).AddOp(model.OpCall)
	}

	script, err := builder.Script()
	if err != nil {
		return nil, errors.NewProcessingError("failed to build contract script", err)
	}

	return script, nil
}

// ParseScript decodes a contract output script. It reports malformed scripts only; the values are
// checked by CheckParams.
func ParseScript(pkScript []byte) (*ScriptParams, error) {
	if !model.IsContractScript(pkScript) {
		return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "not a contract script")
	}

	var pushes [][]byte

	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	for tokenizer.Next() {
		op := tokenizer.Opcode()

		switch {
		case op == model.OpCreate || op == model.OpCall:
			if tokenizer.ByteIndex() != int32(len(pkScript)) {
				return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "contract opcode before end of script")
			}
		case op == txscript.OP_0:
			pushes = append(pushes, nil)
		case op >= txscript.OP_1 && op <= txscript.OP_16:
			pushes = append(pushes, []byte{op - txscript.OP_1 + 1})
		case op <= txscript.OP_PUSHDATA4:
			pushes = append(pushes, tokenizer.Data())
		default:
			return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "unexpected opcode 0x%02x", op)
		}
	}

	if err := tokenizer.Err(); err != nil {
		return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "malformed script: %s", err.Error())
	}

	p := &ScriptParams{Create: pkScript[len(pkScript)-1] == model.OpCreate}

	want := 5
	if p.Create {
		want = 4
	}

	if len(pushes) != want {
		return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "expected %d pushes, got %d", want, len(pushes))
	}

	version, err := scriptNum(pushes[0])
	if err != nil {
		return nil, err
	}

	gasLimit, err := scriptNum(pushes[1])
	if err != nil {
		return nil, err
	}

	gasPrice, err := scriptNum(pushes[2])
	if err != nil {
		return nil, err
	}

	p.Version = version
	p.GasLimit = uint64(gasLimit)
	p.GasPrice = uint64(gasPrice)
	p.Data = pushes[3]

	if !p.Create {
		to, ok := vm.AddressFromBytes(pushes[4])
		if !ok {
			return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "call address is %d bytes", len(pushes[4]))
		}

		p.To = to
	}

	return p, nil
}

// scriptNum decodes a non-negative little endian script number with the sign in the top bit.
func scriptNum(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}

	if len(b) > maxScriptNumLen {
		return 0, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "number push of %d bytes", len(b))
	}

	last := b[len(b)-1]
	if last&0x80 != 0 {
		return 0, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "negative number")
	}

	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	n, err := safeconversion.Uint64ToInt64(v)
	if err != nil {
		return 0, errors.NewContractInvalidError(dosMax, "bad-txns-contract-script", "number %d out of range", v, err)
	}

	return n, nil
}

// senderAddress returns the hash160 identifying the owner of pkScript. Only P2PKH and P2PK
// scripts can send contract calls.
func senderAddress(pkScript []byte) (vm.Address, bool) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return vm.AddressFromBytes(pkScript[3:23])
	case txscript.PubKeyTy:
		tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
		if !tokenizer.Next() {
			return vm.Address{}, false
		}

		return vm.AddressFromBytes(btcutil.Hash160(tokenizer.Data()))
	default:
		return vm.Address{}, false
	}
}

// P2PKHScript pays to addr as a public key hash.
func P2PKHScript(addr vm.Address) []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(addr[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()

	return script
}
