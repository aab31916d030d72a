// Package contract is the bridge between transactions and the contract VM.
//
// It extracts contract calls from transaction outputs, checks their gas parameters, executes them
// in block order against the VM state and turns the results (gas refunds, value transfers and
// values returned by failed calls) into outputs of one condensing transaction per contract
// transaction. The outputs of condensing transactions are added to the coin set like any other
// output; the contract outputs themselves never become coins.
package contract

import (
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/stores/coins"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const dosMax = 100

// Call is one contract output of a transaction with the sender it is executed for.
type Call struct {
	ScriptParams

	Sender vm.Address
	TxID   chainhash.Hash
	Vout   uint32
	Value  int64
}

// Message converts the call into a VM message.
func (c *Call) Message() *vm.Message {
	return &vm.Message{
		Sender:   c.Sender,
		To:       c.To,
		Create:   c.Create,
		Value:    uint64(c.Value),
		GasLimit: c.GasLimit,
		GasPrice: c.GasPrice,
		Data:     c.Data,
		TxID:     c.TxID,
		Vout:     c.Vout,
	}
}

// CheckSenderScript returns the sender of the contract calls of tx: the owner of the output spent
// by its first input, which must be a P2PKH or P2PK output.
func CheckSenderScript(view coins.View, tx *wire.MsgTx) (vm.Address, error) {
	if len(tx.TxIn) == 0 {
		return vm.Address{}, errors.NewContractInvalidError(dosMax, "bad-txns-invalid-sender-script", "transaction has no inputs")
	}

	outpoint := tx.TxIn[0].PreviousOutPoint

	coin, err := view.GetCoin(outpoint)
	if err != nil {
		return vm.Address{}, errors.NewStorageError("failed to read sender coin %s", outpoint, err)
	}

	if coin == nil {
		return vm.Address{}, errors.NewTxMissingInputsError("sender coin %s is missing or spent", outpoint)
	}

	sender, ok := senderAddress(coin.PkScript)
	if !ok {
		return vm.Address{}, errors.NewContractInvalidError(dosMax, "bad-txns-invalid-sender-script", "first input spends a %d byte script that cannot send", len(coin.PkScript))
	}

	return sender, nil
}

// ExtractParams decodes every contract output of tx. The coin spent by the first input must be
// in view. Transactions without contract outputs return no calls.
func ExtractParams(tx *wire.MsgTx, view coins.View) ([]*Call, error) {
	if !model.HasContractOutput(tx) {
		return nil, nil
	}

	if model.IsCoinBase(tx) || model.IsCoinStake(tx) {
		return nil, errors.NewContractInvalidError(dosMax, "bad-txns-contract-reward", "reward transactions cannot call contracts")
	}

	sender, err := CheckSenderScript(view, tx)
	if err != nil {
		return nil, err
	}

	txID := tx.TxHash()
	calls := make([]*Call, 0, 1)

	for i, out := range tx.TxOut {
		if !model.IsContractScript(out.PkScript) {
			continue
		}

		params, err := ParseScript(out.PkScript)
		if err != nil {
			return nil, err
		}

		calls = append(calls, &Call{
			ScriptParams: *params,
			Sender:       sender,
			TxID:         txID,
			Vout:         uint32(i),
			Value:        out.Value,
		})
	}

	return calls, nil
}

// CheckParams applies the consensus limits on the decoded parameters.
func CheckParams(calls []*Call, blockGasLimit uint64, maxMoney int64) error {
	for _, call := range calls {
		if call.Version != VMVersion {
			return errors.NewContractInvalidError(dosMax, "bad-tx-version-vm", "output %d has VM version %d", call.Vout, call.Version)
		}

		if call.GasPrice == 0 {
			return errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-tx-gas-price-zero", "output %d", call.Vout)
		}

		fee, ok := call.GasFee()
		if !ok || fee > uint64(maxMoney) {
			return errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-tx-gas-stipend-overflow", "output %d gas %d at %d", call.Vout, call.GasLimit, call.GasPrice)
		}

		if call.GasLimit > blockGasLimit {
			return errors.NewContractGasError(dosMax, errors.RejectInvalid, "bad-txns-gas-exceeds-blockgaslimit", "output %d gas limit %d > %d", call.Vout, call.GasLimit, blockGasLimit)
		}
	}

	return nil
}

// CheckMinGasPrice rejects calls paying less than minGasPrice per unit of gas.
func CheckMinGasPrice(calls []*Call, minGasPrice uint64, dos int) error {
	for _, call := range calls {
		if call.GasPrice < minGasPrice {
			return errors.NewContractGasError(dos, errors.RejectInsufficientFee, "bad-tx-low-gas-price", "output %d gas price %d < %d", call.Vout, call.GasPrice, minGasPrice)
		}
	}

	return nil
}

// CheckMinGasLimit rejects calls with a gas limit below minGasLimit.
func CheckMinGasLimit(calls []*Call, minGasLimit uint64, dos int) error {
	for _, call := range calls {
		if call.GasLimit < minGasLimit {
			return errors.NewContractGasError(dos, errors.RejectInvalid, "bad-tx-too-little-gas", "output %d gas limit %d < %d", call.Vout, call.GasLimit, minGasLimit)
		}
	}

	return nil
}

// CheckGasFee checks that the transaction fee covers the gas of all its calls.
func CheckGasFee(calls []*Call, fee int64) error {
	var total uint64

	for _, call := range calls {
		gasFee, _ := call.GasFee()
		total += gasFee
	}

	if fee < 0 || uint64(fee) < total {
		return errors.NewContractGasError(dosMax, errors.RejectInsufficientFee, "bad-txns-fee-notenough", "fee %d does not cover gas %d", fee, total)
	}

	return nil
}
