// Package simple is a small deterministic contract executor.
//
// A creation stores the output's data as the contract code at hash160(txid ‖ vout). A call
// credits the output value to the contract and runs the call data as a command list:
//
//	0x01 STORE    varbytes key, varbytes value
//	0x02 TRANSFER 20 byte address, 8 byte little endian amount
//
// Every message pays a fixed gas schedule; running out of gas, a malformed command or an
// overdrawn transfer is an exception that reverts the message and consumes its gas limit.
package simple

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Gas schedule.
const (
	GasBase     uint64 = 21_000
	GasDataByte uint64 = 16
	GasCreate   uint64 = 32_000
	GasCodeByte uint64 = 200
	GasStore    uint64 = 5_000
	GasTransfer uint64 = 9_000
)

const (
	CmdStore    byte = 0x01
	CmdTransfer byte = 0x02
)

// Executor implements vm.Executor.
type Executor struct {
	logger ulogger.Logger
}

func NewExecutor(logger ulogger.Logger) *Executor {
	return &Executor{logger: logger}
}

// ContractAddress returns the address of the contract created by output vout of txID.
func ContractAddress(txID chainhash.Hash, vout uint32) vm.Address {
	buf := make([]byte, 0, chainhash.HashSize+4)
	buf = append(buf, txID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, vout)

	addr, _ := vm.AddressFromBytes(btcutil.Hash160(buf))

	return addr
}

type exception string

func (e exception) Error() string {
	return string(e)
}

type gasMeter struct {
	limit uint64
	used  uint64
}

func (g *gasMeter) use(amount uint64) error {
	if amount > g.limit-g.used {
		g.used = g.limit
		return exception("out of gas")
	}

	g.used += amount

	return nil
}

// Execute runs msg against state. The state is left with the message applied, or reverted to
// its prior contents when the result is an exception.
func (e *Executor) Execute(ctx context.Context, state vm.StateDB, msg *vm.Message, env *vm.Env) (*vm.Result, error) {
	snapshot := state.Snapshot()
	gas := &gasMeter{limit: msg.GasLimit}
	result := &vm.Result{}

	err := e.execute(ctx, state, msg, gas, result)
	if err == nil {
		result.GasUsed = gas.used
		return result, nil
	}

	state.RevertToSnapshot(snapshot)

	var ex exception
	if !errors.As(err, &ex) {
		return nil, err
	}

	e.logger.Debugf("[vm] %s:%d excepted at height %d: %s", msg.TxID, msg.Vout, env.Height, ex)

	return &vm.Result{
		GasUsed:   msg.GasLimit,
		Excepted:  true,
		Exception: string(ex),
	}, nil
}

func (e *Executor) execute(ctx context.Context, state vm.StateDB, msg *vm.Message, gas *gasMeter, result *vm.Result) error {
	if err := gas.use(GasBase + GasDataByte*uint64(len(msg.Data))); err != nil {
		return err
	}

	if msg.Create {
		if len(msg.Data) == 0 || len(msg.Data) > maxCodeSize {
			return exception("invalid code size")
		}

		addr := ContractAddress(msg.TxID, msg.Vout)
		if state.Exists(addr) {
			return exception("contract address collision")
		}

		if err := gas.use(GasCreate + GasCodeByte*uint64(len(msg.Data))); err != nil {
			return err
		}

		state.SetCode(addr, msg.Data)
		state.AddBalance(addr, msg.Value)
		result.ContractAddress = addr

		return nil
	}

	if len(state.GetCode(msg.To)) == 0 {
		return exception("call to an address without code")
	}

	state.AddBalance(msg.To, msg.Value)

	return e.run(ctx, state, msg.To, msg.Data, gas, result)
}

func (e *Executor) run(ctx context.Context, state vm.StateDB, contract vm.Address, data []byte, gas *gasMeter, result *vm.Result) error {
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return errors.NewContextCanceledError("contract execution canceled", err)
		}

		cmd, _ := r.ReadByte()

		switch cmd {
		case CmdStore:
			if err := gas.use(GasStore); err != nil {
				return err
			}

			key, err := wire.ReadVarBytes(r, 0, maxStorageItem, "key")
			if err != nil {
				return exception("malformed store key")
			}

			value, err := wire.ReadVarBytes(r, 0, maxStorageItem, "value")
			if err != nil {
				return exception("malformed store value")
			}

			state.SetStorage(contract, key, value)

		case CmdTransfer:
			if err := gas.use(GasTransfer); err != nil {
				return err
			}

			var to vm.Address
			if _, err := io.ReadFull(r, to[:]); err != nil {
				return exception("malformed transfer address")
			}

			var amount [8]byte
			if _, err := io.ReadFull(r, amount[:]); err != nil {
				return exception("malformed transfer amount")
			}

			value := binary.LittleEndian.Uint64(amount[:])

			if !state.SubBalance(contract, value) {
				return exception("insufficient contract balance")
			}

			if len(state.GetCode(to)) > 0 {
				state.AddBalance(to, value)
				continue
			}

			result.Transfers = append(result.Transfers, vm.Transfer{From: contract, To: to, Value: value})

		default:
			return exception("unknown command")
		}
	}

	return nil
}

// Program builds call data.
type Program struct {
	buf bytes.Buffer
}

func NewProgram() *Program {
	return &Program{}
}

func (p *Program) Store(key, value []byte) *Program {
	p.buf.WriteByte(CmdStore)
	_ = wire.WriteVarBytes(&p.buf, 0, key)
	_ = wire.WriteVarBytes(&p.buf, 0, value)

	return p
}

func (p *Program) Transfer(to vm.Address, amount uint64) *Program {
	p.buf.WriteByte(CmdTransfer)
	p.buf.Write(to[:])

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], amount)
	p.buf.Write(b[:])

	return p
}

func (p *Program) Bytes() []byte {
	return p.buf.Bytes()
}
