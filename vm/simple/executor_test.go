package simple

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender = vm.Address{0x01}
	payee  = vm.Address{0x02}
	env    = &vm.Env{Height: 10, Timestamp: 1_700_000_000, GasLimit: 40_000_000}
)

func newState(t *testing.T) *StateDB {
	t.Helper()

	state, err := NewMemoryStateDB()
	require.NoError(t, err)

	t.Cleanup(func() { _ = state.Close() })

	return state
}

func create(t *testing.T, e *Executor, state *StateDB, value uint64) vm.Address {
	t.Helper()

	res, err := e.Execute(context.Background(), state, &vm.Message{
		Sender:   sender,
		Create:   true,
		Value:    value,
		GasLimit: 2_500_000,
		GasPrice: 40,
		Data:     []byte("token"),
		TxID:     chainhash.HashH([]byte("create")),
	}, env)
	require.NoError(t, err)
	require.False(t, res.Excepted, res.Exception)

	return res.ContractAddress
}

func TestExecutor_Create(t *testing.T) {
	e := NewExecutor(ulogger.TestLogger{})
	state := newState(t)

	addr := create(t, e, state, 1_000)

	assert.Equal(t, ContractAddress(chainhash.HashH([]byte("create")), 0), addr)
	assert.Equal(t, []byte("token"), state.GetCode(addr))
	assert.Equal(t, uint64(1_000), state.GetBalance(addr))

	t.Run("collision", func(t *testing.T) {
		res, err := e.Execute(context.Background(), state, &vm.Message{
			Create:   true,
			GasLimit: 2_500_000,
			Data:     []byte("other"),
			TxID:     chainhash.HashH([]byte("create")),
		}, env)
		require.NoError(t, err)
		assert.True(t, res.Excepted)
		assert.Equal(t, uint64(2_500_000), res.GasUsed)
		assert.Equal(t, []byte("token"), state.GetCode(addr))
	})
}

func TestExecutor_Call(t *testing.T) {
	e := NewExecutor(ulogger.TestLogger{})
	state := newState(t)
	addr := create(t, e, state, 0)

	program := NewProgram().Store([]byte("k"), []byte("v")).Transfer(payee, 300).Bytes()

	res, err := e.Execute(context.Background(), state, &vm.Message{
		Sender:   sender,
		To:       addr,
		Value:    500,
		GasLimit: 100_000,
		Data:     program,
	}, env)
	require.NoError(t, err)
	require.False(t, res.Excepted, res.Exception)

	assert.Equal(t, GasBase+GasDataByte*uint64(len(program))+GasStore+GasTransfer, res.GasUsed)
	assert.Equal(t, []vm.Transfer{{From: addr, To: payee, Value: 300}}, res.Transfers)
	assert.Equal(t, uint64(200), state.GetBalance(addr))
	assert.Equal(t, []byte("v"), state.GetStorage(addr, []byte("k")))
}

func TestExecutor_Exceptions(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		gasLimit uint64
	}{
		{name: "overdrawn", data: NewProgram().Transfer(payee, 1_000_000).Bytes(), gasLimit: 100_000},
		{name: "out of gas", data: NewProgram().Store([]byte("a"), []byte("b")).Store([]byte("c"), []byte("d")).Bytes(), gasLimit: 25_000},
		{name: "unknown command", data: []byte{0xff}, gasLimit: 100_000},
		{name: "truncated", data: []byte{CmdTransfer, 0x01}, gasLimit: 100_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(ulogger.TestLogger{})
			state := newState(t)
			addr := create(t, e, state, 100)
			before := state.IntermediateRoot()

			res, err := e.Execute(context.Background(), state, &vm.Message{
				Sender:   sender,
				To:       addr,
				Value:    50,
				GasLimit: tt.gasLimit,
				Data:     tt.data,
			}, env)
			require.NoError(t, err)

			assert.True(t, res.Excepted)
			assert.Equal(t, tt.gasLimit, res.GasUsed)
			assert.Empty(t, res.Transfers)
			assert.Equal(t, before, state.IntermediateRoot())
			assert.Equal(t, uint64(100), state.GetBalance(addr))
		})
	}

	t.Run("call to unknown address", func(t *testing.T) {
		e := NewExecutor(ulogger.TestLogger{})
		state := newState(t)

		res, err := e.Execute(context.Background(), state, &vm.Message{To: payee, Value: 10, GasLimit: 30_000}, env)
		require.NoError(t, err)
		assert.True(t, res.Excepted)
		assert.False(t, state.Exists(payee))
	})

	t.Run("canceled", func(t *testing.T) {
		e := NewExecutor(ulogger.TestLogger{})
		state := newState(t)
		addr := create(t, e, state, 0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Execute(ctx, state, &vm.Message{To: addr, GasLimit: 100_000, Data: NewProgram().Store([]byte("a"), []byte("b")).Bytes()}, env)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrContextCanceled))
		assert.Nil(t, state.GetStorage(addr, []byte("a")))
	})
}

func TestExecutor_Deterministic(t *testing.T) {
	run := func() (chainhash.Hash, *vm.Result) {
		e := NewExecutor(ulogger.TestLogger{})
		state := newState(t)
		addr := create(t, e, state, 1_000)

		res, err := e.Execute(context.Background(), state, &vm.Message{
			To:       addr,
			GasLimit: 200_000,
			Data:     NewProgram().Store([]byte("x"), []byte("1")).Store([]byte("y"), []byte("2")).Transfer(payee, 10).Bytes(),
		}, env)
		require.NoError(t, err)

		root, err := state.Commit(context.Background())
		require.NoError(t, err)

		return root, res
	}

	root1, res1 := run()
	root2, res2 := run()

	assert.Equal(t, root1, root2)
	assert.Equal(t, res1, res2)
	assert.NotEqual(t, chainhash.Hash{}, root1)
}
