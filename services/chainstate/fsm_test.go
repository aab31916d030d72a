package chainstate

import (
	"context"
	"testing"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/vm/simple"
	"github.com/stretchr/testify/require"
)

func Test_NewFiniteStateMachine(t *testing.T) {
	ctx := context.Background()
	tSettings := testSettings(t.TempDir())

	stores, err := OpenStores(ulogger.TestLogger{}, tSettings)
	require.NoError(t, err)

	defer func() {
		_ = stores.Close()
	}()

	cs := New(ulogger.TestLogger{}, tSettings, stores, simple.NewExecutor(ulogger.TestLogger{}), nil)

	fsm := cs.NewFiniteStateMachine()
	require.NotNil(t, fsm)
	require.Equal(t, "STOPPED", fsm.Current())
	require.True(t, fsm.Can(FSMEventRun.String()))
	require.False(t, fsm.Can(FSMEventAbort.String()))

	t.Run("Transition from Stopped to Running", func(t *testing.T) {
		err := fsm.Event(ctx, FSMEventRun.String())
		require.NoError(t, err)
		require.Equal(t, "RUNNING", fsm.Current())
		require.True(t, fsm.Can(FSMEventAbort.String()))
		require.True(t, fsm.Can(FSMEventStop.String()))

		state, err := stores.BlockIndex.GetState(ctx, "fsm_state")
		require.NoError(t, err)
		require.Equal(t, "RUNNING", string(state))
	})

	t.Run("Transition from Running to Running", func(t *testing.T) {
		err := fsm.Event(ctx, FSMEventRun.String())
		require.Error(t, err)
		require.Equal(t, "RUNNING", fsm.Current())
	})

	t.Run("Transition from Running to Aborted", func(t *testing.T) {
		err := fsm.Event(ctx, FSMEventAbort.String())
		require.NoError(t, err)
		require.Equal(t, "ABORTED", fsm.Current())
		require.False(t, fsm.Can(FSMEventRun.String()))
		require.True(t, fsm.Can(FSMEventStop.String()))

		state, err := stores.BlockIndex.GetState(ctx, "fsm_state")
		require.NoError(t, err)
		require.Equal(t, "ABORTED", string(state))
	})

	t.Run("Transition from Aborted to Stopped", func(t *testing.T) {
		err := fsm.Event(ctx, FSMEventStop.String())
		require.NoError(t, err)
		require.Equal(t, "STOPPED", fsm.Current())
		require.True(t, fsm.Can(FSMEventRun.String()))

		state, err := stores.BlockIndex.GetState(ctx, "fsm_state")
		require.NoError(t, err)
		require.Equal(t, "ABORTED", string(state))
	})
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	tc := newTestChainState(t, dataDir)

	tc.mine(t)
	require.NoError(t, tc.cs.FlushStateToDisk(ctx, FlushAlways))

	t.Run("context errors do not abort", func(t *testing.T) {
		err := tc.cs.abort(ctx, errors.NewContextCanceledError("canceled", context.Canceled))
		require.True(t, errors.IsContextError(err))
		require.Equal(t, FSMStateRunning, tc.cs.State())
	})

	t.Run("local faults abort", func(t *testing.T) {
		err := tc.cs.abort(ctx, errors.NewStorageError("disk gone"))
		require.True(t, errors.Is(err, errors.ErrStateAborted))
		require.Equal(t, FSMStateAborted, tc.cs.State())

		err = tc.cs.ProcessNewBlock(ctx, tc.build(t, tc.cs.Tip()), "peer")
		require.True(t, errors.Is(err, errors.ErrStateAborted))

		_, err = tc.cs.AcceptToMemoryPool(ctx, nil, "peer")
		require.True(t, errors.Is(err, errors.ErrStateAborted))
	})

	t.Run("restart verifies the chain", func(t *testing.T) {
		tip := tc.cs.Tip()

		require.NoError(t, tc.cs.Stop(ctx))
		require.NoError(t, tc.stores.Close())

		state, err := func() ([]byte, error) {
			stores, err := OpenStores(ulogger.TestLogger{}, testSettings(dataDir))
			require.NoError(t, err)

			defer func() {
				_ = stores.Close()
			}()

			return stores.BlockIndex.GetState(ctx, "fsm_state")
		}()
		require.NoError(t, err)
		require.Equal(t, "ABORTED", string(state))

		restarted := newTestChainState(t, dataDir)
		require.Equal(t, FSMStateRunning, restarted.cs.State())
		require.Equal(t, tip.Hash, restarted.cs.Tip().Hash)
	})
}
