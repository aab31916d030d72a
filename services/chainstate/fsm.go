package chainstate

import (
	"context"

	"github.com/bsv-blockchain/chainstate/errors"
	blockindex "github.com/bsv-blockchain/chainstate/stores/blockchain"
	"github.com/looplab/fsm"
)

// NewFiniteStateMachine creates the lifecycle state machine of the chain state.
// The finite state machine has the following states:
// - Stopped
// - Running
// - Aborted
// The finite state machine has the following events:
// - Run
// - Abort
// - Stop
func (cs *ChainState) NewFiniteStateMachine(opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		FSMStateStopped.String(),
		fsm.Events{
			{
				Name: FSMEventRun.String(),
				Src: []string{
					FSMStateStopped.String(),
				},
				Dst: FSMStateRunning.String(),
			},
			{
				Name: FSMEventAbort.String(),
				Src: []string{
					FSMStateRunning.String(),
				},
				Dst: FSMStateAborted.String(),
			},
			{
				Name: FSMEventStop.String(),
				Src: []string{
					FSMStateRunning.String(),
					FSMStateAborted.String(),
				},
				Dst: FSMStateStopped.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				cs.logger.Infof("[ChainState] state changed from %s to %s on %s", e.Src, e.Dst, e.Event)
				prometheusChainStateState.Set(stateValue(FSMStateType(e.Dst)))

				// a stop after an abort keeps the abort on record for the next start
				if FSMStateType(e.Src) == FSMStateAborted {
					return
				}

				if err := cs.stores.BlockIndex.SetState(ctx, blockindex.StateFSM, []byte(e.Dst)); err != nil {
					cs.logger.Errorf("[ChainState] failed to persist state %s: %v", e.Dst, err)
				}
			},
		},
	)

	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}

func stateValue(state FSMStateType) float64 {
	switch state {
	case FSMStateRunning:
		return 1
	case FSMStateAborted:
		return 2
	default:
		return 0
	}
}

// State returns the current lifecycle state.
func (cs *ChainState) State() FSMStateType {
	return FSMStateType(cs.finiteStateMachine.Current())
}

// requireRunning fails unless blocks and transactions may be processed.
func (cs *ChainState) requireRunning() error {
	switch cs.State() {
	case FSMStateRunning:
		return nil
	case FSMStateAborted:
		return errors.NewStateAbortedError("chain state aborted after a local fault")
	default:
		return errors.NewServiceNotStartedError("chain state is not running")
	}
}

// abort moves the lifecycle to ABORTED after a local fault during block processing. A canceled
// context is not a fault: the work stops and err is returned as is.
func (cs *ChainState) abort(ctx context.Context, err error) error {
	if errors.IsContextError(err) {
		return err
	}

	cs.logger.Errorf("[ChainState] aborting: %v", err)

	if cs.State() == FSMStateRunning {
		if fsmErr := cs.finiteStateMachine.Event(context.WithoutCancel(ctx), FSMEventAbort.String()); fsmErr != nil {
			cs.logger.Errorf("[ChainState] failed to enter %s: %v", FSMStateAborted, fsmErr)
		}
	}

	return errors.NewStateAbortedError("chain state aborted", err)
}
