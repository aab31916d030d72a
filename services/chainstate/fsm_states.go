package chainstate

// FSMStateType is a state of the chain state lifecycle.
type FSMStateType string

const (
	FSMStateStopped FSMStateType = "STOPPED"
	FSMStateRunning FSMStateType = "RUNNING"
	// FSMStateAborted is entered after a local fault. The on-disk state is still consistent up to
	// the last flush, but nothing is processed until the chain state is stopped and restarted.
	FSMStateAborted FSMStateType = "ABORTED"
)

func (s FSMStateType) String() string {
	return string(s)
}

// FSMEventType is an event moving the lifecycle between states.
type FSMEventType string

const (
	FSMEventRun   FSMEventType = "RUN"
	FSMEventAbort FSMEventType = "ABORT"
	FSMEventStop  FSMEventType = "STOP"
)

func (e FSMEventType) String() string {
	return string(e)
}
