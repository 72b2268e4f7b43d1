package machine

// State is a controller state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInit          State = "init"
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateError         State = "error"
	StateFinal         State = "final"
)

// Connected reports whether the session is usable in s.
func (s State) Connected() bool {
	return s == StateIdle || s == StateRunning
}

// Event names a controller input.
type Event string

const (
	EventDBExists        Event = "db.exists"
	EventDBCreateSuccess Event = "db.create.success"
	EventDBCreateFail    Event = "db.create.fail"
	EventStart           Event = "start"
	EventStop            Event = "stop"
	EventTaskError       Event = "task.error"
	EventShutdown        Event = "shutdown"
	EventRetryExhausted  Event = "retry.exhausted"
)

// Action names an entry action. Actions are bound to code by the pipeline.
type Action string

const (
	ActionCheckDatabase   Action = "check.database"
	ActionRecordState     Action = "record.state"
	ActionResetRetryCount Action = "reset.retry.count"
	ActionResumePending   Action = "resume.pending"
	ActionStartTask       Action = "start.task"
	ActionHandleError     Action = "handle.error"
	ActionFailPending     Action = "fail.pending"
)

var (
	knownStates = map[State]bool{
		StateInit: true, StateIdle: true, StateRunning: true, StateError: true, StateFinal: true,
	}
	knownEvents = map[Event]bool{
		EventDBExists: true, EventDBCreateSuccess: true, EventDBCreateFail: true, EventStart: true,
		EventStop: true, EventTaskError: true, EventShutdown: true, EventRetryExhausted: true,
	}
	knownActions = map[Action]bool{
		ActionCheckDatabase: true, ActionRecordState: true, ActionResetRetryCount: true,
		ActionResumePending: true, ActionStartTask: true, ActionHandleError: true, ActionFailPending: true,
	}
)

// Actions returns every action name, in declaration order.
func Actions() []Action {
	return []Action{
		ActionCheckDatabase, ActionRecordState, ActionResetRetryCount,
		ActionResumePending, ActionStartTask, ActionHandleError, ActionFailPending,
	}
}
