package pipeline

import (
	"fmt"

	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/op"
)

// Kind distinguishes notification types.
type Kind int

const (
	// KindStateChanged fires at every controller settle point.
	KindStateChanged Kind = iota + 1
	// KindConnected fires when the pipeline becomes usable.
	KindConnected
	// KindDisconnected fires when the pipeline stops being usable.
	KindDisconnected
	// KindQueued fires after a request joins the queue.
	KindQueued
	// KindStarted fires when the loop begins a request.
	KindStarted
	// KindCompleted carries the single result of a request.
	KindCompleted
	// KindQueueSize reports the queue length after it changed.
	KindQueueSize
	// KindError reports a pipeline-level failure.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStateChanged:
		return "state_changed"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindQueued:
		return "queued"
	case KindStarted:
		return "started"
	case KindCompleted:
		return "completed"
	case KindQueueSize:
		return "queue_size"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Notification is emitted by the pipeline, in order, on its goroutine.
type Notification struct {
	Kind Kind

	// State is set for KindStateChanged.
	State machine.State

	// OperationID is set for KindQueued, KindStarted and KindCompleted.
	OperationID string

	// Result is set for KindCompleted.
	Result op.Result

	// QueueSize is set for KindQueueSize.
	QueueSize int

	// Error is set for KindError.
	Error string
}
