package op

import (
	"time"

	"github.com/roach88/sqlpipe/internal/value"
)

// Result is the outcome of one request. Exactly one Result is emitted per
// enqueued request.
type Result struct {
	OperationID string
	Success     bool
	Error       string
	Data        value.Value
	CompletedAt time.Time
}

// Succeeded builds a successful result carrying data.
func Succeeded(id string, data value.Value, at time.Time) Result {
	if data == nil {
		data = value.Null{}
	}
	return Result{OperationID: id, Success: true, Data: data, CompletedAt: at}
}

// Failed builds a failed result carrying msg.
func Failed(id, msg string, at time.Time) Result {
	return Result{OperationID: id, Error: msg, Data: value.Null{}, CompletedAt: at}
}

// Payload returns Data for a success and the error text otherwise.
func (r Result) Payload() value.Value {
	if r.Success {
		return r.Data
	}
	return value.String(r.Error)
}
