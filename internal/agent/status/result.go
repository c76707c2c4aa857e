// Package status carries what the agent reports to its user: the outcome of
// an action, and a tracking-health snapshot that subscribers can follow.
package status

// State tags a Result.
type State string

const (
	StateSuccess State = "SUCCESS"
	StatePending State = "PENDING"
	StateError   State = "ERROR"
)

// Result is the outcome of a user action. Exactly one of the three shapes
// holds: Success carries Value, Pending carries the queued action id (and
// the error that caused queueing), Error carries Err.
type Result[T any] struct {
	State     State
	Value     T
	PendingID uint64
	Err       error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{State: StateSuccess, Value: v}
}

// Pending reports an action queued for replay.
func Pending[T any](id uint64, cause error) Result[T] {
	return Result[T]{State: StatePending, PendingID: id, Err: cause}
}

// Failure reports an action that will not be retried.
func Failure[T any](err error) Result[T] {
	return Result[T]{State: StateError, Err: err}
}

// Message is a one-line description for display.
func (r Result[T]) Message() string {
	switch r.State {
	case StateSuccess:
		return "done"
	case StatePending:
		if r.Err != nil {
			return "saved offline, will sync: " + r.Err.Error()
		}
		return "saved offline, will sync"
	default:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "failed"
	}
}
