package attendance

import (
	"errors"

	"github.com/okian/fieldguard/internal/domain/model"
)

// Sentinel kinds. ConflictError values match these with errors.Is.
var (
	ErrAlreadyClockedIn  = errors.New("already clocked in today")
	ErrAlreadyClockedOut = errors.New("already clocked out today")
	ErrNoClockIn         = errors.New("no clock-in record found for today")
)

// Conflict codes carried on the wire.
const (
	CodeAlreadyClockedIn  = "ALREADY_CLOCKED_IN"
	CodeAlreadyClockedOut = "ALREADY_CLOCKED_OUT"
	CodeNoClockIn         = "NO_CLOCK_IN"
)

// ConflictError reports a clock action that cannot apply to the current day.
// The first two kinds mean the action already took effect.
type ConflictError struct {
	Action  model.ActionKind
	Code    string
	Message string
	kind    error
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return e.kind }

// Reconciled reports whether the server state already reflects the action.
func (e *ConflictError) Reconciled() bool {
	return e.Code == CodeAlreadyClockedIn || e.Code == CodeAlreadyClockedOut
}

func alreadyClockedIn() error {
	return &ConflictError{Action: model.ActionTimeIn, Code: CodeAlreadyClockedIn,
		Message: "Already clocked in today", kind: ErrAlreadyClockedIn}
}

func alreadyClockedOut() error {
	return &ConflictError{Action: model.ActionTimeOut, Code: CodeAlreadyClockedOut,
		Message: "Already clocked out today", kind: ErrAlreadyClockedOut}
}

func noClockIn() error {
	return &ConflictError{Action: model.ActionTimeOut, Code: CodeNoClockIn,
		Message: "No clock-in record found for today", kind: ErrNoClockIn}
}
