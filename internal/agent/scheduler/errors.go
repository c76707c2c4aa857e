package scheduler

import "errors"

// Sentinel errors returned by the scheduler.
var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
	ErrOffline       = errors.New("server unreachable")
)
