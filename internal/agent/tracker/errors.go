package tracker

import "errors"

// ErrQueuedBehind marks a clock action held back because older actions are
// still waiting for replay.
var ErrQueuedBehind = errors.New("earlier actions are still queued")
