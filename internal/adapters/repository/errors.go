package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("sample already stored")
	ErrClosed    = errors.New("store closed")
)
