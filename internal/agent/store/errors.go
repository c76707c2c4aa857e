package store

import "errors"

// Sentinel errors returned by the offline store.
var (
	ErrClosed        = errors.New("offline store closed")
	ErrNotFound      = errors.New("record not found")
	ErrBadPassphrase = errors.New("passphrase does not open this store")
	ErrCorrupt       = errors.New("record failed authentication")
)
