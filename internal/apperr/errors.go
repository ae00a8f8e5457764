// Package apperr holds sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyStarted = errors.New("already started")
	ErrStopped        = errors.New("stopped")
	ErrNotReady       = errors.New("not ready")
	ErrUnsupported    = errors.New("not supported")
)
