package domain

import "errors"

var (
	// ErrInvalidConfig wraps every startup-fatal configuration problem.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownSource is returned when an update names a source that was never registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrAlreadyStarted guards components that can only be started once.
	ErrAlreadyStarted = errors.New("already started")
)
