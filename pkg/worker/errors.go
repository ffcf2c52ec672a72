package worker

import "errors"

var (
	// ErrPoolExhausted is reported when no slot frees up within the queue wait timeout.
	ErrPoolExhausted = errors.New("no worker slot available")
	ErrAborted       = errors.New("execution aborted")
)
