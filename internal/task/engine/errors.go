package engine

import "errors"

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrStopping  = errors.New("worker pool stopping")
	ErrQueueFull = errors.New("worker pool queue full")
)
