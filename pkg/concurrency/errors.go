package concurrency

import "errors"

var (
	// ErrRejectedExecution is returned when work is submitted to an executor
	// that is no longer accepting it.
	ErrRejectedExecution = errors.New("concurrency: rejected execution")

	// ErrNilTask is returned when a nil task or func is submitted.
	ErrNilTask = errors.New("concurrency: task cannot be nil")

	// ErrInvalidParallelism is returned by NewBoundedExecutor for parallelism < 1.
	ErrInvalidParallelism = errors.New("concurrency: parallelism must be positive")
)
