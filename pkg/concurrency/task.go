package concurrency

import "context"

// Task is a unit of work run by an executor.
// The ctx passed to Execute is cancelled when the executor is shut down
// immediately; tasks that honour it stop early.
type Task interface {
	Execute(ctx context.Context) error

	// Name identifies the task in logs.
	Name() string
}

// TaskFunc lets a plain function be used as a Task.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name implements Task.
func (f TaskFunc) Name() string {
	return "TaskFunc"
}

// NamedTask pairs a TaskFunc with a name for logging.
type NamedTask struct {
	name string
	fn   TaskFunc
}

// NewNamedTask creates a NamedTask.
func NewNamedTask(name string, fn TaskFunc) *NamedTask {
	return &NamedTask{name: name, fn: fn}
}

// Execute implements Task.
func (t *NamedTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}

// Name implements Task.
func (t *NamedTask) Name() string {
	return t.name
}

// runnable adapts a zero-argument action. It ignores ctx: an action already
// running is never interrupted.
type runnable func()

func (r runnable) Execute(context.Context) error {
	r()
	return nil
}

func (r runnable) Name() string {
	return "runnable"
}
