package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultDrainTimeout bounds how long Shutdown waits for submitted work.
const DefaultDrainTimeout = 30 * time.Second

// ExecutorStats is a point-in-time view of a BoundedExecutor.
type ExecutorStats struct {
	State          State
	Parallelism    int
	RunningTasks   int64 // Tasks holding a permit
	WaitingTasks   int64 // Tasks waiting for a permit
	SubmittedTasks int64
	CompletedTasks int64
	RejectedTasks  int64
	PanickedTasks  int64
	DiscardedTasks int64 // Tasks abandoned by ShutdownNow before they started
}

// BoundedExecutorConfig configures a BoundedExecutor.
type BoundedExecutorConfig struct {
	// Name appears in logs, metrics labels and String().
	Name string

	// Parallelism is the maximum number of tasks running at once.
	// Resolve it from the host once, at startup, and pass it here.
	Parallelism int

	// DrainTimeout bounds the graceful shutdown wait. Zero means DefaultDrainTimeout.
	DrainTimeout time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// DefaultBoundedExecutorConfig returns a config with the given parallelism.
func DefaultBoundedExecutorConfig(parallelism int) BoundedExecutorConfig {
	return BoundedExecutorConfig{
		Name:         "bounded-executor",
		Parallelism:  parallelism,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// BoundedExecutor runs submitted work on goroutines, at most Parallelism at a time.
//
// Every submission gets its own goroutine, which waits for a permit before
// running the task and gives the permit back when the task returns or panics.
// The executor exposes the blocking-executor contract on top of that:
// Shutdown drains in the background, ShutdownNow cancels, and
// AwaitTermination blocks until the executor reaches StateStopped.
type BoundedExecutor struct {
	name         string
	parallelism  int
	drainTimeout time.Duration
	logger       *slog.Logger
	observer     Observer

	permits *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders submissions against the Active->Stopping transition so the
	// drain wait never misses a goroutine added concurrently.
	mu    sync.RWMutex
	state atomic.Int32
	wg    sync.WaitGroup
	done  chan struct{}

	running   atomic.Int64
	waiting   atomic.Int64
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
	discarded atomic.Int64
}

// NewBoundedExecutor creates an executor scoped to ctx. Cancelling ctx
// cancels running tasks and discards waiting ones, but does not change the
// executor's state; call Shutdown or ShutdownNow for that.
func NewBoundedExecutor(ctx context.Context, config BoundedExecutorConfig) (*BoundedExecutor, error) {
	if ctx == nil {
		return nil, fmt.Errorf("concurrency: ctx cannot be nil")
	}
	if config.Parallelism < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidParallelism, config.Parallelism)
	}
	if config.Name == "" {
		config.Name = "bounded-executor"
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(ctx)
	return &BoundedExecutor{
		name:         config.Name,
		parallelism:  config.Parallelism,
		drainTimeout: config.DrainTimeout,
		logger:       config.Logger.With("executor", config.Name),
		observer:     config.Observer,
		permits:      semaphore.NewWeighted(int64(config.Parallelism)),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}, nil
}

// Execute schedules fn. It returns ErrRejectedExecution once the executor
// is shut down; fn is then never run.
func (e *BoundedExecutor) Execute(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return e.Submit(runnable(fn))
}

// Submit schedules task. It returns ErrRejectedExecution once the executor
// is shut down; task is then never run.
func (e *BoundedExecutor) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if st := e.State(); st != StateActive {
		e.rejected.Add(1)
		e.observer.TaskRejected(e.name)
		return fmt.Errorf("%w: executor %s is %s", ErrRejectedExecution, e.name, st)
	}

	e.wg.Add(1)
	e.submitted.Add(1)
	e.observer.TaskSubmitted(e.name)
	go e.run(task, time.Now())
	return nil
}

func (e *BoundedExecutor) run(task Task, submittedAt time.Time) {
	defer e.wg.Done()

	e.waiting.Add(1)
	err := e.permits.Acquire(e.ctx, 1)
	e.waiting.Add(-1)
	if err != nil {
		e.discard(task)
		return
	}
	defer e.permits.Release(1)

	// Acquire may succeed on an already cancelled ctx.
	if e.ctx.Err() != nil {
		e.discard(task)
		return
	}

	e.running.Add(1)
	defer e.running.Add(-1)

	e.observer.TaskStarted(e.name, time.Since(submittedAt))
	start := time.Now()
	outcome := e.invoke(task)
	e.completed.Add(1)
	e.observer.TaskFinished(e.name, time.Since(start), outcome)
}

// invoke runs task, isolating panics so they neither kill the process nor
// leak a permit.
func (e *BoundedExecutor) invoke(task Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.panicked.Add(1)
			e.logger.Error("task panicked", "task", task.Name(), "panic", r)
			outcome = OutcomePanic
		}
	}()

	if err := task.Execute(e.ctx); err != nil {
		e.logger.Error("task failed", "task", task.Name(), "error", err)
		return OutcomeError
	}
	return OutcomeOK
}

func (e *BoundedExecutor) discard(task Task) {
	e.discarded.Add(1)
	e.observer.TaskDiscarded(e.name)
	e.logger.Debug("task discarded before start", "task", task.Name())
}

// Shutdown stops accepting work and lets submitted work finish. It returns
// immediately; the executor reaches StateStopped once all work is done or
// the drain timeout elapses, whichever comes first. Work still running at
// the timeout is not cancelled. Calls after the first are no-ops.
func (e *BoundedExecutor) Shutdown() {
	if !e.beginStopping() {
		return
	}
	e.logger.Info("executor shutting down", "drain_timeout", e.drainTimeout)
	go e.drain()
}

// ShutdownNow stops accepting work, cancels the context of running tasks,
// discards tasks that have not started, and moves straight to StateStopped.
//
// The returned slice is always empty: discarded tasks are not tracked.
// Calls after the first shutdown call are no-ops.
func (e *BoundedExecutor) ShutdownNow() []Task {
	if !e.beginStopping() {
		return []Task{}
	}
	e.logger.Info("executor shutting down now")
	e.cancel()
	e.markStopped()
	return []Task{}
}

func (e *BoundedExecutor) beginStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.CompareAndSwap(int32(StateActive), int32(StateStopping)) {
		return false
	}
	e.observer.StateChanged(e.name, StateStopping)
	return true
}

func (e *BoundedExecutor) drain() {
	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.cancel()
		close(drained)
	}()

	timer := time.NewTimer(e.drainTimeout)
	defer timer.Stop()

	select {
	case <-drained:
		e.logger.Info("executor drained")
	case <-timer.C:
		e.logger.Warn("executor drain timed out",
			"timeout", e.drainTimeout,
			"running", e.running.Load(),
			"waiting", e.waiting.Load())
	}
	e.markStopped()
}

func (e *BoundedExecutor) markStopped() {
	if !e.state.CompareAndSwap(int32(StateStopping), int32(StateStopped)) {
		return
	}
	close(e.done)
	e.observer.StateChanged(e.name, StateStopped)
	e.logger.Info("executor stopped")
}

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (e *BoundedExecutor) IsShutdown() bool {
	return e.State() >= StateStopping
}

// IsTerminated reports whether the executor has reached StateStopped.
func (e *BoundedExecutor) IsTerminated() bool {
	return e.State() == StateStopped
}

// AwaitTermination blocks until the executor is stopped or timeout elapses.
// It reports whether the executor stopped in time.
func (e *BoundedExecutor) AwaitTermination(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-e.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed when the executor reaches StateStopped.
func (e *BoundedExecutor) Done() <-chan struct{} {
	return e.done
}

// State returns the current lifecycle state.
func (e *BoundedExecutor) State() State {
	return State(e.state.Load())
}

// Parallelism returns the permit count fixed at construction.
func (e *BoundedExecutor) Parallelism() int {
	return e.parallelism
}

// Name returns the executor name.
func (e *BoundedExecutor) Name() string {
	return e.name
}

// Stats returns current executor statistics.
func (e *BoundedExecutor) Stats() ExecutorStats {
	return ExecutorStats{
		State:          e.State(),
		Parallelism:    e.parallelism,
		RunningTasks:   e.running.Load(),
		WaitingTasks:   e.waiting.Load(),
		SubmittedTasks: e.submitted.Load(),
		CompletedTasks: e.completed.Load(),
		RejectedTasks:  e.rejected.Load(),
		PanickedTasks:  e.panicked.Load(),
		DiscardedTasks: e.discarded.Load(),
	}
}

func (e *BoundedExecutor) String() string {
	available := int64(e.parallelism) - e.running.Load()
	if available < 0 {
		available = 0
	}
	return fmt.Sprintf("BoundedExecutor(name=%s, state=%s, availableTaskSlots=[%d/%d])",
		e.name, e.State(), available, e.parallelism)
}
