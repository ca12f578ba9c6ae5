package concurrency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, parallelism int, drain time.Duration, obs Observer) *BoundedExecutor {
	t.Helper()

	e, err := NewBoundedExecutor(context.Background(), BoundedExecutorConfig{
		Name:         t.Name(),
		Parallelism:  parallelism,
		DrainTimeout: drain,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:     obs,
	})
	if err != nil {
		t.Fatalf("NewBoundedExecutor() error = %v", err)
	}
	t.Cleanup(func() { e.ShutdownNow() })
	return e
}

// countingObserver counts state transitions and task events.
type countingObserver struct {
	nopObserver
	stopping  atomic.Int64
	stopped   atomic.Int64
	rejected  atomic.Int64
	discarded atomic.Int64
	outcomes  sync.Map // Outcome -> *atomic.Int64
}

func (o *countingObserver) StateChanged(_ string, s State) {
	switch s {
	case StateStopping:
		o.stopping.Add(1)
	case StateStopped:
		o.stopped.Add(1)
	}
}

func (o *countingObserver) TaskRejected(string)  { o.rejected.Add(1) }
func (o *countingObserver) TaskDiscarded(string) { o.discarded.Add(1) }

func (o *countingObserver) TaskFinished(_ string, _ time.Duration, outcome Outcome) {
	v, _ := o.outcomes.LoadOrStore(outcome, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (o *countingObserver) outcome(outcome Outcome) int64 {
	v, ok := o.outcomes.Load(outcome)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func TestNewBoundedExecutor_InvalidParallelism(t *testing.T) {
	t.Parallel()

	for _, p := range []int{0, -1} {
		_, err := NewBoundedExecutor(context.Background(), DefaultBoundedExecutorConfig(p))
		if !errors.Is(err, ErrInvalidParallelism) {
			t.Errorf("NewBoundedExecutor(parallelism=%d) error = %v, want ErrInvalidParallelism", p, err)
		}
	}
}

func TestBoundedExecutor_InitialState(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 4, time.Second, nil)

	if e.IsShutdown() || e.IsTerminated() {
		t.Fatalf("new executor should be active, got %s", e.State())
	}
	if e.Parallelism() != 4 {
		t.Errorf("Parallelism() = %d, want 4", e.Parallelism())
	}
	if e.AwaitTermination(0) {
		t.Errorf("AwaitTermination(0) on active executor = true, want false")
	}
	if got := e.String(); !strings.Contains(got, "state=ACTIVE") || !strings.Contains(got, "[4/4]") {
		t.Errorf("String() = %q", got)
	}
}

func TestBoundedExecutor_NilTask(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 1, time.Second, nil)

	if err := e.Execute(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Execute(nil) error = %v, want ErrNilTask", err)
	}
	if err := e.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Submit(nil) error = %v, want ErrNilTask", err)
	}
}

func TestBoundedExecutor_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const (
		parallelism = 3
		tasks       = 30
	)
	e := newTestExecutor(t, parallelism, 5*time.Second, nil)

	var current, peak, done atomic.Int64
	for i := 0; i < tasks; i++ {
		err := e.Execute(func() {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			done.Add(1)
		})
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	e.Shutdown()
	if !e.AwaitTermination(5 * time.Second) {
		t.Fatalf("executor did not terminate")
	}

	if got := peak.Load(); got > parallelism {
		t.Fatalf("peak concurrency = %d, want <= %d", got, parallelism)
	}
	if got := done.Load(); got != tasks {
		t.Fatalf("completed = %d, want %d", got, tasks)
	}
	if s := e.Stats(); s.CompletedTasks != tasks || s.SubmittedTasks != tasks {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestBoundedExecutor_IdempotentShutdown(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	e := newTestExecutor(t, 2, time.Second, obs)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				e.Shutdown()
			} else {
				if got := e.ShutdownNow(); len(got) != 0 {
					t.Errorf("ShutdownNow() returned %d tasks, want 0", len(got))
				}
			}
		}(i)
	}
	wg.Wait()

	if !e.AwaitTermination(2 * time.Second) {
		t.Fatalf("executor did not terminate")
	}
	// Give a losing drain goroutine, if any, a chance to misbehave.
	time.Sleep(20 * time.Millisecond)

	if got := obs.stopping.Load(); got != 1 {
		t.Errorf("Stopping transitions = %d, want 1", got)
	}
	if got := obs.stopped.Load(); got != 1 {
		t.Errorf("Stopped transitions = %d, want 1", got)
	}
	if !e.IsTerminated() {
		t.Errorf("IsTerminated() = false after termination")
	}
}

func TestBoundedExecutor_RejectsAfterShutdown(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	e := newTestExecutor(t, 2, time.Second, obs)

	e.Shutdown()
	if !e.IsShutdown() {
		t.Fatalf("IsShutdown() = false after Shutdown()")
	}

	var ran atomic.Int64
	err := e.Execute(func() { ran.Add(1) })
	if !errors.Is(err, ErrRejectedExecution) {
		t.Fatalf("Execute() after Shutdown error = %v, want ErrRejectedExecution", err)
	}
	err = e.Submit(NewNamedTask("late", func(context.Context) error {
		ran.Add(1)
		return nil
	}))
	if !errors.Is(err, ErrRejectedExecution) {
		t.Fatalf("Submit() after Shutdown error = %v, want ErrRejectedExecution", err)
	}

	if !e.AwaitTermination(time.Second) {
		t.Fatalf("executor did not terminate")
	}
	if err := e.Execute(func() { ran.Add(1) }); !errors.Is(err, ErrRejectedExecution) {
		t.Fatalf("Execute() after termination error = %v, want ErrRejectedExecution", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := ran.Load(); got != 0 {
		t.Fatalf("rejected actions ran %d times", got)
	}
	if got := obs.rejected.Load(); got != 3 {
		t.Errorf("rejected = %d, want 3", got)
	}
}

func TestBoundedExecutor_GracefulDrain(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 4, 30*time.Second, nil)

	var finished atomic.Int64
	for i := 0; i < 3; i++ {
		if err := e.Execute(func() {
			time.Sleep(100 * time.Millisecond)
			finished.Add(1)
		}); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	e.Shutdown()
	if e.IsTerminated() {
		t.Fatalf("executor terminated before work drained")
	}

	if !e.AwaitTermination(5 * time.Second) {
		t.Fatalf("AwaitTermination(5s) = false, want true")
	}
	if got := finished.Load(); got != 3 {
		t.Fatalf("finished = %d, want 3", got)
	}
}

func TestBoundedExecutor_ShutdownNow(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	e := newTestExecutor(t, 1, 30*time.Second, obs)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	err := e.Submit(NewNamedTask("long", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(10 * time.Second):
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	// The only permit is held, so this one waits and never starts.
	var queuedRan atomic.Bool
	if err := e.Execute(func() { queuedRan.Store(true) }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().WaitingTasks == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	begin := time.Now()
	dropped := e.ShutdownNow()

	if dropped == nil || len(dropped) != 0 {
		t.Fatalf("ShutdownNow() = %v, want empty non-nil slice", dropped)
	}
	if !e.IsTerminated() {
		t.Fatalf("IsTerminated() = false right after ShutdownNow()")
	}
	if !e.AwaitTermination(time.Second) {
		t.Fatalf("AwaitTermination() = false after ShutdownNow()")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("ShutdownNow took %v", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("running task did not observe cancellation")
	}

	deadline = time.Now().Add(2 * time.Second)
	for obs.discarded.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if obs.discarded.Load() != 1 {
		t.Errorf("discarded = %d, want 1", obs.discarded.Load())
	}
	if queuedRan.Load() {
		t.Errorf("queued action ran after ShutdownNow()")
	}
}

func TestBoundedExecutor_DrainTimeout(t *testing.T) {
	t.Parallel()

	e := newTestExecutor(t, 1, 100*time.Millisecond, nil)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var finished atomic.Bool
	if err := e.Execute(func() {
		<-release
		finished.Store(true)
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	e.Shutdown()

	if e.AwaitTermination(20 * time.Millisecond) {
		t.Fatalf("AwaitTermination(20ms) = true before drain timeout")
	}
	if !e.AwaitTermination(2 * time.Second) {
		t.Fatalf("executor did not stop at the drain timeout")
	}
	if finished.Load() {
		t.Fatalf("work finished, so the timeout path was not exercised")
	}
	if s := e.Stats(); s.RunningTasks != 1 {
		t.Errorf("RunningTasks = %d, want 1 (timeout must not cancel work)", s.RunningTasks)
	}
}

func TestBoundedExecutor_PanicReleasesPermit(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	e := newTestExecutor(t, 1, 5*time.Second, obs)

	if err := e.Execute(func() { panic("boom") }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := e.Submit(NewNamedTask("failing", func(context.Context) error {
		return errors.New("failed")
	})); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ran := make(chan struct{})
	if err := e.Execute(func() { close(ran) }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("permit was not released after panic")
	}

	e.Shutdown()
	if !e.AwaitTermination(2 * time.Second) {
		t.Fatalf("executor did not terminate")
	}
	if got := obs.outcome(OutcomePanic); got != 1 {
		t.Errorf("panic outcomes = %d, want 1", got)
	}
	if got := obs.outcome(OutcomeError); got != 1 {
		t.Errorf("error outcomes = %d, want 1", got)
	}
	if got := e.Stats().PanickedTasks; got != 1 {
		t.Errorf("PanickedTasks = %d, want 1", got)
	}
}

func TestBoundedExecutor_ParentContextCancelsTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	e, err := NewBoundedExecutor(ctx, BoundedExecutorConfig{
		Parallelism: 1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewBoundedExecutor() error = %v", err)
	}
	defer e.ShutdownNow()

	started := make(chan struct{})
	stopped := make(chan struct{})
	if err := e.Submit(TaskFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	<-started
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not observe parent cancellation")
	}
	if e.IsShutdown() {
		t.Errorf("parent cancellation must not change executor state")
	}
}

func TestBoundedExecutor_ParentCancelledBeforeStartDiscards(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs := &countingObserver{}
	e, err := NewBoundedExecutor(ctx, BoundedExecutorConfig{
		Parallelism: 1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:    obs,
	})
	if err != nil {
		t.Fatalf("NewBoundedExecutor() error = %v", err)
	}
	defer e.ShutdownNow()

	var ran atomic.Bool
	if err := e.Execute(func() { ran.Store(true) }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().DiscardedTasks == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := e.Stats().DiscardedTasks; got != 1 {
		t.Fatalf("DiscardedTasks = %d, want 1", got)
	}
	if got := obs.discarded.Load(); got != 1 {
		t.Errorf("observer discarded = %d, want 1", got)
	}
	if ran.Load() {
		t.Errorf("task ran on a cancelled context")
	}
	if e.IsShutdown() {
		t.Errorf("parent cancellation must not change executor state")
	}
}
