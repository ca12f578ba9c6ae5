package concurrency

import "time"

// Outcome describes how a task that acquired a permit finished.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
	OutcomePanic Outcome = "panic"
)

// Observer receives executor lifecycle events, e.g. for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	TaskSubmitted(executor string)
	TaskRejected(executor string)
	TaskStarted(executor string, waited time.Duration)
	TaskFinished(executor string, ran time.Duration, outcome Outcome)
	TaskDiscarded(executor string)
	StateChanged(executor string, state State)
}

type nopObserver struct{}

func (nopObserver) TaskSubmitted(string) {}
func (nopObserver) TaskRejected(string) {}
func (nopObserver) TaskStarted(string, time.Duration) {}
func (nopObserver) TaskFinished(string, time.Duration, Outcome) {}
func (nopObserver) TaskDiscarded(string) {}
func (nopObserver) StateChanged(string, State) {}
