package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/maildemo/pkg/concurrency"
)

// Metrics holds the collectors for the executor, the SMTP server and the
// delivery sinks. It implements concurrency.Observer, smtpd.Observer and
// delivery.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Executor metrics
	ExecutorTasksTotal   *prometheus.CounterVec
	ExecutorTaskDuration *prometheus.HistogramVec
	ExecutorWaitDuration *prometheus.HistogramVec
	ExecutorRunningTasks *prometheus.GaugeVec
	ExecutorState        *prometheus.GaugeVec

	// SMTP metrics
	SMTPSessionsTotal prometheus.Counter
	SMTPMessagesTotal *prometheus.CounterVec
	SMTPMessageSize   prometheus.Histogram

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors, plus the Go and process collectors,
// on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ExecutorTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maildemo_executor_tasks_total",
				Help: "Tasks seen by the executor, by event",
			},
			[]string{"executor", "event"}, // event: submitted, rejected, discarded
		),
		ExecutorTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maildemo_executor_task_duration_seconds",
				Help:    "Time tasks spent running while holding a permit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"executor", "outcome"},
		),
		ExecutorWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maildemo_executor_task_wait_seconds",
				Help:    "Time tasks waited for a permit",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"executor"},
		),
		ExecutorRunningTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maildemo_executor_running_tasks",
				Help: "Tasks currently holding a permit",
			},
			[]string{"executor"},
		),
		ExecutorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maildemo_executor_state",
				Help: "Executor lifecycle state: 0 active, 1 stopping, 2 stopped",
			},
			[]string{"executor"},
		),

		SMTPSessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maildemo_smtp_sessions_total",
				Help: "SMTP sessions opened",
			},
		),
		SMTPMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maildemo_smtp_messages_total",
				Help: "Messages received over SMTP, by result",
			},
			[]string{"result"}, // result: accepted, rejected
		),
		SMTPMessageSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maildemo_smtp_message_size_bytes",
				Help:    "Size of accepted message data",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B to 4MB
			},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maildemo_deliveries_total",
				Help: "Deliveries to sinks, by sink and result",
			},
			[]string{"sink", "result"},
		),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TaskSubmitted implements concurrency.Observer.
func (m *Metrics) TaskSubmitted(executor string) {
	m.ExecutorTasksTotal.WithLabelValues(executor, "submitted").Inc()
}

// TaskRejected implements concurrency.Observer.
func (m *Metrics) TaskRejected(executor string) {
	m.ExecutorTasksTotal.WithLabelValues(executor, "rejected").Inc()
}

// TaskStarted implements concurrency.Observer.
func (m *Metrics) TaskStarted(executor string, waited time.Duration) {
	m.ExecutorWaitDuration.WithLabelValues(executor).Observe(waited.Seconds())
	m.ExecutorRunningTasks.WithLabelValues(executor).Inc()
}

// TaskFinished implements concurrency.Observer.
func (m *Metrics) TaskFinished(executor string, ran time.Duration, outcome concurrency.Outcome) {
	m.ExecutorRunningTasks.WithLabelValues(executor).Dec()
	m.ExecutorTaskDuration.WithLabelValues(executor, string(outcome)).Observe(ran.Seconds())
}

// TaskDiscarded implements concurrency.Observer.
func (m *Metrics) TaskDiscarded(executor string) {
	m.ExecutorTasksTotal.WithLabelValues(executor, "discarded").Inc()
}

// StateChanged implements concurrency.Observer.
func (m *Metrics) StateChanged(executor string, state concurrency.State) {
	m.ExecutorState.WithLabelValues(executor).Set(float64(state))
}

// SessionOpened implements smtpd.Observer.
func (m *Metrics) SessionOpened() {
	m.SMTPSessionsTotal.Inc()
}

// MessageAccepted implements smtpd.Observer.
func (m *Metrics) MessageAccepted(size int) {
	m.SMTPMessagesTotal.WithLabelValues("accepted").Inc()
	m.SMTPMessageSize.Observe(float64(size))
}

// MessageRejected implements smtpd.Observer.
func (m *Metrics) MessageRejected() {
	m.SMTPMessagesTotal.WithLabelValues("rejected").Inc()
}

// Delivered implements delivery.Observer.
func (m *Metrics) Delivered(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DeliveriesTotal.WithLabelValues(sink, result).Inc()
}
