package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций жизненного цикла для метки result.
const (
	ResultSuccess   = "success"
	ResultConflict  = "conflict"
	ResultRejected  = "rejected"
	ResultNotFound  = "not_found"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
)

// LifecycleMetrics содержит метрики операций над объявлениями, сделками и отзывами.
type LifecycleMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	inFlight          prometheus.Gauge

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	ratingRefreshFailures prometheus.Counter

	reconcileRuns      prometheus.Counter
	reconciledListings prometheus.Counter
}

// NewLifecycleMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewLifecycleMetrics() *LifecycleMetrics {
	return NewLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLifecycleMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "campusmarket_lifecycle_operations_total",
			Help: "Total number of lifecycle operations by operation and result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "campusmarket_lifecycle_operation_duration_seconds",
			Help:    "Duration of lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "campusmarket_lifecycle_operations_in_flight",
			Help: "Number of lifecycle operations currently executing",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmarket_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmarket_outbox_events_total",
			Help: "Total number of lifecycle events enqueued to the outbox",
		}),
		ratingRefreshFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmarket_rating_refresh_failures_total",
			Help: "Total number of failed best-effort rating refreshes",
		}),
		reconcileRuns: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmarket_reconcile_runs_total",
			Help: "Total number of reservation reconcile passes",
		}),
		reconciledListings: registerCounter(registerer, prometheus.CounterOpts{
			Name: "campusmarket_reconciled_listings_total",
			Help: "Total number of orphaned reservations released",
		}),
	}
}

// ObserveOperation фиксирует исход и длительность операции.
func (m *LifecycleMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// OperationStarted увеличивает число выполняющихся операций.
func (m *LifecycleMetrics) OperationStarted() {
	m.inFlight.Inc()
}

// OperationFinished уменьшает число выполняющихся операций.
func (m *LifecycleMetrics) OperationFinished() {
	m.inFlight.Dec()
}

// RecordTimelineEvents увеличивает счётчик событий истории.
func (m *LifecycleMetrics) RecordTimelineEvents(n int) {
	m.timelineEvents.Add(float64(n))
}

// RecordOutboxEvents увеличивает счётчик событий outbox.
func (m *LifecycleMetrics) RecordOutboxEvents(n int) {
	m.outboxEvents.Add(float64(n))
}

// RecordRatingRefreshFailure считает проглоченную ошибку пересчёта рейтинга.
func (m *LifecycleMetrics) RecordRatingRefreshFailure() {
	m.ratingRefreshFailures.Inc()
}

// RecordReconcileRun отмечает проход сверки и число освобождённых объявлений.
func (m *LifecycleMetrics) RecordReconcileRun(released int) {
	m.reconcileRuns.Inc()
	m.reconciledListings.Add(float64(released))
}
