package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// SyncMetrics содержит метрики прогонов синхронизации и обращений к магазину.
type SyncMetrics struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	orders        *prometheus.CounterVec
	orderErrors   *prometheus.CounterVec
	failedWindows *prometheus.CounterVec

	remoteCalls        *prometheus.CounterVec
	remoteCallDuration *prometheus.HistogramVec
}

// NewSyncMetrics создаёт метрики в DefaultRegisterer.
func NewSyncMetrics() *SyncMetrics {
	return newSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_runs_total",
			Help: "Total number of sync runs grouped by mode and final status",
		}, []string{"mode", "status"}),
		runDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordersync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"mode"}),
		lastSuccess: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "ordersync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync run per mode",
		}, []string{"mode"}),
		orders: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_orders_total",
			Help: "Orders reconciled grouped by mode and outcome",
		}, []string{"mode", "outcome"}),
		orderErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_order_errors_total",
			Help: "Per-order errors recorded in run summaries",
		}, []string{"mode"}),
		failedWindows: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_failed_windows_total",
			Help: "Listing windows skipped because the remote call failed",
		}, []string{"mode"}),
		remoteCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_remote_calls_total",
			Help: "Remote SOAP calls grouped by method and result",
		}, []string{"method", "result"}),
		remoteCallDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordersync_remote_call_duration_seconds",
			Help:    "Duration of remote SOAP calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
	}
}

// RecordRun учитывает завершённый прогон.
func (m *SyncMetrics) RecordRun(mode domain.SyncMode, status domain.RunStatus, summary domain.RunSummary) {
	m.runs.WithLabelValues(string(mode), string(status)).Inc()
	m.runDuration.WithLabelValues(string(mode)).Observe(summary.Duration().Seconds())
	if n := summary.ErrorCount(); n > 0 {
		m.orderErrors.WithLabelValues(string(mode)).Add(float64(n))
	}
	if status == domain.RunSucceeded && !summary.FinishedAt.IsZero() {
		m.lastSuccess.WithLabelValues(string(mode)).Set(float64(summary.FinishedAt.Unix()))
	}
}

// RecordOutcome учитывает результат сверки одного заказа.
func (m *SyncMetrics) RecordOutcome(mode domain.SyncMode, outcome domain.Outcome) {
	m.orders.WithLabelValues(string(mode), string(outcome)).Inc()
}

// RecordFailedWindows учитывает пропущенные окна списка.
func (m *SyncMetrics) RecordFailedWindows(mode domain.SyncMode, count int) {
	m.failedWindows.WithLabelValues(string(mode)).Add(float64(count))
}

// ObserveRemoteCall учитывает один SOAP-вызов.
func (m *SyncMetrics) ObserveRemoteCall(method, result string, duration time.Duration) {
	m.remoteCalls.WithLabelValues(method, result).Inc()
	m.remoteCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}
