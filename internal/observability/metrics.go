package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	quizRequestsTotal    *prometheus.CounterVec
	quizLatencySeconds   *prometheus.HistogramVec
	quizErrorsTotal      *prometheus.CounterVec
	gradeConflictsTotal  prometheus.Counter
	attemptsExpiredTotal prometheus.Counter
	monitorClientsActive prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used for quiz observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		quizRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_requests_total",
			Help: "Total number of quiz API requests served.",
		}, []string{"method", "route", "status"})

		quizLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quiz_latency_seconds",
			Help:    "Latency distribution for quiz API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		quizErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_errors_total",
			Help: "Total number of error responses returned by quiz endpoints.",
		}, []string{"method", "route", "status"})

		gradeConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_grade_conflicts_total",
			Help: "Total number of grade writes rejected by a stale revision.",
		})

		attemptsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_expired_total",
			Help: "Total number of autosaves rejected after the attempt deadline.",
		})

		monitorClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_monitor_clients_active",
			Help: "Number of websocket clients currently watching attempt events.",
		})

		prometheus.MustRegister(
			quizRequestsTotal,
			quizLatencySeconds,
			quizErrorsTotal,
			gradeConflictsTotal,
			attemptsExpiredTotal,
			monitorClientsActive,
		)
	})
}

// QuizRequests exposes the counter for quiz requests.
func QuizRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return quizRequestsTotal
}

// QuizLatency exposes the latency histogram for quiz requests.
func QuizLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return quizLatencySeconds
}

// QuizErrors exposes the counter for quiz error responses.
func QuizErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return quizErrorsTotal
}

// GradeConflicts exposes the counter for lost grade revision races.
func GradeConflicts() prometheus.Counter {
	RegisterMetrics()
	return gradeConflictsTotal
}

// AttemptsExpired exposes the counter for deadline-expired autosaves.
func AttemptsExpired() prometheus.Counter {
	RegisterMetrics()
	return attemptsExpiredTotal
}

// MonitorClients exposes the gauge tracking connected monitor sockets.
func MonitorClients() prometheus.Gauge {
	RegisterMetrics()
	return monitorClientsActive
}
