package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	tasksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_tasks_submitted_total",
			Help: "Total number of generation tasks accepted",
		},
	)

	// completed, failed
	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tasks_finished_total",
			Help: "Total number of generation tasks that reached a terminal state",
		},
		[]string{"status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_task_duration_seconds",
			Help:    "Time from submission to terminal state",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"status"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_tasks_in_flight",
			Help: "Number of generation tasks currently being processed",
		},
	)

	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_api_calls_total",
			Help: "Calls made to the generation service",
		},
		[]string{"op", "outcome"},
	)

	emailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_total",
			Help: "Completion emails by outcome",
		},
		[]string{"outcome"},
	)

	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)
)

var once sync.Once

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(tasksSubmittedTotal)
	prometheus.MustRegister(tasksFinishedTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(remoteCallsTotal)
	prometheus.MustRegister(emailsTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)

	// The default registry may already carry these.
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTaskSubmitted() {
	tasksSubmittedTotal.Inc()
}

func TaskStarted() {
	tasksInFlight.Inc()
}

// RecordTaskFinished records a terminal outcome and releases the in-flight slot.
func RecordTaskFinished(status string, elapsed time.Duration) {
	tasksInFlight.Dec()
	tasksFinishedTotal.WithLabelValues(status).Inc()
	taskDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func RecordRemoteCall(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	remoteCallsTotal.WithLabelValues(op, outcome).Inc()
}

func RecordEmail(sent bool) {
	outcome := "sent"
	if !sent {
		outcome = "failed"
	}
	emailsTotal.WithLabelValues(outcome).Inc()
}

// UpdateDatabaseConnections copies pool statistics into the connection gauges.
func UpdateDatabaseConnections(pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	stats := pool.Stat()
	databaseConnectionsActive.Set(float64(stats.AcquiredConns()))
	databaseConnectionsIdle.Set(float64(stats.IdleConns()))
	databaseConnectionsMax.Set(float64(stats.MaxConns()))

	return nil
}
