package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	outboxBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_batches_total",
			Help: "Operation batches submitted to the transaction processor.",
		},
		[]string{"processor", "result"},
	)

	outboxOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operations_total",
			Help: "Operations submitted to the transaction processor by kind.",
		},
		[]string{"kind"},
	)

	workerMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_messages_total",
			Help: "Outbox messages consumed by the worker by result.",
		},
		[]string{"result"},
	)

	workerApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_apply_duration_seconds",
		Help:    "Time spent applying one outbox message.",
		Buckets: prometheus.DefBuckets,
	})

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Tokens issued by kind.",
		},
		[]string{"kind"},
	)

	tokensValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_validated_total",
			Help: "Token validations by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			outboxBatches, outboxOperations,
			workerMessages, workerApplyDuration,
			tokensIssued, tokensValidated,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight count, totals and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var idCollections = map[string]bool{
	"users":       true,
	"permissions": true,
	"groups":      true,
}

// CanonicalPath collapses entity ids so metric labels stay bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) == 3 && parts[0] == "admin" && idCollections[parts[1]] {
		parts[2] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

// ObserveBatch counts one processor submission and its operations.
func ObserveBatch(processor string, kinds []string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	outboxBatches.WithLabelValues(processor, result).Inc()
	for _, k := range kinds {
		outboxOperations.WithLabelValues(k).Inc()
	}
}

// ObserveWorkerMessage records the outcome of one consumed message.
func ObserveWorkerMessage(result string, d time.Duration) {
	workerMessages.WithLabelValues(result).Inc()
	workerApplyDuration.Observe(d.Seconds())
}

// ObserveTokenIssued counts an issued token.
func ObserveTokenIssued(kind string) {
	tokensIssued.WithLabelValues(kind).Inc()
}

// ObserveTokenValidated counts a validation attempt.
func ObserveTokenValidated(kind, result string) {
	tokensValidated.WithLabelValues(kind, result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
