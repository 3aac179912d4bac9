package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_gate_decisions_total",
			Help: "Authorization gate decisions by outcome category.",
		},
		[]string{"category"},
	)

	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_broadcasts_total",
			Help: "Transactions submitted to the ledger by outcome.",
		},
		[]string{"outcome"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_tokens_issued_total",
			Help: "Tokens issued by kind.",
		},
		[]string{"kind"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hivegate_ready",
		Help: "1 when the gateway accepts traffic.",
	})

	initOnce sync.Once
	ready    atomic.Bool
)

// Init registers the metrics with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			gateDecisions, broadcasts, tokensIssued, readyGauge)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGateDecision counts one gate outcome. Approved batches use "approved".
func ObserveGateDecision(category string) {
	gateDecisions.WithLabelValues(category).Inc()
}

// ObserveBroadcast counts one submission outcome.
func ObserveBroadcast(outcome string) {
	broadcasts.WithLabelValues(outcome).Inc()
}

// ObserveTokenIssued counts one issued token.
func ObserveTokenIssued(kind string) {
	tokensIssued.WithLabelValues(kind).Inc()
}

// SetReady flips the readiness state reported by /readyz.
func SetReady(v bool) {
	ready.Store(v)
	if v {
		readyGauge.Set(1)
	} else {
		readyGauge.Set(0)
	}
}

// Ready reports the readiness state.
func Ready() bool { return ready.Load() }

var knownPaths = map[string]bool{
	"/":                        true,
	"/api/broadcast":           true,
	"/api/oauth2/token":        true,
	"/api/oauth2/token/revoke": true,
	"/api/oauth2/authorize":    true,
	"/api/me":                  true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
}

// CanonicalPath maps a request path to a bounded label value. Unknown
// paths collapse to "other".
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if knownPaths[p] {
		return p
	}
	return "other"
}

// Instrument records in-flight count, totals and latency per route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
