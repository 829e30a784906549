// Package metrics holds the Prometheus collectors for the raffle daemon.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neoraffle"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	raffleEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Entry attempts by result.",
		},
		[]string{"result"},
	)

	raffleDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draws_total",
			Help:      "Draw protocol steps by outcome.",
		},
		[]string{"outcome"},
	)

	rafflePlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "players",
			Help:      "Entries in the current pool.",
		},
	)

	raffleCalculating = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "calculating",
			Help:      "1 while a draw is waiting for randomness.",
		},
	)

	vrfRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "requests_total",
			Help:      "Randomness requests by status.",
		},
		[]string{"status"},
	)

	upkeepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "upkeep_runs_total",
			Help:      "Keeper ticks by upkeep and result.",
		},
		[]string{"upkeep", "result"},
	)

	upkeepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "upkeep_run_duration_seconds",
			Help:      "Duration of keeper ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"upkeep"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raffleEntries,
		raffleDraws,
		rafflePlayers,
		raffleCalculating,
		vrfRequests,
		upkeepRuns,
		upkeepDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordEntry counts an entry attempt. result is "accepted" or a rejection reason.
func RecordEntry(result string) {
	raffleEntries.WithLabelValues(result).Inc()
}

// RecordDraw counts a draw step such as "requested", "completed" or "payout_failed".
func RecordDraw(outcome string) {
	raffleDraws.WithLabelValues(outcome).Inc()
}

// SetPool publishes the current pool size and whether a draw is in flight.
func SetPool(players int, calculating bool) {
	rafflePlayers.Set(float64(players))
	if calculating {
		raffleCalculating.Set(1)
	} else {
		raffleCalculating.Set(0)
	}
}

// RecordVRF counts a randomness request transition.
func RecordVRF(status string) {
	vrfRequests.WithLabelValues(status).Inc()
}

// RecordUpkeep records one keeper tick.
func RecordUpkeep(name, result string, duration time.Duration) {
	if name == "" {
		name = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	upkeepRuns.WithLabelValues(name, result).Inc()
	upkeepDuration.WithLabelValues(name).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch {
	case parts[0] == "players" && len(parts) == 2:
		return "/players/:index"
	case parts[0] == "vrf" && len(parts) == 3 && parts[1] == "fulfill":
		return "/vrf/fulfill/:id"
	case len(parts) > 2:
		return "/" + strings.Join(parts[:2], "/")
	}
	return "/" + trimmed
}
