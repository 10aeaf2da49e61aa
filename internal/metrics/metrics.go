// Package metrics exposes Prometheus collectors for the HTTP surface and the live game.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quiz_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	phaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_phase_transitions_total",
			Help: "Phase transitions performed by hosts",
		},
		[]string{"phase"},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Answer submissions by outcome",
		},
		[]string{"outcome"},
	)

	pointsAwarded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_points_awarded",
			Help:    "Points awarded per scored answer",
			Buckets: []float64{0, 100, 250, 500, 750, 900, 1000},
		},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	busPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_bus_publish_failures_total",
			Help: "Realtime bus publishes that failed",
		},
	)

	liveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_live_sessions",
			Help: "Sessions with a live host controller",
		},
	)
)

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func PhaseTransition(phase string) {
	phaseTransitionsTotal.WithLabelValues(phase).Inc()
}

// AnswerOutcome counts a submission as accepted, duplicate, late, invalid or failed.
func AnswerOutcome(outcome string) {
	answersTotal.WithLabelValues(outcome).Inc()
}

func PointsAwarded(points int) {
	pointsAwarded.Observe(float64(points))
}

func WSConnected()    { wsConnections.Inc() }
func WSDisconnected() { wsConnections.Dec() }

func BusPublishFailed() {
	busPublishFailures.Inc()
}

func SessionOpened() { liveSessions.Inc() }
func SessionClosed() { liveSessions.Dec() }
