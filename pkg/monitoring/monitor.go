package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	XPGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habitquest_xp_granted_total",
			Help: "XP credited to players, by source",
		},
		[]string{"source"},
	)

	LevelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "habitquest_level_ups_total",
			Help: "Number of level increases",
		},
	)

	DailyCapRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "habitquest_daily_cap_rejections_total",
			Help: "Study XP grants rejected by the daily cap",
		},
	)

	SyncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habitquest_strava_syncs_total",
			Help: "External activity sync invocations, by outcome",
		},
		[]string{"outcome"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "habitquest_provider_request_duration_seconds",
			Help:    "Latency of calls to the activity provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(XPGranted)
		prometheus.MustRegister(LevelUps)
		prometheus.MustRegister(DailyCapRejections)
		prometheus.MustRegister(SyncOutcomes)
		prometheus.MustRegister(ProviderLatency)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
