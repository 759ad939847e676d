// Package telemetry registers the Prometheus metrics exported on /metrics.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	MessagesSent      prometheus.Counter
	InferenceRequests prometheus.Counter
	InferenceFailures prometheus.Counter
	InferenceDuration prometheus.Observer
	LiveSubscriptions prometheus.Gauge
	LiveNotifications prometheus.Counter
	InferenceWorkers  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "clearchat_messages_sent_total", Help: "Number of chat messages persisted"})
		InferenceRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "clearchat_emotion_requests_total", Help: "Number of emotion inference requests"})
		InferenceFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "clearchat_emotion_failures_total", Help: "Number of failed emotion inference requests"})
		InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clearchat_emotion_duration_seconds", Help: "Emotion inference latency in seconds", Buckets: prometheus.DefBuckets})
		LiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Name: "clearchat_live_subscriptions", Help: "Currently open live query subscriptions"})
		LiveNotifications = promauto.NewCounter(prometheus.CounterOpts{Name: "clearchat_live_notifications_total", Help: "Number of topic change notifications delivered to subscribers"})
		InferenceWorkers = promauto.NewGauge(prometheus.GaugeOpts{Name: "clearchat_inference_workers", Help: "Live workers in the inference pool"})
	})
}

func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func AddGauge(g prometheus.Gauge, delta float64) {
	if g != nil {
		g.Add(delta)
	}
}

// Since records the elapsed time since start in obs if non-nil.
func Since(obs prometheus.Observer, start time.Time) {
	if obs != nil {
		obs.Observe(time.Since(start).Seconds())
	}
}
