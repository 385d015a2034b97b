package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Cache lookup outcomes recorded by CacheResult.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Metrics groups the prometheus collectors of one process. Each Observer owns
// its own registry so tests never collide on the default registerer.
type Metrics struct {
	registry      *prometheus.Registry
	cacheRequests *prometheus.CounterVec
	modelRounds   *prometheus.CounterVec
	turns         *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egographica_cache_requests_total",
			Help: "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		modelRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egographica_model_rounds_total",
			Help: "Model round trips issued by the conversation loop.",
		}, []string{"provider"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "egographica_conversation_turns_total",
			Help: "Conversation turns by terminal outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "egographica_stage_duration_seconds",
			Help:    "Duration of conversation stages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
	}
	m.registry.MustRegister(m.cacheRequests, m.modelRounds, m.turns, m.stageDuration)
	return m
}

func (m *Metrics) CacheResult(cache, result string) {
	m.cacheRequests.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ModelRound(provider string) {
	m.modelRounds.WithLabelValues(provider).Inc()
}

func (m *Metrics) Turn(outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Stage(category string, d time.Duration) {
	m.stageDuration.WithLabelValues(category).Observe(d.Seconds())
}

// CacheCount reports the recorded lookups for one cache and result.
func (m *Metrics) CacheCount(cache, result string) float64 {
	return counterValue(m.cacheRequests.WithLabelValues(cache, result))
}

// ModelRounds reports the recorded round trips for one provider.
func (m *Metrics) ModelRounds(provider string) float64 {
	return counterValue(m.modelRounds.WithLabelValues(provider))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func counterValue(c prometheus.Counter) float64 {
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			return 0
		}
		return pb.GetCounter().GetValue()
	}
	return 0
}
