// Package metrics provides the Prometheus collectors of the inference service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeUnreadable = "unreadable"
	OutcomeError      = "error"
)

// Pipeline stages.
const (
	StageDecode     = "decode"
	StagePreprocess = "preprocess"
	StageInference  = "inference"
)

// Metrics holds every collector, registered on one registry. The Observe and
// Record methods are no-ops on a nil *Metrics.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	Predictions    *prometheus.CounterVec
	PredictedClass *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	ModelLoaded    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcover_http_requests_total",
				Help: "Total number of HTTP requests partitioned by path, method and status.",
			},
			[]string{"path", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landcover_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcover_predictions_total",
				Help: "Prediction requests partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		PredictedClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "landcover_predicted_class_total",
				Help: "Successful predictions partitioned by predicted class.",
			},
			[]string{"class"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "landcover_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"stage"},
		),
		ModelLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "landcover_model_loaded",
				Help: "1 when the model session is loaded.",
			},
		),
		registry: registry,
	}

	for _, c := range []prometheus.Collector{
		m.HTTPRequests, m.HTTPDuration, m.Predictions, m.PredictedClass, m.StageDuration, m.ModelLoaded,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(path, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(path).Observe(d.Seconds())
}

// ObserveStage records the time spent in a pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPrediction counts an outcome; class is only used on success.
func (m *Metrics) RecordPrediction(outcome, class string) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.PredictedClass.WithLabelValues(class).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
