package groundex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments extraction runs on a private prometheus
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	chunksTotal      *prometheus.CounterVec
	chunkDuration    *prometheus.HistogramVec
	extractionsTotal *prometheus.CounterVec
	alignmentsTotal  *prometheus.CounterVec
	documentsTotal   prometheus.Counter
	passesTotal      prometheus.Counter
}

// NewMetrics builds the collector set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundex",
			Subsystem: "annotator",
			Name:      "chunks_total",
			Help:      "Chunks processed, by terminal status.",
		},
		[]string{"status"},
	)
	chunkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groundex",
			Subsystem: "annotator",
			Name:      "chunk_duration_seconds",
			Help:      "Wall-clock time per chunk from prompt build to alignment.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	extractionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundex",
			Subsystem: "annotator",
			Name:      "extractions_total",
			Help:      "Extractions produced, by class.",
		},
		[]string{"class"},
	)
	alignmentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundex",
			Subsystem: "aligner",
			Name:      "alignments_total",
			Help:      "Alignment outcomes, by status.",
		},
		[]string{"status"},
	)
	documentsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "groundex",
			Subsystem: "annotator",
			Name:      "documents_total",
			Help:      "Documents annotated.",
		},
	)
	passesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "groundex",
			Subsystem: "annotator",
			Name:      "extraction_passes_total",
			Help:      "Extraction passes run, including multipass rounds.",
		},
	)

	registry.MustRegister(chunksTotal, chunkDuration, extractionsTotal,
		alignmentsTotal, documentsTotal, passesTotal)

	return &Metrics{
		registry:         registry,
		chunksTotal:      chunksTotal,
		chunkDuration:    chunkDuration,
		extractionsTotal: extractionsTotal,
		alignmentsTotal:  alignmentsTotal,
		documentsTotal:   documentsTotal,
		passesTotal:      passesTotal,
	}
}

// Registry exposes the private registry so callers can mount it on
// their own promhttp handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Gatherer returns the registry as a prometheus.Gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeChunk(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues(status).Inc()
	m.chunkDuration.WithLabelValues(status).Observe(dur.Seconds())
}

func (m *Metrics) observeExtraction(e Extraction) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(e.Class).Inc()
	m.alignmentsTotal.WithLabelValues(string(e.Status)).Inc()
}

func (m *Metrics) observeDocument() {
	if m == nil {
		return
	}
	m.documentsTotal.Inc()
}

func (m *Metrics) observePass() {
	if m == nil {
		return
	}
	m.passesTotal.Inc()
}
