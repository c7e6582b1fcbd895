package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements every hook interface on top of a private Prometheus
// registry. A CLI run has no scrape endpoint, so the registry is written to
// a node_exporter textfile at exit.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	treeGenres    prometheus.Gauge
	treeEdges     prometheus.Gauge
	treeLevels    prometheus.Gauge
	cacheEvents   *prometheus.CounterVec
	cacheBytes    *prometheus.CounterVec
	sinkWrites    *prometheus.CounterVec
	sinkDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genretree_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genretree_stage_errors_total",
			Help: "Pipeline stage failures",
		}, []string{"stage"}),
		treeGenres: f.NewGauge(prometheus.GaugeOpts{
			Name: "genretree_tree_genres",
			Help: "Genres in the last built tree",
		}),
		treeEdges: f.NewGauge(prometheus.GaugeOpts{
			Name: "genretree_tree_edges",
			Help: "Parent-child links in the last built tree",
		}),
		treeLevels: f.NewGauge(prometheus.GaugeOpts{
			Name: "genretree_tree_levels",
			Help: "Frontier levels expanded in the last build",
		}),
		cacheEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genretree_cache_events_total",
			Help: "Cache lookups and writes by artifact and result",
		}, []string{"artifact", "result"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genretree_cache_written_bytes_total",
			Help: "Bytes written to the cache by artifact",
		}, []string{"artifact"}),
		sinkWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "genretree_sink_writes_total",
			Help: "Sink writes by sink and result",
		}, []string{"sink", "result"}),
		sinkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genretree_sink_write_duration_seconds",
			Help:    "Sink write duration in seconds, including retries",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"sink"}),
	}
}

// Register installs m as the pipeline, cache and sink hooks.
func (m *Metrics) Register() {
	SetPipelineHooks(m)
	SetCacheHooks(m)
	SetSinkHooks(m)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) OnStageStart(context.Context, string) {}

func (m *Metrics) OnStageComplete(_ context.Context, stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) OnTreeBuilt(_ context.Context, genres, edges, levels int) {
	m.treeGenres.Set(float64(genres))
	m.treeEdges.Set(float64(edges))
	m.treeLevels.Set(float64(levels))
}

func (m *Metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cacheEvents.WithLabelValues(keyType, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cacheEvents.WithLabelValues(keyType, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheEvents.WithLabelValues(keyType, "set").Inc()
	m.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

func (m *Metrics) OnWrite(_ context.Context, sink string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sinkWrites.WithLabelValues(sink, result).Inc()
	m.sinkDuration.WithLabelValues(sink).Observe(d.Seconds())
}

var (
	_ PipelineHooks = (*Metrics)(nil)
	_ CacheHooks    = (*Metrics)(nil)
	_ SinkHooks     = (*Metrics)(nil)
)
