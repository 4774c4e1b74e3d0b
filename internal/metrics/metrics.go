// Package metrics exposes Prometheus metrics for the API and worker
// processes: item counts read from the item store on scrape, task queue
// depth, task outcomes and HTTP request latency.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/store/postgres"
)

const namespace = "docflow"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	requests     *prometheus.CounterVec
	reqDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished task deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasks, m.taskDuration, m.requests, m.reqDuration,
	)
	return m
}

// Registry returns the underlying registry, for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskFinished implements queue.Observer.
func (m *Metrics) TaskFinished(kind queue.Kind, outcome string, d time.Duration) {
	m.tasks.WithLabelValues(string(kind), outcome).Inc()
	m.taskDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// Middleware records request counts and latency labelled by the matched
// route pattern, so path parameters don't explode the label set.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.reqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// StatsSource reads per-kind item statistics.
type StatsSource interface {
	GetItemStats(ctx context.Context, kind item.Kind) (postgres.ItemStats, error)
}

// DepthSource reports the task queue backlog.
type DepthSource interface {
	Depth(ctx context.Context) (stream, delayed int64, err error)
}

// StoreCollector reads item and queue gauges at scrape time. Either source
// may be nil.
type StoreCollector struct {
	stats   StatsSource
	depth   DepthSource
	timeout time.Duration
	logger  *slog.Logger

	items     *prometheus.Desc
	marked    *prometheus.Desc
	chunks    *prometheus.Desc
	processed *prometheus.Desc
	queued    *prometheus.Desc
}

func NewStoreCollector(stats StatsSource, depth DepthSource, logger *slog.Logger) *StoreCollector {
	return &StoreCollector{
		stats:   stats,
		depth:   depth,
		timeout: 5 * time.Second,
		logger:  logger,
		items: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "items"),
			"Items by kind and status.", []string{"kind", "status"}, nil),
		marked: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "items_marked_for_deletion"),
			"Items waiting for their deletion task.", []string{"kind"}, nil),
		chunks: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "inflight_chunks_total"),
			"Sum of chunks_total over items being processed.", []string{"kind"}, nil),
		processed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "inflight_chunks_processed"),
			"Sum of chunks_processed over items being processed.", []string{"kind"}, nil),
		queued: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Tasks waiting in the stream or the delayed set.", []string{"queue"}, nil),
	}
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.marked
	ch <- c.chunks
	ch <- c.processed
	ch <- c.queued
}

func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if c.stats != nil {
		for _, kind := range []item.Kind{item.KindFile, item.KindLink} {
			stats, err := c.stats.GetItemStats(ctx, kind)
			if err != nil {
				c.logger.Warn("collect item stats", slog.String("kind", string(kind)), slog.String("error", err.Error()))
				continue
			}
			for _, st := range item.AllStatuses {
				ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue,
					float64(stats.ByStatus[st]), string(kind), string(st))
			}
			ch <- prometheus.MustNewConstMetric(c.marked, prometheus.GaugeValue, float64(stats.MarkedForDeletion), string(kind))
			ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(stats.ChunksTotal), string(kind))
			ch <- prometheus.MustNewConstMetric(c.processed, prometheus.GaugeValue, float64(stats.ChunksProcessed), string(kind))
		}
	}

	if c.depth != nil {
		stream, delayed, err := c.depth.Depth(ctx)
		if err != nil {
			c.logger.Warn("collect queue depth", slog.String("error", err.Error()))
			return
		}
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(stream), "stream")
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(delayed), "delayed")
	}
}
