// Package metrics exposes Prometheus metrics for a tiling run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Tile outcomes.
const (
	OutcomeEmitted = "emitted"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

type BuildInfo struct {
	Version  string
	Revision string
}

// Provider owns the registry.
type Provider struct {
	reg *prometheus.Registry
}

// Init creates a registry with the Go and process collectors and a build
// info gauge.
func Init(build BuildInfo) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terrarium_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version", "revision"},
	)
	reg.MustRegister(info)
	if build.Version == "" {
		build.Version = "dev"
	}
	info.WithLabelValues(build.Version, build.Revision).Set(1)

	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// Metrics are the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	tiles          *prometheus.CounterVec
	sourceFailures prometheus.Counter
	renderSeconds  prometheus.Histogram
	bytesWritten   prometheus.Counter
	zoom           prometheus.Gauge
}

// New registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terrarium_tiles_total",
			Help: "Tiles resolved, by outcome.",
		}, []string{"outcome"}),
		sourceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "terrarium_source_failures_total",
			Help: "Per-tile source read failures skipped by the compositor.",
		}),
		renderSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "terrarium_tile_render_seconds",
			Help:    "Time to composite and encode one tile.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "terrarium_tile_bytes_total",
			Help: "Encoded tile bytes handed to the archive.",
		}),
		zoom: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "terrarium_zoom_level",
			Help: "Zoom level currently being processed.",
		}),
	}
	reg.MustRegister(m.tiles, m.sourceFailures, m.renderSeconds, m.bytesWritten, m.zoom)
	return m
}

func (m *Metrics) Tile(outcome string) {
	if m == nil {
		return
	}
	m.tiles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SourceFailure() {
	if m == nil {
		return
	}
	m.sourceFailures.Inc()
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderSeconds.Observe(d.Seconds())
}

func (m *Metrics) AddBytes(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) SetZoom(z int) {
	if m == nil {
		return
	}
	m.zoom.Set(float64(z))
}

// Router serves /metrics and /healthz.
func Router(p *Provider) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", p.Handler().ServeHTTP)
	return r
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, p *Provider, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(p),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
