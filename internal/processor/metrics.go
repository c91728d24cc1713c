package processor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

// MetricsOptions configure the Pushgateway exporter.
type MetricsOptions struct {
	URL     string
	Job     string
	Timeout time.Duration
}

// MetricsPusher pushes per-run gauges to a Prometheus Pushgateway. Each task
// kind is its own grouping so runs do not overwrite each other.
type MetricsPusher struct {
	opts   MetricsOptions
	client *http.Client
	logger zerolog.Logger
}

// NewMetricsPusher constructs the pusher.
func NewMetricsPusher(opts MetricsOptions, logger zerolog.Logger) *MetricsPusher {
	if opts.Job == "" {
		opts.Job = "goldtracker"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &MetricsPusher{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "processor_metrics").Logger(),
	}
}

// Name implements scheduler.Processor.
func (m *MetricsPusher) Name() string { return "metrics" }

// Process implements scheduler.Processor.
func (m *MetricsPusher) Process(ctx context.Context, out scheduler.Outcome) error {
	reg := prometheus.NewRegistry()

	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goldtracker_task_success",
		Help: "1 when the last run succeeded.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goldtracker_task_duration_seconds",
		Help: "Wall time of the last run.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goldtracker_task_last_run_timestamp_seconds",
		Help: "Unix time the last run finished.",
	})
	reg.MustRegister(success, duration, finished)

	if out.Task.Success {
		success.Set(1)
	}
	duration.Set(out.Task.Duration().Seconds())
	finished.Set(float64(out.Task.FinishedAt.Unix()))

	if out.Metal != nil && out.Metal.Success() {
		rec := out.Metal.Record
		prices := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "goldtracker_price",
			Help: "Latest collected price by kind.",
		}, []string{"metal", "kind"})
		valid := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldtracker_record_valid",
			Help: "1 when the latest record passed every check.",
		})
		reg.MustRegister(prices, valid)

		prices.WithLabelValues(string(rec.Metal), "benchmark").Set(rec.BenchmarkPrice.InexactFloat64())
		prices.WithLabelValues(string(rec.Metal), "theoretical").Set(rec.TheoreticalPrice.InexactFloat64())
		if rec.LocalClosePrice.Valid {
			prices.WithLabelValues(string(rec.Metal), "local").Set(rec.LocalClosePrice.Decimal.InexactFloat64())
		}
		if rec.Status == storage.StatusValid {
			valid.Set(1)
		}
	}
	if out.FX != nil && out.FX.Success() {
		missing := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goldtracker_fx_missing_pairs",
			Help: "Pairs that could not be collected in the last run.",
		})
		reg.MustRegister(missing)
		missing.Set(float64(len(out.FX.Missing)))
	}

	pusher := push.New(m.opts.URL, m.opts.Job).
		Gatherer(reg).
		Grouping("task", string(out.Task.Kind)).
		Client(m.client)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	m.logger.Debug().Str("task", string(out.Task.Kind)).Msg("metrics pushed")
	return nil
}

var _ scheduler.Processor = (*MetricsPusher)(nil)
