package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-tracker/internal/backup"
	"gold-tracker/internal/collector"
	"gold-tracker/internal/config"
	"gold-tracker/internal/fetcher"
	"gold-tracker/internal/processor"
	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
	"gold-tracker/internal/validator"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
	Out        io.Writer

	settings *validator.SettingsHolder
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, configPath string, logger zerolog.Logger) *App {
	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger.With().Str("component", "app").Logger(),
		Out:        os.Stdout,
		settings:   validator.NewSettingsHolder(validator.SettingsFromConfig(cfg.Validation)),
	}
}

func (a *App) openStore(ctx context.Context) (storage.Gateway, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

func (a *App) httpOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		Timeout:       a.Config.Network.Timeout,
		RetryTimes:    a.Config.Network.RetryTimes,
		RetryInterval: a.Config.Network.RetryInterval,
		UserAgent:     a.Config.Network.UserAgent,
	}
}

func (a *App) newBenchmark(metal config.MetalConfig) (fetcher.BenchmarkFetcher, string) {
	if metal.BenchmarkProvider == config.ProviderChainlink {
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:      a.Config.Sources.Chainlink.RPCURL,
			FeedAddress: metal.ChainlinkFeed,
			Timeout:     a.Config.Sources.Chainlink.RequestTimeout,
			Location:    a.Config.Location(),
		}, a.Logger), config.ProviderChainlink
	}
	return fetcher.NewGoldAPI(fetcher.GoldAPIOptions{
		BaseURL:  a.Config.Sources.GoldAPI.BaseURL,
		APIKey:   a.Config.Sources.GoldAPI.APIKey,
		Symbol:   metal.Symbol,
		Location: a.Config.Location(),
		HTTP:     a.httpOptions(),
	}, a.Logger), config.ProviderGoldAPI
}

func (a *App) newLocal(metal config.MetalConfig) fetcher.LocalPriceFetcher {
	return fetcher.NewSGE(fetcher.SGEOptions{
		BaseURL:   a.Config.Sources.SGE.BaseURL,
		Product:   metal.SGEProduct,
		UnitGrams: decimal.NewFromFloat(metal.SGEUnitGrams),
		MinPrice:  decimal.NewFromFloat(metal.SGEMinPrice),
		MaxPrice:  decimal.NewFromFloat(metal.SGEMaxPrice),
		Location:  a.Config.Location(),
		HTTP:      a.httpOptions(),
	}, a.Logger)
}

func (a *App) pairs() ([]fetcher.Pair, error) {
	out := make([]fetcher.Pair, 0, len(a.Config.FX.Pairs))
	for _, v := range a.Config.FX.Pairs {
		p, err := fetcher.ParsePair(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *App) newCollector(store storage.Gateway) (*collector.Collector, error) {
	pairs, err := a.pairs()
	if err != nil {
		return nil, err
	}

	metals := make(map[storage.Metal]collector.MetalSources)
	for metal, cfg := range map[storage.Metal]config.MetalConfig{
		storage.Gold:   a.Config.Metals.Gold,
		storage.Silver: a.Config.Metals.Silver,
	} {
		if !cfg.Enabled {
			continue
		}
		bench, name := a.newBenchmark(cfg)
		metals[metal] = collector.MetalSources{
			Benchmark:     bench,
			BenchmarkName: name,
			Local:         a.newLocal(cfg),
			LocalName:     "sge",
		}
	}

	fx := fetcher.NewChinamoney(fetcher.ChinamoneyOptions{
		BaseURL: a.Config.Sources.Chinamoney.BaseURL,
		HTTP:    a.httpOptions(),
	}, a.Logger)

	return collector.New(collector.Options{
		Store:         store,
		Validator:     validator.New(store, a.settings, a.Logger),
		Metals:        metals,
		FX:            fx,
		FXName:        fetcher.SourceChinamoney,
		MultiFX:       fx,
		Pairs:         pairs,
		AdvisoryLocks: a.Config.Database.AdvisoryLocks,
	}, a.Logger), nil
}

func (a *App) newBackup(store storage.Gateway) scheduler.Backuper {
	snap, ok := store.(storage.Snapshotter)
	if !ok {
		return nil
	}
	return backup.NewManager(snap, backup.Options{
		Dir:    a.Config.Backup.Dir,
		Keep:   a.Config.Backup.Keep,
		Prefix: a.Config.Backup.Prefix,
	}, a.Logger)
}

// newRegistry registers the configured post-processors. The returned closer
// releases processor resources.
func (a *App) newRegistry(quiet bool) (*scheduler.Registry, func()) {
	reg := scheduler.NewRegistry()
	closers := []func(){}

	reg.Register(processor.NewLog(a.Logger))
	if a.Config.Tasks.Summary && !quiet {
		reg.Register(processor.NewSummary(a.Out))
	}
	if a.Config.Redis.Enabled {
		opts := processor.RedisOptions{
			Addr:      a.Config.Redis.Addr,
			Password:  a.Config.Redis.Password,
			DB:        a.Config.Redis.DB,
			KeyPrefix: a.Config.Redis.KeyPrefix,
			TTL:       a.Config.Redis.TTL,
		}
		client := processor.NewRedisClient(opts)
		reg.Register(processor.NewRedisLatest(client, opts, a.Logger))
		closers = append(closers, func() { _ = client.Close() })
	}
	if a.Config.Metrics.Enabled {
		reg.Register(processor.NewMetricsPusher(processor.MetricsOptions{
			URL: a.Config.Metrics.PushgatewayURL,
			Job: a.Config.Metrics.Job,
		}, a.Logger))
	}

	return reg, func() {
		for _, c := range closers {
			c()
		}
	}
}

func (a *App) newScheduler(store storage.Gateway, quiet bool) (*scheduler.Scheduler, func(), error) {
	coll, err := a.newCollector(store)
	if err != nil {
		return nil, nil, err
	}
	reg, closeRegistry := a.newRegistry(quiet)
	sched := scheduler.New(coll, a.newBackup(store), reg, scheduler.Options{
		ProcessorTimeout: a.Config.Tasks.ProcessorTimeout,
		Location:         a.Config.Location(),
	}, a.Logger)
	return sched, closeRegistry, nil
}

// today returns the current business date.
func (a *App) today() time.Time {
	return storage.DateOf(time.Now().In(a.Config.Location()))
}

func (a *App) withStore(ctx context.Context, fn func(store storage.Gateway) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(store)
}

var errEmptyRange = errors.New("date range is empty")

// TaskOptions configure a single task invocation.
type TaskOptions struct {
	Kind  scheduler.Kind
	Date  time.Time
	Quiet bool
}

// ServeOptions configure the long-running loop.
type ServeOptions struct {
	Tasks  []scheduler.Kind
	RunNow bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Metal storage.Metal
	Limit int
	FX    bool
}

// SummaryOptions configure the summary command.
type SummaryOptions struct {
	Metal     storage.Metal
	Date      time.Time
	Integrity int
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Metal     storage.Metal
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	Tasks  []scheduler.Kind
	DryRun bool
}
