package internal

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/statefuse/config"
	"github.com/vadiminshakov/statefuse/internal/clients"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"github.com/vadiminshakov/statefuse/internal/metrics"
	"github.com/vadiminshakov/statefuse/internal/services/aggregator"
	"github.com/vadiminshakov/statefuse/internal/services/attention"
	"github.com/vadiminshakov/statefuse/internal/services/datasource"
	"github.com/vadiminshakov/statefuse/internal/services/detector"
	"github.com/vadiminshakov/statefuse/internal/services/meanreversion"
	"github.com/vadiminshakov/statefuse/internal/services/strategy"
	"github.com/vadiminshakov/statefuse/internal/services/trader"
	"github.com/vadiminshakov/statefuse/internal/services/transition"
	"github.com/vadiminshakov/statefuse/internal/storage/decisions"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
	"github.com/vadiminshakov/statefuse/internal/storage/records"
	"github.com/vadiminshakov/statefuse/pkg/retrier"
)

const broadcastBuffer = 256

// App is an engine together with the resources it owns.
type App struct {
	Engine      *Engine
	Metrics     *metrics.Recorder
	Broadcaster *events.Broadcaster
	// Journal is nil on the memory backend.
	Journal *decisions.WALStore

	closers []func() error
}

// Close releases storage handles in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// NewApp wires every component from conf.
func NewApp(ctx context.Context, conf config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{
		Metrics:     metrics.New(),
		Broadcaster: events.NewBroadcaster(broadcastBuffer),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	store, err := newStore(ctx, conf.Storage, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, store.Close)

	var journal *decisions.WALStore
	if conf.Storage.Backend != config.BackendMemory {
		journal, err = decisions.NewWALStore(conf.Storage.DecisionsDir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open decision journal")
		}
		app.closers = append(app.closers, journal.Close)
		app.Journal = journal
	}

	clk := clock.System{}
	sink := events.Multi{events.NewLogSink(logger), app.Metrics, app.Broadcaster}

	sources, err := newSources(ctx, conf, clk)
	if err != nil {
		return nil, err
	}
	r := retrier.New(
		retrier.WithMaxRetries(conf.Retry.MaxRetries),
		retrier.WithInitialInterval(conf.Retry.InitialInterval),
	)

	strategies, err := newStrategyManager(conf, store, clk, sink, logger)
	if err != nil {
		return nil, err
	}

	executor, err := newExecutor(ctx, conf, store, clk, sink, logger)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithClock(clk),
		WithSink(sink),
		WithLogger(logger),
		WithMetrics(app.Metrics),
	}
	if journal != nil {
		opts = append(opts, WithJournal(journal))
	}

	app.Engine, err = NewEngine(EngineConfig{
		Pair:          conf.Pair,
		Interval:      conf.CycleInterval,
		PriceDecimals: conf.PriceDecimals,
	}, Components{
		Collector:   datasource.NewCollector(sources, r, conf.Retry.FetchTimeout, logger),
		Aggregator:  aggregator.New(conf.Aggregator, clk, sink, logger),
		Window:      records.NewWindowRepo(store, conf.WindowSize),
		Strategies:  strategies,
		Transitions: transition.NewManager(conf.Transition, records.NewStateRepo(store), records.NewLockRepo(store), clk, sink, logger),
		Executor:    executor,
		Decisions:   records.NewDecisionRepo(store),
		Risk:        records.NewRiskRepo(store),
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}

	return app, nil
}

func newStore(ctx context.Context, conf config.Storage, logger *zap.Logger) (kv.Store, error) {
	switch conf.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendRedis:
		s, err := kv.DialRedis(ctx, conf.RedisAddr, conf.RedisPassword, conf.RedisDB, conf.RedisNamespace)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		return s, nil
	case config.BackendWAL, "":
		s, err := kv.NewWALStore(conf.WALDir, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open state WAL")
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", conf.Backend)
	}
}

// newSources builds one observation source per configured entry.
// Simulated sources share a single market so they quote the same underlying walk.
func newSources(ctx context.Context, conf config.Config, clk clock.Clock) ([]datasource.Source, error) {
	var market *datasource.SimulatedMarket

	sources := make([]datasource.Source, 0, len(conf.Sources))
	for _, sc := range conf.Sources {
		switch sc.Type {
		case config.SourceBinance:
			client := clients.NewBinanceClient(sc.APIKey, sc.APISecret)
			sources = append(sources, named(sc.Name, datasource.NewBinanceSource(client, sc.Confidence, clk)))
		case config.SourceBybit:
			client := clients.NewBybitClient(sc.APIKey, sc.APISecret)
			sources = append(sources, named(sc.Name, datasource.NewBybitSource(client, sc.Confidence, clk)))
		case config.SourceHyperliquid:
			client, err := clients.NewHyperliquidClient(ctx, sc.PrivateKey, sc.BaseURL)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to create hyperliquid client for source %s", sc.Name)
			}
			sources = append(sources, named(sc.Name, datasource.NewHyperliquidSource(client.Info(), sc.Confidence, clk)))
		case config.SourceSimulated:
			if market == nil {
				market = datasource.NewSimulatedMarket(conf.Market, clk)
			}
			s := datasource.NewSimulatedSource(sc.Name, market, sc.Noise, sc.Confidence, sc.Seed)
			s.Offset = sc.Offset
			sources = append(sources, s)
		default:
			return nil, fmt.Errorf("unsupported source type: %s", sc.Type)
		}
	}

	if len(sources) == 0 {
		return nil, errors.New("no observation sources configured")
	}
	return sources, nil
}

// namedSource renames a venue source so two entries of one venue stay distinguishable.
type namedSource struct {
	datasource.Source
	name string
}

func (s namedSource) Name() string { return s.name }

func (s namedSource) Fetch(ctx context.Context, pair domain.Pair) (domain.RawReading, error) {
	r, err := s.Source.Fetch(ctx, pair)
	r.Source = s.name
	return r, err
}

func named(name string, s datasource.Source) datasource.Source {
	if name == "" || name == s.Name() {
		return s
	}
	return namedSource{Source: s, name: name}
}

func newStrategyManager(conf config.Config, store kv.Store, clk clock.Clock, sink events.Sink, logger *zap.Logger) (*strategy.Manager, error) {
	weighter := attention.New(
		attention.WithLookback(conf.Attention.Lookback),
		attention.WithDecay(conf.Attention.Decay),
	)

	m, err := strategy.NewManager(records.NewStrategyRepo(store), conf.DefaultStrategy, clk, sink, logger,
		strategy.NewAttentionStrategy(detector.New(conf.Detector, logger), weighter),
		strategy.NewMeanReversionStrategy(meanreversion.New(conf.MeanReversion, logger)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create strategy manager")
	}
	return m, nil
}

// newExecutor prefers risk parameters saved by an earlier administrative update over the config file.
func newExecutor(ctx context.Context, conf config.Config, store kv.Store, clk clock.Clock, sink events.Sink, logger *zap.Logger) (*trader.Executor, error) {
	risk := conf.Risk
	stored, found, err := records.NewRiskRepo(store).Get(ctx)
	switch {
	case err != nil:
		logger.Warn("stored risk parameters unreadable, using config", zap.Error(err))
	case found && stored.Validate() == nil:
		risk = stored
	case found:
		logger.Warn("stored risk parameters are invalid, using config")
	}

	adapter, err := newAdapter(conf, logger)
	if err != nil {
		return nil, err
	}

	exec, err := trader.NewExecutor(
		trader.Config{Pair: conf.Pair, OrderType: conf.Execution.OrderType},
		risk,
		adapter,
		records.NewPositionRepo(store),
		records.NewTradeRepo(store),
		clk,
		sink,
		logger,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create executor")
	}
	return exec, nil
}

// newAdapter wraps the venue in a rate limit and then a circuit breaker.
func newAdapter(conf config.Config, logger *zap.Logger) (trader.Adapter, error) {
	var venue trader.Adapter

	switch conf.Execution.Venue {
	case config.VenueSimulate, "":
		sim, err := trader.NewSimulateTrader(trader.SimulateConfig{
			Pair:         conf.Pair,
			InitialQuote: conf.Execution.InitialQuote,
			SlippageBps:  conf.Execution.SlippageBps,
			StateDir:     conf.Execution.StateDir,
		}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create simulated venue")
		}
		venue = sim
	default:
		return nil, fmt.Errorf("unsupported execution venue: %s", conf.Execution.Venue)
	}

	limited := trader.NewRateLimitedAdapter(venue, conf.Execution.RatePerMinute, conf.Execution.RateBurst)

	return trader.NewBreakerAdapter(limited, trader.BreakerSettings{
		Name:                conf.Execution.Venue,
		ConsecutiveFailures: conf.Execution.BreakerFailures,
		OpenTimeout:         conf.Execution.BreakerTimeout,
	}, logger), nil
}
