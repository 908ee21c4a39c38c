// Package sigengine wires the signal engine service: market event source,
// ring buffers, indicator engine, variant catalog, strategy manager, event
// bus, and the metrics/admin HTTP servers.
package sigengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/bus"
	"signal-systemv1/internal/catalog"
	"signal-systemv1/internal/engine"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/marketdata/replay"
	"signal-systemv1/internal/marketdata/ws"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/ringbuf"
	"signal-systemv1/internal/strategy"
	redisstore "signal-systemv1/internal/store/redis"
	sqlitestore "signal-systemv1/internal/store/sqlite"
)

// Service is the top-level orchestrator. It wires all dependencies,
// manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg    Config
	logger *slog.Logger

	prom   *metrics.Metrics
	health *metrics.HealthStatus

	registry   *algo.Registry
	buffers    *ringbuf.Manager
	engine     *engine.Engine
	catalog    *catalog.Catalog
	strategies *strategy.Manager

	store     *sqlitestore.Store
	publisher *redisstore.Publisher
	source    model.EventSource

	fanout   *bus.FanOut
	updateCh chan model.IndicatorValue
	eventCh  chan model.MarketEvent

	metricsSrv *metrics.Server
}

// New creates a Service from the given Config. Registry construction,
// variant store and publisher failures are fatal; the service never
// starts half-wired.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		logger:   logger.Init("sigengine", slog.LevelInfo),
		prom:     metrics.NewMetrics(),
		health:   metrics.NewHealthStatus(),
		updateCh: make(chan model.IndicatorValue, 4096),
		eventCh:  make(chan model.MarketEvent, 4096),
	}

	// ---- Algorithm registry (fatal if empty) ----
	registry, err := algo.NewRegistry(svc.logger)
	if err != nil {
		return nil, fmt.Errorf("algorithm registry: %w", err)
	}
	svc.registry = registry

	// ---- Ring buffers ----
	svc.buffers = ringbuf.NewManager(ringbuf.ManagerConfig{
		MinSize: cfg.BufferMin,
		MaxSize: cfg.BufferMax,
		Margin:  cfg.BufferMargin,
	})
	svc.buffers.OnOverflow = func(string, model.DataKind) { svc.prom.BufferOverflow.Inc() }

	// ---- Indicator engine ----
	svc.engine = engine.New(engine.Config{
		Workers:        cfg.Workers,
		Concurrency:    cfg.Concurrency,
		ComputeTimeout: cfg.ComputeTimeout,
		HistorySize:    cfg.HistorySize,
		QueueSize:      cfg.QueueSize,
	}, svc.buffers, svc.registry, svc.logger, engine.Hooks{
		OnCompute: func(d time.Duration) { svc.prom.ComputeDur.Observe(d.Seconds()) },
		OnTimeout: func(string) { svc.prom.ComputeTimeouts.Inc() },
		OnDrop:    func(string) { svc.prom.EventQueueDrops.Inc() },
		OnUpdate: func(v model.IndicatorValue) {
			svc.prom.UpdatesTotal.Inc()
			select {
			case svc.updateCh <- v:
			default:
				svc.prom.FanoutDropsTotal.WithLabelValues("bus_input").Inc()
			}
		},
		OnUnavailable: func(bt model.BaseType) {
			svc.prom.UnavailableTotal.WithLabelValues(string(bt)).Inc()
		},
		OnResize: func(string, model.DataKind, int) { svc.prom.BufferResizes.Inc() },
	})

	// ---- SQLite variant store ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("variant store: %w", err)
	}
	store, err := sqlitestore.New(sqlitestore.StoreConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("variant store: %w", err)
	}
	svc.store = store

	// ---- Variant catalog ----
	svc.catalog = catalog.New(store, svc.registry, svc.engine, svc.logger)

	// ---- Redis publisher ----
	svc.publisher, err = redisstore.NewPublisher(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("publisher: %w", err)
	}
	svc.wireBreakerMetrics()

	// ---- Strategy manager ----
	svc.strategies = strategy.NewManager(svc.logger, func(t model.TransitionEvent) {
		svc.prom.TransitionsTotal.WithLabelValues(string(t.To)).Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svc.publisher.PublishTransition(ctx, t); err != nil {
			svc.logger.Error("transition publish failed",
				"strategy_id", t.StrategyID, "symbol", t.Symbol, "error", err)
		}
	})

	svc.strategies.OnRejected = func(string, string) { svc.prom.TransitionsRejected.Inc() }

	// ---- Market event source ----
	svc.source, err = svc.buildSource()
	if err != nil {
		store.Close()
		svc.publisher.Close()
		return nil, err
	}

	svc.fanout = bus.New(1024)
	return svc, nil
}

// buildSource selects the market event source from SOURCE_MODE.
func (svc *Service) buildSource() (model.EventSource, error) {
	switch svc.cfg.SourceMode {
	case SourceRedis:
		return redisstore.NewConsumer(redisstore.ConsumerConfig{
			Addr:          svc.cfg.RedisAddr,
			Password:      svc.cfg.RedisPassword,
			DB:            svc.cfg.RedisDB,
			Streams:       svc.cfg.MarketStreams,
			ConsumerGroup: svc.cfg.ConsumerGroup,
			ConsumerName:  svc.cfg.ConsumerName,
		})
	case SourceWS:
		src, err := ws.New(ws.Config{URL: svc.cfg.WSURL, Symbols: svc.cfg.WSSymbols})
		if err != nil {
			return nil, err
		}
		src.OnConnected = svc.health.SetSourceConnected
		return src, nil
	case SourceReplay:
		return replay.New(replay.Config{Path: svc.cfg.ReplayPath, Speed: svc.cfg.ReplaySpeed})
	default:
		return nil, fmt.Errorf("unknown SOURCE_MODE %q", svc.cfg.SourceMode)
	}
}

// wireBreakerMetrics chains the publish breaker's state callback into
// Prometheus without disturbing the publisher's own flush-on-close hook.
func (svc *Service) wireBreakerMetrics() {
	svc.publisher.OnPublishError = func() { svc.prom.PublishErrors.Inc() }
	svc.publisher.OnBuffer = func() { svc.prom.PublishBuffered.Inc() }

	b := svc.publisher.Breaker()
	prev := b.OnStateChange
	b.OnStateChange = func(from, to redisstore.BreakerState) {
		if prev != nil {
			prev(from, to)
		}
		svc.prom.BreakerState.Set(float64(to))
		if to == redisstore.BreakerOpen {
			svc.prom.BreakerTrips.Inc()
		}
	}
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	svc.logger.Info("starting signal engine service",
		"source", svc.cfg.SourceMode, "redis", svc.cfg.RedisAddr)

	// ---- Load persisted variants (fatal on store failure) ----
	if err := svc.catalog.LoadAll(ctx); err != nil {
		return fmt.Errorf("catalog load: %w", err)
	}

	// ---- Activate configured strategies ----
	if svc.cfg.StrategiesPath != "" {
		configs, err := LoadStrategies(svc.cfg.StrategiesPath)
		if err != nil {
			svc.logger.Warn("strategies file not loaded", "path", svc.cfg.StrategiesPath, "error", err)
		}
		now := time.Now().UTC()
		for _, sc := range configs {
			svc.strategies.Activate(sc, now)
		}
		svc.prom.ActiveStrategies.Set(float64(svc.strategies.Count()))
		svc.logger.Info("strategies activated", "count", len(configs))
	}

	// ---- Ensure consumer group for the redis source ----
	if consumer, ok := svc.source.(*redisstore.Consumer); ok {
		if err := consumer.EnsureConsumerGroup(ctx); err != nil {
			svc.logger.Warn("consumer group setup failed", "error", err)
		}
	}

	// ---- Start subsystems ----
	subscribers := []string{"publisher", "strategy"}
	svc.fanout.OnDrop = func(idx int) {
		name := "unknown"
		if idx < len(subscribers) {
			name = subscribers[idx]
		}
		svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	svc.engine.Start()
	go svc.fanout.Run(ctx, svc.updateCh)
	go svc.publishLoop(ctx, svc.fanout.Subscribe())
	go svc.strategyLoop(ctx, svc.fanout.Subscribe())
	go svc.ingestLoop(ctx)
	go svc.sourceLoop(ctx)
	go svc.sweepLoop(ctx)
	go svc.statsLoop(ctx, subscribers)
	svc.startAdminAPI(ctx)

	svc.metricsSrv = metrics.NewServer(svc.cfg.MetricsAddr, svc.health)
	svc.metricsSrv.Start()
	svc.health.StartLivenessChecker(ctx, svc.publisher.Client(), svc.store.DB(), 10*time.Second)

	svc.prom.ActiveVariants.Set(float64(svc.catalog.Len()))
	svc.logger.Info("signal engine running",
		"variants", svc.catalog.Len(), "metrics_addr", svc.cfg.MetricsAddr,
		"admin_addr", svc.cfg.HTTPAddr)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

// sourceLoop runs the market event source, restarting on failure.
func (svc *Service) sourceLoop(ctx context.Context) {
	for {
		err := svc.source.Run(ctx, svc.eventCh)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			svc.logger.Error("event source stopped", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// ingestLoop moves market events from the source channel into the engine.
func (svc *Service) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-svc.eventCh:
			svc.prom.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
			svc.health.SetLastEventTime(ev.TS)
			svc.engine.Ingest(ev)
		}
	}
}

// publishLoop forwards indicator updates to the Redis event bus.
func (svc *Service) publishLoop(ctx context.Context, updates <-chan model.IndicatorValue) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := svc.publisher.PublishIndicatorUpdate(pubCtx, v); err != nil {
				svc.logger.Error("indicator publish failed", "variant_id", v.VariantID, "error", err)
			}
			cancel()
		}
	}
}

// strategyLoop drives strategy evaluation off indicator updates. Each
// update pulls a fresh snapshot for the symbol so every section sees the
// same consistent view.
func (svc *Service) strategyLoop(ctx context.Context, updates <-chan model.IndicatorValue) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			snap := svc.engine.Snapshot(v.Symbol)
			if len(snap) == 0 {
				continue
			}
			svc.strategies.OnIndicatorUpdate(v.Symbol, snap, v.TS)
		}
	}
}

// sweepLoop periodically reclaims buffers and caches for idle symbols.
func (svc *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buffers, caches := svc.engine.SweepIdle(svc.cfg.SweepTTL, time.Now().UTC())
			if buffers > 0 || caches > 0 {
				svc.prom.BuffersSwept.Add(float64(buffers))
				svc.logger.Info("idle sweep", "buffers", buffers, "caches", caches)
			}
		}
	}
}

// statsLoop samples fan-out subscriber queue depth into the saturation
// gauge so slow consumers show up before drops start.
func (svc *Service) statsLoop(ctx context.Context, subscribers []string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, st := range svc.fanout.ChannelStats() {
				name := "unknown"
				if i < len(subscribers) {
					name = subscribers[i]
				}
				if st.Cap > 0 {
					svc.prom.FanoutSaturation.WithLabelValues(name).
						Set(float64(st.Len) / float64(st.Cap))
				}
			}
		}
	}
}

// shutdown stops the engine and closes connections.
func (svc *Service) shutdown() {
	svc.logger.Info("shutdown signal received")

	svc.engine.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if svc.metricsSrv != nil {
		svc.metricsSrv.Stop(shutCtx)
	}

	svc.source.Close()
	svc.publisher.Close()
	svc.store.Close()

	svc.logger.Info("shutdown complete")
}
