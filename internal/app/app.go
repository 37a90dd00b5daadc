// Package app assembles the long-running service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hydropulse/internal/alerting"
	"hydropulse/internal/api"
	"hydropulse/internal/api/handlers"
	"hydropulse/internal/config"
	"hydropulse/internal/data"
	"hydropulse/internal/feedback"
	"hydropulse/internal/forensic"
	"hydropulse/internal/gateway"
	"hydropulse/internal/link"
	"hydropulse/internal/metrics"
	"hydropulse/internal/model"
	"hydropulse/internal/pipeline"
	"hydropulse/internal/recovery"
	"hydropulse/internal/signal"
	"hydropulse/internal/store"
	"hydropulse/internal/strategist"
	"hydropulse/internal/telemetry"
	"hydropulse/internal/truth"
)

const (
	shutdownTimeout    = 10 * time.Second
	alertHistory       = 200
	cacheEvictInterval = 5 * time.Minute
)

// App owns every service of a running node. Optional backends (uplink,
// Postgres, InfluxDB, Redis, market feed) are nil when not configured.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Metrics  *metrics.Metrics
	Gateway  *gateway.Gateway
	Store    *telemetry.Store
	Pipeline *pipeline.Pipeline
	Feedback *feedback.Service
	Link     *link.Link
	Alerts   *alerting.MemoryJournal
	Hub      *handlers.Hub
	Server   *http.Server

	source   gateway.Source
	fallback *gateway.Fallback
	archive  *store.Archive
	prices  *data.ResponseCache

	pool   *pgxpool.Pool
	influx influxdb2.Client
	redis  *redis.Client
}

// New wires the node. ctx bounds the backend connection checks only.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, log: logger, Metrics: metrics.New(), Hub: handlers.NewHub(logger)}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	tags := gateway.UnitTags()
	if cfg.Gateway.TagsFile != "" {
		loaded, err := gateway.LoadTags(cfg.Gateway.TagsFile)
		if err != nil {
			return err
		}
		tags = loaded
	}
	gw, err := gateway.New(tags, log,
		gateway.WithHeartbeatInterval(cfg.Gateway.HeartbeatInterval),
		gateway.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	a.Gateway = gw

	switch cfg.Gateway.Source {
	case "websocket":
		a.source = gateway.NewWebSocketSource(cfg.Gateway.SourceURL, log)
	default:
		a.source = gateway.NewSimulatedSource(tags, cfg.Gateway.SamplePeriod, cfg.Gateway.Seed)
	}

	bank, err := signal.NewBank(cfg.FilterOptions())
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	a.Store, err = telemetry.NewStore(truth.NewJudge(), bank, log,
		telemetry.WithHistory(cfg.Telemetry.History),
		telemetry.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	diag := forensic.NewService(forensic.MustDefaultGraph(), cfg.ForensicOptions(), log)
	fin := cfg.FinancialContext()
	heal, err := recovery.NewService(
		recovery.NewSimulator(cfg.Finance.RatedPowerMW, fin.MarketPriceEurPerMWh),
		recovery.LogExecutor(log), log, recovery.WithMetrics(a.Metrics))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	strat, err := strategist.New(diag, log, strategist.WithSynergyThreshold(cfg.Pipeline.SynergyThreshold))
	if err != nil {
		return fmt.Errorf("strategist: %w", err)
	}

	vetoes, err := a.vetoStore(ctx)
	if err != nil {
		return err
	}
	a.Feedback = feedback.NewService(vetoes, log)

	a.Alerts = alerting.NewMemoryJournal(alertHistory)
	journal := alerting.Multi{alerting.NewLogJournal(log), a.Alerts}
	if cfg.Redis.Addr != "" {
		a.redis = alerting.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		journal = append(journal, alerting.NewRedisJournal(a.redis, cfg.Redis.Stream, cfg.Redis.MaxLen))
		log.Info("Alert stream enabled", zap.String("addr", cfg.Redis.Addr), zap.String("stream", cfg.Redis.Stream))
	}

	if cfg.Link.URL != "" {
		profile, err := cfg.LinkProfile()
		if err != nil {
			return err
		}
		// A simulated primary source already keeps data flowing.
		if cfg.Gateway.Source != "simulated" {
			a.fallback = gateway.NewFallback(gw, cfg.Gateway.SamplePeriod, cfg.Gateway.Seed, log)
			a.fallback.Set(true)
		}
		a.Link, err = link.New(link.NewWebSocketTransport(cfg.Link.URL), journal, log,
			link.WithTiming(cfg.LinkTiming()),
			link.WithProfile(profile),
			link.WithMetrics(a.Metrics),
			link.WithFallback(a.onLinkFallback))
		if err != nil {
			return fmt.Errorf("link: %w", err)
		}
	}

	if cfg.Influx.URL != "" {
		a.influx = store.NewInfluxClient(cfg.Influx.URL, cfg.Influx.Token)
		a.archive = store.NewArchive(a.influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx.Batch, log, a.Metrics)
		log.Info("Telemetry archive enabled", zap.String("url", cfg.Influx.URL), zap.String("bucket", cfg.Influx.Bucket))
	}

	deps := pipeline.Deps{
		Gateway:    gw,
		Store:      a.Store,
		Forensic:   diag,
		Recovery:   heal,
		Strategist: strat,
		Feedback:   a.Feedback,
		Metrics:    a.Metrics,
		Logger:     log,
	}
	if a.Link != nil {
		deps.Link = a.Link
		deps.Alerts = a.Link
	} else {
		deps.Alerts = journalAlerter{journal: journal, log: log}
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	if cfg.Market.Enabled {
		a.prices = data.NewResponseCache(cfg.Market.CacheTTL)
		deps.Prices = data.NewMarketClient(cfg.Market.APIKey, cfg.Market.BaseURL, cfg.Market.Market, cfg.Market.Zone, log,
			data.WithCache(a.prices),
			data.WithRateLimit(cfg.Market.RateLimit, 1))
	}
	a.Pipeline, err = pipeline.New(cfg.PipelineConfig(), deps)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Config:   cfg.API,
		Store:    a.Store,
		Gateway:  gw,
		Link:     a.Link,
		Pipeline: a.Pipeline,
		Feedback: a.Feedback,
		Alerts:   a.Alerts,
		Hub:      a.Hub,
		Metrics:  a.Metrics,
		Logger:   log,
	})
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// onLinkFallback runs the simulated feed while the uplink is not connected.
func (a *App) onLinkFallback(simulate bool) {
	if simulate {
		a.log.Warn("Uplink lost, falling back to simulated telemetry")
	} else {
		a.log.Info("Uplink restored, leaving simulated telemetry")
	}
	if a.fallback != nil {
		a.fallback.Set(simulate)
	}
}

func (a *App) vetoStore(ctx context.Context) (feedback.VetoStore, error) {
	if a.cfg.Postgres.DSN == "" {
		return feedback.NewMemoryStore(), nil
	}
	pool, err := store.OpenPostgres(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	vs, err := store.NewPostgresVetoStore(ctx, pool, a.log)
	if err != nil {
		return nil, err
	}
	if err := vs.Migrate(ctx); err != nil {
		return nil, err
	}
	a.log.Info("Veto store on PostgreSQL")
	return vs, nil
}

// journalAlerter records alerts directly when there is no uplink to queue
// them through.
type journalAlerter struct {
	journal alerting.Journal
	log     *zap.Logger
}

func (j journalAlerter) Emit(alert model.Alert) {
	if err := j.journal.Record(context.Background(), alert); err != nil {
		j.log.Warn("Alert journal failed", zap.String("alert", alert.ID), zap.Error(err))
	}
}

// Run serves until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.Link != nil {
		if err := a.Link.Connect(ctx); err != nil {
			return fmt.Errorf("connect uplink: %w", err)
		}
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return gateway.Pump(ctx, a.Gateway, a.source, a.log) })
	g.Go(func() error { return a.Gateway.MonitorHeartbeat(ctx) })
	if a.fallback != nil {
		g.Go(func() error { return a.fallback.Run(ctx) })
	}
	g.Go(func() error { return a.Pipeline.Run(ctx) })
	g.Go(func() error { return a.Hub.Run(ctx, a.Pipeline.Events()) })
	if a.archive != nil {
		g.Go(func() error { return a.archive.Run(ctx, a.cfg.Influx.FlushInterval) })
	}
	if a.prices != nil {
		g.Go(func() error { return a.prices.Run(ctx, cacheEvictInterval) })
	}

	g.Go(func() error {
		a.log.Info("Starting API server", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if a.Link != nil {
			a.Link.Disconnect()
		}
		return a.Server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases backends. It is safe after a failed New.
func (a *App) Close() {
	if a.Link != nil {
		a.Link.Close()
	}
	if a.Gateway != nil {
		a.Gateway.Close()
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Closing redis client failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
