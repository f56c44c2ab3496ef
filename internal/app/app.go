package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stakewatch/internal/alerting"
	"stakewatch/internal/apy"
	"stakewatch/internal/config"
	"stakewatch/internal/freshness"
	"stakewatch/internal/ledger"
	"stakewatch/internal/positions"
	"stakewatch/internal/prices"
	"stakewatch/internal/query"
	"stakewatch/internal/scheduler"
	"stakewatch/internal/service"
	"stakewatch/internal/snapshot"
	"stakewatch/internal/storage"
	"stakewatch/internal/telemetry"
	"stakewatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openRepository connects to postgres when a DSN is configured and falls back
// to the in-memory store otherwise. The locker is nil without postgres.
func (a *App) openRepository(ctx context.Context) (storage.Repository, storage.AdvisoryLocker, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, data is lost on exit")
		return storage.NewMemoryStore(), nil, func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	return store, store, store.Close, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newPriceSource() prices.Source {
	cfg := a.Config.Prices
	if cfg.BaseURL == "" {
		a.Logger.Warn().Msg("prices.base_url not configured; price series will not be recorded")
		return nil
	}
	return prices.NewFeed(prices.Options{
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.RequestTimeout,
		MaxRetries:  cfg.MaxRetries,
		FallbackTTL: cfg.FallbackTTL,
		UserAgent:   version.UserAgent(),
	}, a.Logger)
}

func (a *App) dialLedger(ctx context.Context) (*ledger.Client, error) {
	cfg := a.Config.Ledger
	client, err := ledger.Dial(ctx, ledger.Options{
		RPCURL:         cfg.RPCURL,
		StakingAddress: cfg.StakingAddress,
		Timeout:        cfg.RequestTimeout,
		TokenDecimals:  cfg.TokenDecimals,
		NativeDecimals: cfg.NativeDecimals,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	return client, nil
}

// newQuery builds the read facade, backed by redis when configured and
// reachable. The leaderboard is optional; without it reads go to the store.
func (a *App) newQuery(ctx context.Context, repo storage.Repository) (*query.Service, func()) {
	cfg := a.Config.Cache
	if cfg.RedisAddr == "" {
		return query.NewService(repo, nil, a.Logger), func() {}
	}

	cli, err := query.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("leaderboard cache unavailable; serving positions from the store")
		return query.NewService(repo, nil, a.Logger), func() {}
	}
	board := query.NewRedisLeaderboard(cli, cfg.LeaderboardTTL)
	closer := func() {
		if err := cli.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return query.NewService(repo, board, a.Logger), closer
}

// newService wires the three jobs over repo and reader.
func (a *App) newService(repo storage.Repository, locker storage.AdvisoryLocker, reader ledger.Reader, cache service.CacheInvalidator, metrics *telemetry.Metrics) *service.Service {
	cfg := a.Config

	tracker := freshness.NewTracker(repo, freshness.Options{
		Notifier:       a.newNotifier(),
		ErrorThreshold: cfg.Alerting.ErrorThreshold,
		Environment:    cfg.App.Environment,
	}, a.Logger)

	collector := snapshot.NewCollector(reader, a.newPriceSource(), repo, snapshot.Options{
		StakingAddress: cfg.Ledger.StakingAddress,
		PriceSymbols:   []string{cfg.Prices.StakedSymbol, cfg.Prices.RewardSymbol},
	}, a.Logger)

	calculator := apy.NewCalculator(repo, apy.Options{
		StakedSymbol: cfg.Prices.StakedSymbol,
		Observe: func(period storage.Period, value decimal.Decimal) {
			metrics.SetAPY(string(period), value.InexactFloat64())
		},
	}, a.Logger)

	reconciler := positions.NewReconciler(reader, repo, positions.Options{
		Concurrency:       cfg.Reconciler.Concurrency,
		RequestsPerSecond: cfg.Reconciler.RequestsPerSecond,
		Burst:             cfg.Reconciler.Burst,
		Observe:           metrics.ObserveReconcile,
	}, a.Logger)

	deps := service.Deps{
		Collector:  collector,
		Calculator: calculator,
		Reconciler: reconciler,
		Freshness:  tracker,
		Metrics:    metrics,
		Locker:     locker,
		Cache:      cache,
	}
	return service.New(cfg, deps, a.Logger)
}

// Run executes the long-running aggregation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, locker, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	reader, err := a.dialLedger(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	querySvc, closeQuery := a.newQuery(ctx, repo)
	defer closeQuery()

	metrics := telemetry.NewMetrics()
	svc := a.newService(repo, locker, reader, querySvc, metrics)

	sched := scheduler.New(svc.SchedulerOptions(a.Config.Scheduler.StartupDelay), a.Logger)
	if err := svc.Register(sched); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, a.Logger)
		})
	}

	a.Logger.Info().Str("version", version.Version).Msg("starting staking aggregation service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("staking aggregation service stopped")
	return nil
}

// Once runs a single job to completion and returns its error.
func (a *App) Once(ctx context.Context, job string) error {
	repo, locker, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	reader, err := a.dialLedger(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	querySvc, closeQuery := a.newQuery(ctx, repo)
	defer closeQuery()

	svc := a.newService(repo, locker, reader, querySvc, nil)
	start := time.Now()
	if err := svc.RunJob(ctx, job); err != nil {
		return fmt.Errorf("job %s: %w", job, err)
	}
	a.Logger.Info().Str("job", job).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}

// Migrate applies the schema to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot migrate")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := storage.Migrate(pool); err != nil {
		return err
	}
	a.Logger.Info().Msg("migrations applied")
	return nil
}

// ExportOptions hold parameters for exporting the snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Since     time.Duration
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Period storage.Period
	Since  time.Duration
}
