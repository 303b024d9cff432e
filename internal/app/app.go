package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-switch/internal/accounting"
	"trades-switch/internal/config"
	"trades-switch/internal/exchange"
	"trades-switch/internal/execution"
	"trades-switch/internal/fill"
	"trades-switch/internal/log"
	"trades-switch/internal/metrics"
	"trades-switch/internal/position"
	"trades-switch/internal/report"
	"trades-switch/internal/server"
	"trades-switch/internal/sizing"
	"trades-switch/internal/state"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	venue     exchange.Futures
	simulator *exchange.Simulator
	store     *state.Store
	metrics   *metrics.Recorder
	switcher  *execution.Switcher
	reports   *report.Service
	server    *server.Server
	scheduler *report.Scheduler
}

// New 按配置装配全部组件。
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	venue, sim, err := newVenue(cfg, logger)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, venue, sim, logger), nil
}

// NewWithVenue 使用外部提供的交易能力装配，主要用于测试与模拟盘。
func NewWithVenue(cfg *config.Config, venue exchange.Futures, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	sim, _ := venue.(*exchange.Simulator)
	return assemble(cfg, venue, sim, logger)
}

func newVenue(cfg *config.Config, logger *zap.Logger) (exchange.Futures, *exchange.Simulator, error) {
	if cfg.Exchange.Simulation || (cfg.Trading.DryRun && (cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "")) {
		logger.Info("使用内存模拟撮合",
			zap.Bool("simulation", cfg.Exchange.Simulation),
			zap.Bool("dry_run", cfg.Trading.DryRun),
		)
		sim := exchange.NewSimulator()
		return sim, sim, nil
	}

	client, err := exchange.NewClient(cfg.Exchange, logger.Named("exchange"))
	if err != nil {
		return nil, nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	logger.Info("使用交易所客户端",
		zap.String("exchange", cfg.Exchange.Name),
		zap.Bool("sandbox", cfg.Exchange.UseSandbox),
		log.Masked("api_key", cfg.Exchange.APIKey),
	)
	return client, nil, nil
}

func assemble(cfg *config.Config, venue exchange.Futures, sim *exchange.Simulator, logger *zap.Logger) *App {
	loc := cfg.App.Location()
	recorder := metrics.New()
	store := state.NewStore(cfg.Trading.DefaultCapital, logger.Named("state"), state.WithLocation(loc))

	resolver := fill.NewResolver(venue, logger.Named("fill"))
	switcher := execution.NewSwitcher(execution.Deps{
		Venue:      venue,
		Store:      store,
		Reconciler: position.NewReconciler(venue, cfg.Reconcile, recorder, logger.Named("reconcile")),
		Resolver:   resolver,
		Accountant: accounting.NewAccountant(store, cfg.Trading.FeeRate, recorder, logger.Named("accounting")),
		Opener: sizing.NewEngine(
			venue,
			exchange.NewQuoteService(venue, logger.Named("quote")),
			resolver,
			store,
			cfg.Trading,
			recorder,
			logger.Named("sizing"),
		),
		Metrics: recorder,
	}, execution.Options{
		DryRun:          cfg.Trading.DryRun,
		StrictReconcile: cfg.Reconcile.Strict,
	}, logger.Named("switch"))

	reports := report.NewService(store, cfg.Report.Hour, recorder, logger.Named("report"))

	profileNames := make([]string, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profileNames = append(profileNames, p.Name)
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		venue:     venue,
		simulator: sim,
		store:     store,
		metrics:   recorder,
		switcher:  switcher,
		reports:   reports,
		server:    server.New(cfg.Server, cfg.Profiles, switcher, reports, recorder.Handler(), logger.Named("http")),
		scheduler: report.NewScheduler(reports, profileNames, cfg.Report.Hour, loc, logger.Named("scheduler")),
	}
}

// Trader 返回仓位切换入口。
func (a *App) Trader() execution.Trader {
	return a.switcher
}

// Reports 返回报告服务。
func (a *App) Reports() *report.Service {
	return a.reports
}

// Simulator 在模拟撮合模式下返回撮合器。
func (a *App) Simulator() (*exchange.Simulator, bool) {
	return a.simulator, a.simulator != nil
}

// Run 运行 HTTP 服务与每日报告，直到 ctx 取消或任一组件失败。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Bool("simulation", a.simulator != nil),
		zap.Bool("dry_run", a.cfg.Trading.DryRun),
		zap.Bool("strict_reconcile", a.cfg.Reconcile.Strict),
		zap.Int("profiles", len(a.cfg.Profiles)),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.server.Run(groupCtx)
	})
	if a.cfg.Report.Enabled {
		group.Go(func() error {
			return a.scheduler.Run(groupCtx)
		})
	}

	err := group.Wait()
	if ctx.Err() != nil {
		a.logger.Info("系统收到退出信号，正在停止")
	}
	if err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}
