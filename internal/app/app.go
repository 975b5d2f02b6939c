package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pricewatch/internal/alerting"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/history"
	"pricewatch/internal/sampler"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/service"
	"pricewatch/internal/storage"
	"pricewatch/internal/version"
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

// newFeed routes every configured asset to its source. The returned closer
// releases the on-chain client when one was created.
func (a *App) newFeed() (*fetcher.Router, func()) {
	router := fetcher.NewRouter(fetcher.Source(a.Config.Feed.Source))

	userAgent := a.Config.Feed.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	router.Register(fetcher.SourceCoinGecko, fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL:    a.Config.Feed.BaseURL,
		VsCurrency: a.Config.Feed.VsCurrency,
		APIKey:     a.Config.Feed.APIKey,
		Timeout:    a.Config.Feed.RequestTimeout,
		UserAgent:  userAgent,
	}, a.Logger))

	closer := func() {}
	if a.Config.Ethereum.RPCURL != "" {
		chainlink := fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  a.Config.Ethereum.RPCURL,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
		router.Register(fetcher.SourceChainlink, chainlink)
		closer = chainlink.Close
	}

	for _, asset := range a.Config.Assets {
		router.AddRoute(fetcher.Route{
			AssetID: asset.ID,
			Source:  fetcher.Source(asset.Source),
			FeedID:  asset.FeedID,
		})
	}
	return router, closer
}

func (a *App) newNotifier() alerting.Notifier {
	router := &alerting.Router{Log: alerting.NewLogNotifier(a.Logger)}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		router.Telegram = alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.DispatchTimeout, a.Logger)
	}
	if a.Config.Alerting.SMTP.Enabled {
		cfg := a.Config.Alerting.SMTP
		router.Email = alerting.NewEmailNotifier(alerting.SMTPOptions{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			Timeout:  cfg.Timeout,
		}, a.Logger)
	}
	return router
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if a.Config.Database.AutoMigrate {
		applied, err := storage.Migrate(ctx, pool, a.Config.Database.MigrationsPath)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.Logger.Info().Strs("migrations", applied).Msg("database migrations applied")
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openRedis(ctx context.Context) (*storage.RedisStore, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	client, err := storage.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	return storage.NewRedisStore(client, a.Config.Redis.KeyPrefix, a.Config.Redis.MaxLen), nil
}

// pipeline holds the in-memory evaluation state shared by run, replay and
// simulate-alert.
type pipeline struct {
	history    *history.Store
	registry   *alerting.Registry
	engine     *alerting.Engine
	dispatcher *alerting.Dispatcher
}

func (a *App) newPipeline(notifier alerting.Notifier) pipeline {
	store := history.NewStore(a.Config.History.Capacity)
	registry := alerting.NewRegistry()
	engine := alerting.NewEngine(store, registry, alerting.EngineOptions{
		ThresholdPct:        a.Config.Alerting.ThresholdPct,
		OperatorDestination: a.Config.Alerting.OperatorDestination,
	}, a.Logger)
	return pipeline{
		history:    store,
		registry:   registry,
		engine:     engine,
		dispatcher: alerting.NewDispatcher(notifier, a.Config.Alerting.DispatchTimeout, a.Logger),
	}
}

func (a *App) newService(feed fetcher.PriceFeed, sched *scheduler.Scheduler, samples storage.SampleStore, store *storage.Store) *service.Service {
	p := a.newPipeline(a.newNotifier())

	deps := service.Dependencies{
		Scheduler: sched,
		Sampler: sampler.New(feed, sampler.Options{
			RequestTimeout: a.Config.Feed.RequestTimeout,
		}, a.Logger),
		History:    p.history,
		Engine:     p.engine,
		Registry:   p.registry,
		Dispatcher: p.dispatcher,
		Samples:    samples,
	}
	if store != nil {
		deps.Firings = store
		deps.Locker = store
	}

	svc := service.New(a.Config, deps, a.Logger)
	svc.SeedAlerts(a.Config.Alerts)
	return svc
}

// Run executes the long-running monitoring service. With opts.Once every
// configured asset is sampled a single time and Run returns.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	mirror, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if mirror != nil {
		defer mirror.Close()
	}

	var samples storage.Fanout
	if store != nil {
		samples = append(samples, store)
	}
	if mirror != nil {
		samples = append(samples, mirror)
	}

	feed, closeFeed := a.newFeed()
	defer closeFeed()

	sched := scheduler.New(scheduler.Options{
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(feed, sched, samples, store)

	if opts.Once {
		a.Logger.Info().Int("assets", len(a.Config.Assets)).Msg("sampling once")
		return svc.Tick(ctx, time.Now().UTC(), a.configuredAssets())
	}

	a.Logger.Info().Int("assets", len(a.Config.Assets)).Int("rules", len(svc.Alerts())).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunOptions configure the run command.
type RunOptions struct {
	Once bool
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset   string
	Limit   int
	Firings bool
}

// ReplayOptions configure the replay command.
type ReplayOptions struct {
	Asset    string
	From     time.Time
	To       time.Time
	Dispatch bool
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Asset       string
	Prices      []float64
	TargetPrice float64
	Destination string
}
