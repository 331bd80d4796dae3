// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/api"
	"github.com/JakeFAU/municipal-sentinel/internal/clock/system"
	"github.com/JakeFAU/municipal-sentinel/internal/config"
	"github.com/JakeFAU/municipal-sentinel/internal/contact"
	"github.com/JakeFAU/municipal-sentinel/internal/enrich"
	collyfetcher "github.com/JakeFAU/municipal-sentinel/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/municipal-sentinel/internal/fetcher/headless"
	"github.com/JakeFAU/municipal-sentinel/internal/hash/sha256"
	"github.com/JakeFAU/municipal-sentinel/internal/headless/detector"
	"github.com/JakeFAU/municipal-sentinel/internal/id/uuid"
	"github.com/JakeFAU/municipal-sentinel/internal/logging"
	"github.com/JakeFAU/municipal-sentinel/internal/metrics"
	"github.com/JakeFAU/municipal-sentinel/internal/notify"
	"github.com/JakeFAU/municipal-sentinel/internal/pipeline"
	"github.com/JakeFAU/municipal-sentinel/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/municipal-sentinel/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/municipal-sentinel/internal/publisher/pubsub"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
	"github.com/JakeFAU/municipal-sentinel/internal/sniper"
	gcsstorage "github.com/JakeFAU/municipal-sentinel/internal/storage/gcs"
	localstorage "github.com/JakeFAU/municipal-sentinel/internal/storage/local"
	memorystorage "github.com/JakeFAU/municipal-sentinel/internal/storage/memory"
	pgstore "github.com/JakeFAU/municipal-sentinel/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/municipal-sentinel/internal/storage/sqlite"
	"github.com/JakeFAU/municipal-sentinel/internal/telemetry"
)

// Store is the persistence surface every database backend provides.
type Store interface {
	sentinel.SnapshotStore
	sentinel.DocketStore
	sentinel.RunLogger
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	runner    *pipeline.Runner

	store           Store
	storeClose      func()
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracerProvider  *sdktrace.TracerProvider
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		ServerPort      int    `json:"server_port"`
		DatabaseBackend string `json:"database_backend"`
		StorageBackend  string `json:"storage_backend"`
		Headless        bool   `json:"headless"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		ServerPort:      cfg.Server.Port,
		DatabaseBackend: cfg.Database.Backend,
		StorageBackend:  cfg.Storage.Backend,
		Headless:        cfg.Headless.Enabled,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Run serves the trigger API and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// RunOnce executes a single pipeline run without starting the HTTP server.
func (a *App) RunOnce(ctx context.Context) (pipeline.Summary, error) {
	summary, err := a.runner.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("pipeline run: %w", err)
	}
	return summary, nil
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) error {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.storeClose != nil {
		a.storeClose()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app, err := BuildWithLogger(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	app.tracerProvider = tp
	return app, nil
}

// BuildWithLogger wires the App using an existing logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.logger.Info("building application dependencies")

	if err := setupDatabase(ctx, app); err != nil {
		app.closeQuietly()
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	sources, err := setupSources(app)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	app.runner = pipeline.New(
		pipeline.Config{
			FetcherTimeout: cfg.FetcherTimeout(),
			ArchivePrefix:  cfg.Storage.Prefix,
			Location:       loc,
		},
		sources,
		enrich.New(contact.NewNoop(), cfg.Pipeline.EnrichLimit, logger),
		notify.NewPublishNotifier(publisher, cfg.PubSub.TopicName, logger),
		app.store,
		blobStore,
		system.NewIn(loc),
		uuid.New(),
		logger,
	)
	app.apiServer = api.NewServer(app.runner, api.Config{
		CronSecret:     cfg.Auth.CronSecret,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger)
	if cfg.Auth.CronSecret == "" {
		app.logger.Warn("auth.cron_secret is empty; every trigger will be rejected")
	}
	return app, nil
}

func (a *App) closeQuietly() {
	_ = a.Close(context.Background())
}

func setupDatabase(ctx context.Context, app *App) error {
	db := app.cfg.Database
	switch db.Backend {
	case "postgres":
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN: db.DSN,
			Tables: pgstore.Tables{
				Snapshots: db.SnapshotTable,
				Dockets:   db.DocketTable,
				Runs:      db.RunLogTable,
			},
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.store, app.storeClose = store, store.Close
		app.logger.Info("using postgres store", zap.String("snapshot_table", db.SnapshotTable))
	case "sqlite":
		store, err := sqlitestore.Open(ctx, db.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.store = store
		app.storeClose = func() {
			if err := store.Close(); err != nil {
				app.logger.Warn("sqlite close failed", zap.Error(err))
			}
		}
		app.logger.Info("using sqlite store", zap.String("path", db.SQLitePath))
	default:
		app.logger.Warn("using in-memory store; snapshot history is lost on restart")
		app.store = memorystorage.NewStore()
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (sentinel.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS archive backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local archive backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory archive backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (sentinel.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher, err = gcppublisher.New(client, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupSources(app *App) (pipeline.Sources, error) {
	cfg := app.cfg
	loc, err := cfg.Location()
	if err != nil {
		return pipeline.Sources{}, err
	}
	clock := system.NewIn(loc)
	logger := app.logger.Named("sniper")

	direct := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	app.logger.Info("using colly feed fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))

	var listing sentinel.PageFetcher = direct
	if cfg.Headless.Enabled {
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      cfg.Headless.WaitSelector,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMS) * time.Millisecond,
		})
		if err != nil {
			return pipeline.Sources{}, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		listing = detector.NewEscalating(direct, app.headless, detector.NewHeuristic(0), logger)
		app.logger.Info("council listing escalates to headless when needed",
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
			zap.String("wait_selector", cfg.Headless.WaitSelector))
	}

	var agendas sentinel.PageFetcher = direct
	if cfg.RateLimit.Enabled {
		agendas = ratelimit.Wrap(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		}), direct)
		app.logger.Info("rate limiting agenda fetches",
			zap.Float64("rps", cfg.RateLimit.DefaultRPS),
			zap.Int("burst", cfg.RateLimit.DefaultBurst),
		)
	}

	t := cfg.Targeting
	return pipeline.Sources{
		Enforcement: sniper.NewEnforcement(sniper.EnforcementConfig{
			CodeEnforcementURL: cfg.Feeds.CodeEnforcementURL,
			ParkingURL:         cfg.Feeds.ParkingURL,
			Keywords:           t.DistressKeywords,
		}, direct, logger),
		Licenses: sniper.NewLicenses(sniper.LicensesConfig{
			URL:      cfg.Feeds.StroLicensesURL,
			Tiers:    t.LicenseTiers,
			Zips:     t.ZipCodes,
			Location: loc,
		}, direct, app.store, clock, logger),
		Dockets: sniper.NewDockets(sniper.DocketsConfig{
			URL:           cfg.Feeds.CouncilMeetingsURL,
			Keywords:      t.DocketKeywords,
			LookaheadDays: t.DocketLookaheadDays,
			Location:      loc,
		}, listing, agendas, app.store, sha256.NewTruncated(16), clock, logger),
		Integrity: sniper.NewIntegrity(sniper.IntegrityConfig{
			URL:          cfg.Scraper.URL,
			Token:        cfg.Scraper.Token,
			ListingsPath: cfg.Scraper.ListingsPath,
			Zips:         t.ZipCodes,
			Window:       config.Days(t.IntegrityWindowDays),
		}, direct, app.store, clock, logger),
		Renewal: sniper.NewRenewal(sniper.RenewalConfig{
			Zips:   t.ZipCodes,
			Window: config.Days(t.RenewalWindowDays),
		}, app.store, clock),
		TOT: sniper.NewTOT(sniper.TOTConfig{
			URL:    cfg.Feeds.TOTURL,
			Zips:   t.ZipCodes,
			Window: config.Days(t.TOTWindowDays),
		}, direct, app.store, clock, logger),
	}, nil
}
