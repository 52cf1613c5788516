// Package server builds the process: configuration, infrastructure clients,
// stores, services, and either the HTTP surface or the job worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/contractor-socket/internal/api"
	"github.com/JakeFAU/contractor-socket/internal/cache"
	"github.com/JakeFAU/contractor-socket/internal/captcha"
	"github.com/JakeFAU/contractor-socket/internal/clock/system"
	"github.com/JakeFAU/contractor-socket/internal/config"
	"github.com/JakeFAU/contractor-socket/internal/database"
	"github.com/JakeFAU/contractor-socket/internal/enquiry"
	"github.com/JakeFAU/contractor-socket/internal/geocode"
	"github.com/JakeFAU/contractor-socket/internal/hash/sha256"
	"github.com/JakeFAU/contractor-socket/internal/id/uuid"
	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/logging"
	"github.com/JakeFAU/contractor-socket/internal/media"
	"github.com/JakeFAU/contractor-socket/internal/metrics"
	"github.com/JakeFAU/contractor-socket/internal/queue"
	"github.com/JakeFAU/contractor-socket/internal/ratelimit"
	pgstore "github.com/JakeFAU/contractor-socket/internal/storage/postgres"
	"github.com/JakeFAU/contractor-socket/internal/tenant"
	"github.com/JakeFAU/contractor-socket/internal/upstream"
	"github.com/JakeFAU/contractor-socket/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds the process dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	cache   cache.Cache
	redis   *cache.Redis
	queue   queue.Queue
	gcs     *storage.Client
	pool    *pgxpool.Pool
	jobs    *jobs.Client
	clock   *system.Clock
	ids     *uuid.Generator
	http    *http.Client
	geocode *geocode.Service

	companies    *pgstore.CompanyStore
	contractors  *pgstore.ContractorStore
	appointments *pgstore.AppointmentStore
	upstream     *upstream.Client
	enquiries    *enquiry.Service
	tenants      *tenant.Resolver
	images       *media.Processor
}

// Build creates the dependencies shared by every subcommand. The database
// pool is opened separately because the web and worker processes connect
// differently.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		http:   &http.Client{Timeout: cfg.HTTPTimeout()},
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("media_backend", cfg.Media.Backend),
	)

	if err := app.setupCache(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if app.queue, err = setupQueue(ctx, cfg, logger); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	blobs, gcsClient, err := setupBlobStore(ctx, cfg.Media, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.gcs = gcsClient

	app.jobs = jobs.NewClient(app.queue, app.ids, app.clock)
	app.companies = pgstore.NewCompanyStore()
	app.tenants = tenant.NewResolver(app.companies, cfg.Tenant.RootDomain)
	app.contractors = pgstore.NewContractorStore(app.jobs, logger.Named("contractors"))
	app.appointments = pgstore.NewAppointmentStore()
	app.upstream = upstream.NewClient(app.http, cfg.Upstream.APIRoot, cfg.HTTP.UserAgent,
		ratelimit.New(ratelimit.Config{RPS: cfg.Upstream.RPS, Burst: cfg.Upstream.Burst}))
	app.enquiries = enquiry.NewService(
		app.cache,
		app.upstream,
		captcha.NewVerifier(app.http, cfg.Captcha.URL, cfg.Captcha.Secret),
		app.tenants,
		app.jobs,
		app.clock,
		enquiry.Config{CacheTTL: cfg.Enquiry.CacheTTL, StaleAfter: cfg.Enquiry.StaleAfter},
		logger,
	)
	app.geocode = geocode.NewService(
		app.cache,
		geocode.NewGoogle(app.http, cfg.Geocode.URL, cfg.Geocode.APIKey),
		sha256.New(),
		geocode.Config{RateLimit: cfg.Geocode.RateLimit, Window: cfg.Geocode.Window, CacheTTL: cfg.Geocode.CacheTTL},
		logger,
	)
	app.images = media.NewProcessor(app.http, blobs, sha256.New(), cfg.Media.MaxDownloadBytes)
	return app, nil
}

func (a *App) setupCache(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.logger.Warn("No Redis address configured, using in-process cache")
		a.cache = cache.NewMemory(nil)
		return nil
	}
	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = r
	a.cache = r
	a.logger.Info("redis cache initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) databaseConfig() database.Config {
	return database.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	}
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Connect opens the shared database pool used by the web process and the
// admin subcommands.
func (a *App) Connect(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	pool, err := database.NewPool(ctx, a.databaseConfig())
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.pool = pool
	a.logger.Info("database pool initialized")
	return nil
}

// APIServer builds the HTTP surface over the shared pool.
func (a *App) APIServer() *api.Server {
	ready := map[string]api.Pinger{"postgres": a.pool}
	if a.redis != nil {
		ready["redis"] = a.redis
	}
	return api.NewServer(api.Deps{
		DB:           database.PoolAcquirer{Pool: a.pool},
		Gate:         newGate(a.cfg, a.clock),
		Tenants:      a.tenants,
		Companies:    a.companies,
		Contractors:  a.contractors,
		Appointments: a.appointments,
		Enquiries:    a.enquiries,
		Geocoder:     a.geocode,
		Jobs:         a.jobs,
		Keys:         a.ids,
		Ready:        ready,
	}, api.Config{
		MaxBodyBytes: int64(a.cfg.Server.MaxBodyBytes),
		PageSize:     a.cfg.Server.PageSize,
		MediaURL:     a.cfg.Media.URL,
	}, a.logger)
}

// Worker builds the job actor. It owns its own pool, opened on Start.
func (a *App) Worker() *worker.Actor {
	dbCfg := a.databaseConfig()
	connect := func(ctx context.Context) (worker.Pool, error) {
		pool, err := database.NewPool(ctx, dbCfg)
		if err != nil {
			return nil, err //nolint:wrapcheck // NewPool names its failures
		}
		return pool, nil
	}
	handlers := worker.NewHandlers(a.companies, a.contractors, a.images, a.upstream, a.enquiries, a.logger)
	return worker.New(worker.Config{
		Concurrency:       a.cfg.Worker.Concurrency,
		LowConcurrency:    a.cfg.Worker.LowConcurrency,
		JobTimeout:        a.cfg.Worker.JobTimeout,
		StartupAttempts:   a.cfg.Worker.StartupAttempts,
		StartupRetryDelay: a.cfg.Worker.StartupRetryDelay,
	}, connect, a.queue, handlers, a.logger, worker.WithHTTPClient(a.http))
}

// RunWeb serves HTTP until ctx is canceled or a signal arrives. With the
// in-process queue the worker runs alongside the server, since nothing else
// can drain it.
func (a *App) RunWeb(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Connect(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	if a.cfg.Queue.Backend == "memory" {
		actor := a.Worker()
		if err := actor.Start(ctx); err != nil {
			return fmt.Errorf("start in-process worker: %w", err)
		}
		defer actor.Shutdown()
		go func() {
			a.logger.Info("in-process worker started")
			if err := actor.Run(ctx); err != nil {
				a.logger.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(a.cfg.Server.TimeoutSeconds) * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			done <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-done:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// RunWorker starts the job actor and consumes until ctx is canceled or a
// signal arrives.
func (a *App) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actor := a.Worker()
	defer actor.Shutdown()
	if err := actor.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.logger.Info("worker started",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Int("low_concurrency", a.cfg.Worker.LowConcurrency),
	)
	if err := actor.Run(ctx); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	a.logger.Info("worker drained")
	return nil
}

// Migrate applies the schema.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	if err := pgstore.Migrate(ctx, a.pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema applied")
	return nil
}

// Sync enqueues a full contractor pull for the company with publicKey.
func (a *App) Sync(ctx context.Context, publicKey string) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	company, err := a.companies.GetByPublicKey(ctx, a.pool, publicKey)
	if err != nil {
		return fmt.Errorf("load company %q: %w", publicKey, err)
	}
	if err := a.jobs.PullSync(ctx, company.ID); err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}
	a.logger.Info("sync queued", zap.Int64("company_id", company.ID), zap.String("public_key", publicKey))
	return nil
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.http != nil {
		a.http.CloseIdleConnections()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
