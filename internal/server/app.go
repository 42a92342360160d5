// Package server wires the bot process together: storage, the corpus
// client, the recording services, the chat transport and the operational
// listeners (gRPC health and Prometheus metrics).
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/Adriatogi/common-voice-offline/internal/cryptox"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/backup"
	"github.com/Adriatogi/common-voice-offline/internal/server/bot"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/credentials"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/memory"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
	"github.com/Adriatogi/common-voice-offline/internal/server/services"
	"github.com/Adriatogi/common-voice-offline/internal/server/transport/console"

	gs "github.com/Adriatogi/common-voice-offline/internal/server/grpc"
)

// MemoryDSN keeps all state in process memory. Nothing survives a restart.
const MemoryDSN = "memory"

const credentialSalt = "cv-offline/credentials/v1"

type App struct {
	config *config.Config
	logger logging.Logger
	lock   *flock.Flock

	db          *sql.DB
	repomanager repomanager.RepositoryManager

	metrics    *metrics.Metrics
	health     *gs.HealthServer
	transport  *console.Transport
	bot        *bot.Bot
	reconciler *services.Reconciler
}

// NewApp builds the process. Chat events are read from in, replies go to
// out and logs to logOut.
func NewApp(ctx context.Context, c *config.Config, in io.Reader, out, logOut io.Writer) (*App, error) {
	logger, err := logging.New(logOut, c.LogLevel, c.LogFormat)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:  c,
		logger:  logger,
		lock:    flock.New(c.LockFile),
		metrics: metrics.New(),
	}

	var runner dbx.Runner
	if c.DatabaseDSN == MemoryDSN {
		store := memory.NewStore()
		runner, app.repomanager = store, store
	} else {
		db, err := sql.Open("pgx", c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		runner = dbx.NewSQLRunner(db, nil)
		app.repomanager = repomanager.NewPostgresRepositoryManager()
	}

	client, err := corpus.NewClient(corpus.Config{
		BaseURL:      c.CorpusBaseURL,
		ClientID:     c.CorpusClientID,
		ClientSecret: c.CorpusClientSecret,
		Timeout:      c.CorpusTimeout,
	})
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("corpus client: %w", err)
	}

	sealer, err := cryptox.NewSealer([]byte(c.SecretKey), []byte(credentialSalt))
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("credential sealer: %w", err)
	}

	sink, err := newSink(ctx, c)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("backup sink: %w", err)
	}

	app.transport = console.New(in, out)

	m := app.repomanager
	lk := locks.NewKeyed()
	creds := credentials.NewManager(runner, m, client, sealer, c.TokenExpiryBuffer, c.CorpusTimeout, app.metrics, logger)
	contributors := services.NewContributorService(runner, m, c, client, creds, lk, services.NewSessions(), logger)
	allocator := services.NewAllocator(runner, m, c, client, creds, lk, app.metrics, logger)
	capture := services.NewCaptureService(runner, m, lk, app.transport, sink, app.metrics, logger)
	app.reconciler = services.NewReconciler(runner, m, c, client, creds, lk, app.transport, app.metrics, logger)
	stats := services.NewStatsService(runner, m)

	app.bot = bot.New(c, app.transport, contributors, allocator, capture, app.reconciler, stats, app.metrics, logger)

	if c.HealthAddrGRPC != "" {
		app.health = gs.NewHealthServer(c.HealthAddrGRPC, logger)
	}

	return app, nil
}

// newSink picks S3 when a bucket is configured, else a local directory,
// else no backup at all.
func newSink(ctx context.Context, c *config.Config) (backup.Sink, error) {
	switch {
	case c.S3Bucket != "":
		return backup.NewS3Sink(ctx, backup.S3Config{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
	case c.BackupDir != "":
		return backup.NewLocalSink(c.BackupDir)
	default:
		return nil, nil
	}
}

func (app *App) closeDB() {
	if app.db != nil {
		_ = app.db.Close()
	}
}

func (app *App) startHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, "health server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// Run owns the lock file for the lifetime of the process, migrates the
// schema and serves chat events until the input ends, a signal arrives
// or ctx is done.
func (app *App) Run(ctx context.Context) error {
	defer app.closeDB()

	ok, err := app.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another bot instance holds %s", app.config.LockFile)
	}
	defer func() {
		if err := app.lock.Unlock(); err != nil {
			app.logger.Warn(ctx, "failed to release lock", "error", err)
		}
	}()

	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "lock", app.config.LockFile)

	var wg sync.WaitGroup

	if app.health != nil {
		app.health.SetServing(true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startHealthServer(ctx, cancelFunc)
		}()
	}

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.reconciler.Run(ctx); err != nil {
			app.logger.Error(ctx, "reconciler stopped", "error", err)
		}
	}()

	// The transport goroutine may stay blocked on input after shutdown;
	// it is not waited for.
	go func() {
		if err := app.transport.Run(ctx); err != nil {
			app.logger.Error(ctx, "transport failed", "error", err)
		}
	}()

	bot.NewRouter(app.bot.Handle).Run(ctx, app.transport.Events())

	app.logger.Info(ctx, "Stopping app...")
	if app.health != nil {
		app.health.SetServing(false)
	}
	cancelFunc()
	app.reconciler.Wait()
	wg.Wait()

	return nil
}
