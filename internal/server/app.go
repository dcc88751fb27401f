// Package server initializes and runs the FlowGuard API server: database
// and migrations, schema archival, the Gemini-backed services, and the
// REST endpoint with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flowguard/flowguard/internal/logging"
	"github.com/flowguard/flowguard/internal/server/archive"
	"github.com/flowguard/flowguard/internal/server/config"
	"github.com/flowguard/flowguard/internal/server/httpapi"
	"github.com/flowguard/flowguard/internal/server/repositories/repomanager"
	"github.com/flowguard/flowguard/internal/server/services"
	"github.com/flowguard/flowguard/internal/server/validation"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	userService   *services.UserService
	schemaService *services.SchemaService
	runnerService *services.RunnerService
	reportService *services.ReportService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	rm, err := repomanager.NewPostgresRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	var archiver services.Archiver
	// NewS3Archiver returns nil when no endpoint is configured; keep the
	// interface value nil too so the schema service skips archival.
	if a := archive.NewS3Archiver(cfg); a != nil {
		archiver = a
	}

	us := services.NewUserService(db, rm, cfg)
	ss := services.NewSchemaService(db, rm, cfg, validation.ValidateAnalysis, archiver, logger)
	rs := services.NewRunnerService(db, rm, cfg, logger)
	ps := services.NewReportService(db, rm, rs, cfg, logger)

	return &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		userService:   us,
		schemaService: ss,
		runnerService: rs,
		reportService: ps,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	handlers := httpapi.NewHandlers(app.userService, app.schemaService,
		app.runnerService, app.reportService, app.logger)
	router := httpapi.NewRouter(handlers, []byte(app.config.SecretKey))

	s := httpapi.NewServer(app.config.EndpointAddrHTTP, router, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
