package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	importhandler "github.com/FACorreiaa/finance-importer/internal/domain/import/handler"
	importrepo "github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-importer/internal/domain/import/service"

	"github.com/FACorreiaa/finance-importer/pkg/config"
	"github.com/FACorreiaa/finance-importer/pkg/db"
	"github.com/FACorreiaa/finance-importer/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Metrics registry served on /metrics
	Registry *prometheus.Registry

	// Repositories
	TransactionRepo importrepo.TransactionRepository
	FormatStore     importrepo.FormatStore

	// Services
	ImportService *importservice.ImportService
	FileStorage   storage.Storage

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()
	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        d.Config.Database.MaxConns,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.TransactionRepo = importrepo.NewPostgresTransactionRepository(d.DB.Pool)
	d.FormatStore = importrepo.NewPostgresFormatStore(d.DB.Pool)
}

func (d *Dependencies) initServices() error {
	d.ImportService = importservice.NewImportService(d.TransactionRepo, d.FormatStore, d.Logger).
		WithSampleRows(d.Config.Import.SampleRows).
		WithWorkers(d.Config.Import.Workers)

	if dir := d.Config.Import.ArchiveDir; dir != "" {
		fileStorage, err := storage.NewLocalStorage(dir)
		if err != nil {
			return fmt.Errorf("failed to init file storage: %w", err)
		}
		d.FileStorage = fileStorage
		d.ImportService.WithArchive(fileStorage)
	}

	if d.Config.Observability.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		d.ImportService.WithMetrics(importservice.NewMetrics(d.Registry))
	}

	d.Logger.Info("services initialized", "metrics", d.Registry != nil, "archive", d.FileStorage != nil)
	return nil
}

func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, importhandler.Options{
		MaxUploadBytes: d.Config.Import.MaxUploadBytes,
		MaxBatchFiles:  d.Config.Import.MaxBatchFiles,
	}, d.Logger)
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
