package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/household-finance/internal/domain/import/handler"
	"github.com/FACorreiaa/household-finance/internal/domain/import/mapping"
	"github.com/FACorreiaa/household-finance/internal/domain/import/repository"
	"github.com/FACorreiaa/household-finance/internal/domain/import/service"
	"github.com/FACorreiaa/household-finance/pkg/config"
	"github.com/FACorreiaa/household-finance/pkg/cron"
	"github.com/FACorreiaa/household-finance/pkg/db"
	"github.com/FACorreiaa/household-finance/pkg/metrics"
	"github.com/FACorreiaa/household-finance/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	ImportRepo    repository.ImportRepository
	ImportService *service.ImportService
	Archive       storage.Archive
	Scheduler     *cron.Scheduler

	ImportHandler *handler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        int32(d.Config.Database.MinConns),
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

func (d *Dependencies) initRepositories() error {
	d.ImportRepo = repository.NewPostgresImportRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initServices() error {
	d.ImportService = service.NewImportService(d.ImportRepo, mapping.NewEngine(mapping.DefaultRules()), d.Logger).
		WithMetrics(d.Metrics)

	archive, err := storage.New(storage.Config{
		Enabled: d.Config.Import.ArchiveUploads,
		Dir:     d.Config.Import.ArchiveDir,
	})
	if err != nil {
		return fmt.Errorf("failed to init upload archive: %w", err)
	}
	d.Archive = archive

	if archive != nil {
		d.Scheduler = cron.NewScheduler(archive, d.Config.Import.ArchiveRetention, d.Config.Import.RetentionSchedule, d.Logger)
	}

	d.Logger.Info("services initialized")
	return nil
}

func (d *Dependencies) initHandlers() error {
	d.ImportHandler = handler.NewImportHandler(d.ImportService, d.Archive, d.Config.Import.MaxUploadBytes, d.Logger)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
