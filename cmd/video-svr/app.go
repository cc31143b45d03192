package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/config"
	"github.com/home-monitor/video-svr/internal/processor"
	"github.com/home-monitor/video-svr/internal/restapi"
	"github.com/home-monitor/video-svr/internal/services"
	"github.com/home-monitor/video-svr/internal/sink/arrow"
	"github.com/home-monitor/video-svr/internal/storage"
)

// Application holds the wired components shared by every command.
type Application struct {
	cfg       *config.Config
	logger    *zap.Logger
	state     *storage.SQLiteStore
	archive   *arrow.Archive
	processor *processor.Processor
}

func NewApplication() (*Application, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := createLogger(cfg.Application.LogLevel)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	// zone-less event dates from the store are read in time.Local
	time.Local = loc

	app := &Application{cfg: cfg, logger: logger}
	if err := app.initializeComponents(loc); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Application.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (a *Application) initializeComponents(loc *time.Location) error {
	a.logger.Debug("Initializing components")

	state, err := storage.Open(a.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	a.state = state

	deps := processor.Deps{
		Remote: restapi.NewStoreClient(a.logger, restapi.StoreClientOptions{
			BaseURL:       a.cfg.Remote.URL(),
			Timeout:       a.cfg.Remote.Timeout,
			RatePerMinute: a.cfg.Remote.RatePerMinute,
			UserAgent:     a.cfg.Remote.UserAgent,
		}),
		Scanner: services.NewFileScanner(a.logger, loc),
		Executor: services.NewExecutor(a.logger, services.ExecutorOptions{
			Workers:     a.cfg.Processing.FileWorkers,
			MoveTimeout: a.cfg.Processing.MoveTimeout,
			Overwrite:   a.cfg.Storage.OverwriteExisting,
		}),
		State: state,
		Lock:  processor.NewPassLock(a.cfg.State.Dir),
	}
	if a.cfg.Audit.Enabled {
		a.archive = arrow.NewArchive(a.logger, a.cfg.AuditDir())
		deps.Archive = a.archive
	}

	a.processor = processor.New(a.logger, processor.Options{
		VideoDir:            a.cfg.Storage.VideoDir,
		MovementDir:         a.cfg.Storage.MovementDir,
		RestrictDeletePaths: a.cfg.Server.RestrictDeletePaths,
		PassTimeout:         a.cfg.Processing.PassTimeout,
	}, deps)

	a.logger.Debug("Components initialized",
		zap.String("video_dir", a.cfg.Storage.VideoDir),
		zap.String("movement_dir", a.cfg.Storage.MovementDir),
		zap.String("remote", a.cfg.Remote.URL()))
	return nil
}

func (a *Application) Close() {
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("Failed to close state database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func createLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	case "info":
		cfg = zap.NewProductionConfig()
	case "warn", "warning":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg = zap.NewProductionConfig()
	}

	// stdout carries command output, so logs go to stderr
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}
