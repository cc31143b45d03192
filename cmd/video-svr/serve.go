package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/api"
	"github.com/home-monitor/video-svr/internal/processor"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic commit scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication()
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve()
		},
	}
}

// Serve blocks until SIGINT or SIGTERM, then drains the server and the scheduler.
func (a *Application) Serve() error {
	a.logger.Info("Starting video server",
		zap.String("name", a.cfg.Application.Name),
		zap.Int("port", a.cfg.Server.Port),
		zap.Duration("commit_interval", a.cfg.Processing.CommitInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := api.NewFeed(a.logger)
	a.processor.AddObserver(feed)

	server := api.NewServer(a.logger, api.Options{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, a.processor, feed)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	var wg sync.WaitGroup
	scheduler := processor.NewScheduler(a.logger, a.processor, a.cfg.Processing.CommitInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	<-ctx.Done()
	a.logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	wg.Wait()
	a.logger.Info("Video server stopped")
	return nil
}
