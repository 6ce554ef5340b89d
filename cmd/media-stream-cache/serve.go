package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/media-stream-cache/internal/netstate"
	"github.com/vertextoedge/media-stream-cache/internal/service/maintenance"
	"github.com/vertextoedge/media-stream-cache/internal/service/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache daemon and its HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	zapLogger.Info("starting media-stream-cache",
		zap.String("version", version),
		zap.String("config", configFile))

	a, err := newApp(cfg, zapLogger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startDownloads(); err != nil {
		return err
	}

	var prober *netstate.Prober
	if a.client != nil {
		prober = netstate.NewProber(netstate.ProberConfig{
			Interval: cfg.Network.GetProbeInterval(),
			Timeout:  cfg.Network.GetProbeTimeout(),
			Failures: cfg.Network.ProbeFailures,
		}, a.client.Ping, a.monitor, zapLogger)
	}

	var records maintenance.StaleRecordCleaner
	if a.store != nil {
		records = a.store
	}
	maintenanceService := maintenance.New(&maintenance.Config{
		CheckInterval:   cfg.Maintenance.GetCheckInterval(),
		CleanupInterval: cfg.Maintenance.GetCleanupInterval(),
		MetadataMaxAge:  cfg.Maintenance.GetMetadataMaxAge(),
		DiskWarnPercent: cfg.Maintenance.DiskWarnPercent,
	}, a.cache, a.fs, records, zapLogger)

	deps := server.Deps{
		Cache:   a.cache,
		FS:      a.fs,
		Monitor: a.monitor,
		Metrics: a.metrics,
	}
	if a.store != nil {
		deps.Health = a.store
	}
	httpServer := server.New(&server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}, deps, zapLogger)

	g, gctx := errgroup.WithContext(ctx)

	if prober != nil {
		if err := prober.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(httpServer.Start)
	g.Go(func() error {
		return maintenanceService.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutdown signal received, stopping services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if prober != nil {
			prober.Stop()
		}
		maintenanceService.Stop()
		a.cache.Stop()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
		}
		return nil
	})

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("cache_dir", cfg.Cache.RootDir),
		zap.Bool("downloads", a.cache.Downloading()))

	if err := g.Wait(); err != nil {
		return err
	}

	zapLogger.Info("application stopped successfully")
	return nil
}
