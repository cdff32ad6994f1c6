package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cirrusfs/cirrus/internal/logger"
	"github.com/cirrusfs/cirrus/pkg/config"
	"github.com/cirrusfs/cirrus/pkg/metrics"
	promstorage "github.com/cirrusfs/cirrus/pkg/metrics/prometheus"
	"github.com/cirrusfs/cirrus/pkg/storage"
)

var skipScan bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the storage service",
	Long: `Open the storage core, reconcile the id maps with the filesystem and
keep the background tasks (cache sweeper, trash expiry, id-map flusher)
running until interrupted.

Examples:
  # Start with default config location
  cirrus start

  # Start with custom config
  cirrus start --config /etc/cirrus/config.yaml

  # Skip the startup reconciling scan
  cirrus start --skip-scan

  # Use environment variables to override config
  CIRRUS_LOGGING_LEVEL=DEBUG cirrus start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&skipScan, "skip-scan", false, "Skip the startup reconciling scan")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	var storageMetrics metrics.StorageMetrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		storageMetrics = promstorage.NewStorageMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
	}

	core, err := storage.Open(cfg, storageMetrics)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !skipScan {
		report, err := core.Scan(ctx)
		if err != nil {
			core.Close(ctx)
			return fmt.Errorf("startup scan failed: %w", err)
		}
		logger.Info("Startup scan finished",
			"adopted", report.AdoptedFolders+report.AdoptedFiles,
			"dropped", report.DroppedFolders+report.DroppedFiles)
	}

	core.Start()

	if metricsServer != nil {
		go func() {
			logger.Info("Metrics endpoint listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", logger.KeyError, err.Error())
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), core.FlushTimeout())
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", logger.KeyError, err.Error())
		}
	}
	return core.Close(shutdownCtx)
}
