package tipd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tipledger/config"
	"tipledger/observability/logging"
	telemetry "tipledger/observability/otel"
	"tipledger/storage"
)

// Main initialises and runs the tip ledger daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "tipd.toml", "path to tipd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup("tipd", cfg.Environment, cfg.LogFile)
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "tipd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(cfg.Observability.OTLPHeaders),
		Metrics:     cfg.Observability.Metrics && cfg.Observability.OTLPEndpoint != "",
		Traces:      cfg.Observability.Tracing,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	node, err := NewNode(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Error("close node", slog.Any("error", err))
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(stopCtx); err != nil {
		return fmt.Errorf("start transfers: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.RPCAddress,
		Handler:      node.Handler(),
		ReadTimeout:  time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.RPCWriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.RPCIdleTimeout) * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("tipd listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("dataDir", cfg.DataDir),
			slog.Bool("auth", cfg.Auth.Enabled))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("tipd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
