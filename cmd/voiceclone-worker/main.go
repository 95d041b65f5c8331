// main package for the voiceclone-worker
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/gateway"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
	"github.com/parrotlabs/voiceclone-worker/internal/session"
	"github.com/parrotlabs/voiceclone-worker/internal/telemetry"
	"github.com/parrotlabs/voiceclone-worker/internal/worker"
)

const (
	serviceName     = "voiceclone-worker"
	logFileName     = "voiceclone-worker.log"
	shutdownTimeout = 10 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load a .env file when present, then the project configuration.
	// The .env is a development convenience and is allowed to be absent.
	_ = godotenv.Load()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, finalLog)
}

func runService(cfg *config.Config, finalLog *logger.Logger) error {
	// 4. Start the metrics pipeline when telemetry is enabled
	var metrics *telemetry.Metrics

	if cfg.Telemetry.Enabled {
		var err error

		metrics, err = telemetry.New(serviceName)
		if err != nil {
			finalLog.Error("Failed to initialize telemetry: %v", err)

			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}

		defer shutdownTelemetry(metrics, finalLog)
	}

	// 5. Build the model session once, before any job is accepted
	sess, err := session.New(cfg.Engine, finalLog)
	if err != nil {
		finalLog.Error("Failed to build model session: %v", err)

		return fmt.Errorf("failed to build model session: %w", err)
	}

	jobHandler := handler.New(sess, finalLog, metrics)

	// 6. Connect to NATS and build the worker
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	defer natsConnection.Close()

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS, jobHandler, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// 7. Start the local HTTP gateway when enabled
	gw := startGateway(cfg, jobHandler, metrics, finalLog)

	defer stopGateway(gw, finalLog)

	// 8. Run until interrupted, then drain
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logMessage := "Voiceclone worker initialized. Listening for jobs on subject: %s"
	finalLog.System(logMessage, cfg.NATS.JobsSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	finalLog.System("Voiceclone worker shut down cleanly.")

	return nil
}

func startGateway(
	cfg *config.Config,
	jobHandler *handler.Handler,
	metrics *telemetry.Metrics,
	finalLog *logger.Logger,
) *gateway.Gateway {
	if !cfg.Gateway.Enabled {
		return nil
	}

	gw := gateway.New(cfg.Gateway, jobHandler, metrics, cfg.Engine.Mode, finalLog)

	go func() {
		startErr := gw.Start()
		if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			finalLog.Error("Gateway stopped with error: %v", startErr)
		}
	}()

	finalLog.Info("Gateway listening on %s", cfg.Gateway.Bind)

	return gw
}

func stopGateway(gw *gateway.Gateway, finalLog *logger.Logger) {
	if gw == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := gw.Shutdown(shutdownCtx)
	if err != nil {
		finalLog.Warn("Gateway shutdown: %v", err)
	}
}

func shutdownTelemetry(metrics *telemetry.Metrics, finalLog *logger.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := metrics.Shutdown(shutdownCtx)
	if err != nil {
		finalLog.Warn("Telemetry shutdown: %v", err)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
