// Sailor — выполняет функцию компонента для сообщений одного шага flow.
//
// Sailor:
//   - Получает сообщения из очереди шага в RabbitMQ
//   - Расшифровывает их и передаёт функции компонента
//   - Публикует data, error, rebound и snapshot сообщения
//   - Подтверждает или отклоняет исходное сообщение
//
// Использование:
//
//	sailor run        обработка очереди до SIGINT/SIGTERM
//	sailor shutdown   shutdown hook при остановке flow
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shaiso/sailor/internal/apiclient"
	"github.com/shaiso/sailor/internal/component"
	"github.com/shaiso/sailor/internal/components"
	"github.com/shaiso/sailor/internal/config"
	"github.com/shaiso/sailor/internal/crypto"
	"github.com/shaiso/sailor/internal/mq"
	"github.com/shaiso/sailor/internal/repo"
	"github.com/shaiso/sailor/internal/sailor"
	"github.com/shaiso/sailor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

// shutdownTimeout — сколько ждать сообщений в обработке при остановке.
const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "sailor",
		Short:         "Sailor — component function runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Consume the step queue and process messages",
			RunE:  func(cmd *cobra.Command, _ []string) error { return run(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "shutdown",
			Short: "Run the component shutdown hook for the flow",
			RunE:  func(cmd *cobra.Command, _ []string) error { return shutdown(cmd.Context()) },
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run — основной режим: prepare, startup, init и обработка очереди.
func run(ctx context.Context) error {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting sailor", "version", version)

	settings, err := config.FromEnv()
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, "sailor")
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	// RabbitMQ
	conn, err := mq.Connect(ctx, settings.AMQPURI, logger, crypto.New(settings.CryptoPassword, settings.CryptoIV), mq.Options{
		Topology: mq.Topology{
			Exchange:           settings.PublishMessageTo,
			DataRoutingKey:     settings.DataRoutingKey,
			ErrorRoutingKey:    settings.ErrorRoutingKey,
			ReboundRoutingKey:  settings.ReboundRoutingKey,
			SnapshotRoutingKey: settings.SnapshotRoutingKey,
		},
		Prefetch:                 settings.Prefetch,
		ReboundLimit:             settings.ReboundLimit,
		ReboundInitialExpiration: settings.ReboundInitialExpiration,
	})
	if err != nil {
		return fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	s, cleanup, err := newSailor(ctx, settings, conn, logger)
	if err != nil {
		conn.Disconnect()
		return err
	}
	defer cleanup()

	if err := s.Prepare(ctx); err != nil {
		conn.Disconnect()
		return err
	}
	if err := s.Startup(ctx); err != nil {
		conn.Disconnect()
		return err
	}
	if err := s.Init(ctx); err != nil {
		conn.Disconnect()
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if conn.IsClosing() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + settings.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := s.Run(ctx)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("sailor stopped")
	return nil
}

// shutdown вызывает shutdown hook функции и удаляет startup данные.
func shutdown(ctx context.Context) error {
	logger := telemetry.SetupLogger()
	logger.Info("running shutdown hook", "version", version)

	settings, err := config.FromEnv()
	if err != nil {
		return err
	}

	s, cleanup, err := newSailor(ctx, settings, nil, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := s.Prepare(ctx); err != nil {
		return err
	}
	return s.RunShutdownHook(ctx)
}

// newSailor собирает Sailor: API клиент, хранилище startup данных и компонент.
func newSailor(ctx context.Context, settings config.Settings, conn *mq.Connection, logger *slog.Logger) (*sailor.Sailor, func(), error) {
	api := apiclient.New(apiclient.Config{
		BaseURL:       settings.APIURI,
		Username:      settings.APIUsername,
		APIKey:        settings.APIKey,
		RetryAttempts: settings.APIRetryAttempts,
		RetryDelay:    settings.APIRetryDelay,
		Logger:        logger,
	})

	cleanup := func() {}
	var startup sailor.StartupStore = api

	// Startup данные в Postgres вместо hooks API
	if settings.StartupStateDBURL != "" {
		pool, err := repo.NewPool(ctx, settings.StartupStateDBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to startup state database: %w", err)
		}
		store := repo.NewStartupStateRepo(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("startup state database connected")

		startup = store
		cleanup = pool.Close
	}

	descriptor, err := component.LoadDescriptor(settings.ComponentPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry := component.NewRegistry()
	components.Register(registry)
	logger.Debug("component functions registered", "functions", registry.Names())

	s := sailor.New(sailor.Config{
		Settings: settings,
		Conn:     conn,
		API:      api,
		Startup:  startup,
		Loader:   component.NewLoader(registry, descriptor),
		Logger:   logger,
	})
	return s, cleanup, nil
}
