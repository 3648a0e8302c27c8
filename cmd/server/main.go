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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"recollector/api/config"
	"recollector/api/database"
	"recollector/api/handlers"
	"recollector/api/kafka"
	"recollector/api/middleware"
	"recollector/api/repository"
	"recollector/api/service"
	"recollector/metrics"
	"recollector/worker/cache"
	"recollector/worker/converter"
	"recollector/worker/meshy"
	"recollector/worker/notify"
	"recollector/worker/pool"
	"recollector/worker/storage"
	workerrepo "recollector/worker/repository"
	workerservice "recollector/worker/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "recollector",
		Short: "Image-to-3D model generation API server",
		Long: `Recollector accepts image uploads, submits them to a remote image-to-3D
generation service, tracks progress until the model is ready and serves the
resulting GLB files.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer logger.Sync()

			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file with configuration")
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("API Service starting",
		zap.String("addr", cfg.Addr()),
		zap.String("env", cfg.Env),
		zap.Int("workers", cfg.WorkerCount),
	)

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir, cfg.MetadataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	redisClient, err := database.ConnectRedis(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store := cache.NewStatusStore(redisClient)
	artifacts, err := storage.NewStore(cfg.OutputDir, cfg.MetadataDir)
	if err != nil {
		return err
	}

	var (
		serviceOpts   []service.Option
		processorOpts []workerservice.Option
	)

	if cfg.LedgerEnabled() {
		db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		go reportPoolStats(ctx, db, logger)

		serviceOpts = append(serviceOpts, service.WithRepository(repository.NewPostgresRepo(db)))
		processorOpts = append(processorOpts, workerservice.WithLedger(workerrepo.NewPostgresRepo(db)))
		logger.Info("Task ledger enabled")
	}

	if cfg.EventsEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer producer.Close()

		serviceOpts = append(serviceOpts, service.WithProducer(producer))
		processorOpts = append(processorOpts, workerservice.WithEvents(producer))
		logger.Info("Task events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	var sender notify.Sender
	if cfg.MailEnabled() {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.MailServer,
			Port:     cfg.MailPort,
			Username: cfg.MailUsername,
			Password: cfg.MailPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
		})
	}
	processorOpts = append(processorOpts, workerservice.WithNotifier(notify.NewMailer(sender, logger)))

	processor := workerservice.NewProcessor(
		meshy.NewClient(cfg.MeshyAPIBaseURL, cfg.MeshyAPIKey, cfg.RemoteTimeout, logger),
		store,
		artifacts,
		converter.NewConverter(cfg.MaxImageDimension, logger),
		workerservice.Config{
			PollInterval:   cfg.PollInterval,
			PollRetryLimit: cfg.PollRetryLimit,
			ViewerBaseURL:  cfg.ViewerBaseURL,
			ModelURLPrefix: cfg.ModelURLPrefix,
		},
		logger,
		processorOpts...,
	)

	// Tasks outlive the signal context so in-flight work is interrupted only
	// after the HTTP server has stopped accepting uploads.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	runner := workerservice.NewRunner(workCtx, pool.NewWorkerPool(cfg.WorkerCount), processor, logger)

	taskService := service.NewTaskService(store, artifacts, runner, logger, serviceOpts...)
	taskHandler := handlers.NewTaskHandler(taskService, cfg.UploadDir, cfg.MaxFileSize, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/generate", middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)(http.HandlerFunc(taskHandler.Generate)))
	mux.HandleFunc("GET /api/status/{task_id}", taskHandler.Status)
	mux.HandleFunc("DELETE /api/tasks/{task_id}", taskHandler.Delete)
	mux.HandleFunc("POST /api/tasks/{task_id}/email", taskHandler.AttachEmail)
	mux.HandleFunc("GET /{$}", taskHandler.Root)
	mux.HandleFunc("GET /health", handlers.Health)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: middleware.Chain(mux,
			middleware.Recovery(logger),
			middleware.TraceID,
			middleware.Logging(logger),
			middleware.Metrics,
			middleware.CORS(cfg.CORSAllowedOrigins),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server")
	case err := <-errCh:
		if err != nil {
			cancelWork()
			runner.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancelWork()
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All tasks finished")
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for tasks to finish")
	}

	logger.Info("Server exited")
	return nil
}

func reportPoolStats(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		if err := metrics.UpdateDatabaseConnections(db); err != nil {
			logger.Warn("Failed to update database metrics", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
