package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/constants"
	"chatrelay/internal/database"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/queue"
	"chatrelay/internal/retry"
	"chatrelay/internal/service"
	"chatrelay/internal/tracing"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ChatRelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting ChatRelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	metrics.MustRegister()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: constants.DefaultRetryBackoffMs * time.Millisecond,
		MaxDelay:     constants.DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	if err := seedSources(ctx, db, cfg); err != nil {
		return fmt.Errorf("failed to seed sources: %w", err)
	}

	queueCtx, cancelQueue := context.WithCancel(ctx)
	dispatchQueue := queue.NewInMemoryQueue(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, logger)
	dispatchQueue.Start(queueCtx)
	defer func() {
		cancelQueue()
		dispatchQueue.Wait()
	}()

	dispatcher := service.NewDispatcher(db, dispatchQueue, cfg.Dispatch, logger)
	router := service.NewConversationRouter(db, logger)
	ingestion := service.NewIngestionGateway(db, router, logger)
	replies := service.NewReplyGateway(db, dispatcher, logger)
	conversations := service.NewConversationReader(db)

	scheduler := service.NewScheduler(db, dispatcher, cfg.RetentionDays, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, ingestion, replies, conversations, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		serverErrCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// seedSources upserts the configured message sources so webhook calls can be
// matched against them immediately.
func seedSources(ctx context.Context, db *database.Database, cfg *models.Config) error {
	for _, sc := range cfg.Sources {
		active := true
		if sc.Active != nil {
			active = *sc.Active
		}
		src := &models.Source{
			Slug:                     sc.Slug,
			DisplayName:              sc.DisplayName,
			InboundSecret:            sc.InboundSecret,
			OutboundEndpointTemplate: sc.OutboundEndpointTemplate,
			Active:                   active,
		}
		if err := db.UpsertSource(ctx, src); err != nil {
			return fmt.Errorf("upsert source %q: %w", sc.Slug, err)
		}
	}
	return nil
}
