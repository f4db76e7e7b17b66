package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/orion-services/activity/internal/app"
	"github.com/orion-services/activity/internal/config"
	"github.com/orion-services/activity/internal/document"
	"github.com/orion-services/activity/internal/gitrepo"
	"github.com/orion-services/activity/internal/notify"
	"github.com/orion-services/activity/internal/search"
	"github.com/orion-services/activity/internal/step"
	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer closeDB(logger, db)

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		dataStore = store.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, keeping state in memory")
		dataStore = store.NewMemoryStore()
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Fatal("failed to create repos dir", zap.String("dir", cfg.ReposDir), zap.Error(err))
	}
	documents := document.NewService(gitrepo.New(cfg.ReposDir), logger.Named("document"))

	delivery := deliverySender(cfg, logger)
	var notifier notify.Sender = delivery
	dispatcherDone := make(chan struct{})
	if strings.TrimSpace(cfg.RedisURL) != "" {
		queue, err := notify.NewRedisQueue(cfg.RedisURL, cfg.NotifyQueue)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer func() { _ = queue.Close() }()
		logger.Info("queueing notifications on redis", zap.String("key", cfg.NotifyQueue))

		dispatcher := notify.NewDispatcher(queue, delivery, logger.Named("dispatcher"), cfg.EmailServiceTimeout)
		go func() {
			defer close(dispatcherDone)
			dispatcher.Run(ctx)
		}()
		notifier = queue
	} else {
		close(dispatcherDone)
	}
	steps := step.NewExecutor(notifier, logger.Named("step"), cfg.EmailServiceTimeout)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.StoreCatalog{Store: dataStore}, logger.Named("search"))

	service := app.New(dataStore, steps, documents, searchService, app.Options{
		DefaultWorkflow: cfg.DefaultWorkflow,
		Logger:          logger.Named("engine"),
	})
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error (will retry on next restart)", zap.Error(err))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Orion activity API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("notification dispatcher did not stop before shutdown deadline")
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// deliverySender picks the transport that actually hands notifications to a
// mail system: the email service when configured, then SMTP.
func deliverySender(cfg config.Config, logger *zap.Logger) notify.Sender {
	if strings.TrimSpace(cfg.EmailServiceURL) != "" {
		logger.Info("delivering notifications through the email service", zap.String("url", cfg.EmailServiceURL))
		return notify.NewHTTPClient(cfg.EmailServiceURL, cfg.EmailServiceTimeout)
	}
	smtpSender := notify.NewSMTPSender(notify.SMTPConfig{
		Host:            cfg.SMTPHost,
		Port:            cfg.SMTPPort,
		Username:        cfg.SMTPUsername,
		Password:        cfg.SMTPPassword,
		From:            cfg.SMTPFrom,
		FromName:        cfg.SMTPFromName,
		RecipientDomain: cfg.SMTPRecipientDomain,
	})
	if smtpSender.IsConfigured() {
		logger.Info("delivering notifications over SMTP", zap.String("host", cfg.SMTPHost))
		return smtpSender
	}
	logger.Warn("no notification transport configured, notifications are dropped")
	return notify.Nop{}
}

func closeDB(logger *zap.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
