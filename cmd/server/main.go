package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailspace/mailspace/internal/api"
	"github.com/mailspace/mailspace/internal/config"
	"github.com/mailspace/mailspace/internal/dispatch"
	"github.com/mailspace/mailspace/internal/pkg/logger"
	"github.com/mailspace/mailspace/internal/pkg/secrets"
	"github.com/mailspace/mailspace/internal/scheduler"
	"github.com/mailspace/mailspace/internal/store"
	"github.com/mailspace/mailspace/internal/store/dynamo"
	"github.com/mailspace/mailspace/internal/store/memory"
	"github.com/mailspace/mailspace/internal/store/postgres"
	"github.com/mailspace/mailspace/internal/template"
	"github.com/mailspace/mailspace/internal/transport"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx := context.Background()

	st, db, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("opening %s store: %v", cfg.Storage.Type, err)
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to local locks", "addr", cfg.Redis.Addr, "error", err.Error())
			redisClient = nil
		}
	}

	box, err := openSecrets(cfg)
	if err != nil {
		log.Fatalf("initializing secrets: %v", err)
	}

	mailer, err := openMailer(ctx, cfg, box)
	if err != nil {
		log.Fatalf("initializing mailer: %v", err)
	}

	engine := dispatch.NewEngine(st, mailer, template.NewEngine(), dispatch.Options{
		RetryAttempts: cfg.Dispatch.RetryAttempts,
		RetryPause:    cfg.Dispatch.RetryPause(),
		MessagePause:  cfg.Dispatch.MessagePause(),
		BaseURL:       cfg.PublicURL,
	})

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(st, engine, redisClient, db, scheduler.Options{
			PollInterval: cfg.Scheduler.PollInterval(),
			StaleWindow:  cfg.Scheduler.StaleProcessingWindow(),
			LockTTL:      cfg.Scheduler.LockTTL(),
		})
		if err := sched.Start(); err != nil {
			log.Fatalf("starting scheduler: %v", err)
		}
		defer sched.Stop()
	}

	srv := api.NewServer(st, engine, box)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", addr, "storage", cfg.Storage.Type)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err.Error())
	}
}

// openStore builds the configured storage backend. The *sql.DB is
// non-nil only for postgres; the scheduler uses it for advisory locks.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return pg, pg.DB(), nil
	case "dynamo":
		dy, err := dynamo.New(ctx, cfg.Storage.TableName, cfg.Storage.Region, cfg.Storage.AWSProfile)
		if err != nil {
			return nil, nil, err
		}
		return dy, nil, nil
	case "memory":
		logger.Warn("using in-memory storage, all data is lost on restart")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func openSecrets(cfg *config.Config) (*secrets.Box, error) {
	if cfg.Secrets.Key == "" {
		logger.Warn("no secret key configured, SMTP passwords stored in the clear")
		return nil, nil
	}
	return secrets.New(cfg.Secrets.Key)
}

func openMailer(ctx context.Context, cfg *config.Config, box *secrets.Box) (transport.Mailer, error) {
	if cfg.SES.Enabled {
		logger.Info("delivery transport: SES", "region", cfg.SES.Region)
		return transport.NewSESMailer(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	}
	logger.Info("delivery transport: per-sender SMTP")
	return transport.NewSMTPMailer(box, time.Duration(cfg.Dispatch.SMTPTimeoutSeconds)*time.Second), nil
}
