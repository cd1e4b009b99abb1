// The worker runs the campaign scheduler without the HTTP API. Deploy
// it when dispatch should be isolated from API traffic; the conditional
// campaign claim keeps it safe to run alongside a scheduling server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

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

	var box *secrets.Box
	if cfg.Secrets.Key != "" {
		if box, err = secrets.New(cfg.Secrets.Key); err != nil {
			log.Fatalf("initializing secrets: %v", err)
		}
	}

	var mailer transport.Mailer
	if cfg.SES.Enabled {
		if mailer, err = transport.NewSESMailer(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region); err != nil {
			log.Fatalf("initializing SES: %v", err)
		}
	} else {
		mailer = transport.NewSMTPMailer(box, time.Duration(cfg.Dispatch.SMTPTimeoutSeconds)*time.Second)
	}

	engine := dispatch.NewEngine(st, mailer, template.NewEngine(), dispatch.Options{
		RetryAttempts: cfg.Dispatch.RetryAttempts,
		RetryPause:    cfg.Dispatch.RetryPause(),
		MessagePause:  cfg.Dispatch.MessagePause(),
		BaseURL:       cfg.PublicURL,
	})

	sched := scheduler.New(st, engine, redisClient, db, scheduler.Options{
		PollInterval: cfg.Scheduler.PollInterval(),
		StaleWindow:  cfg.Scheduler.StaleProcessingWindow(),
		LockTTL:      cfg.Scheduler.LockTTL(),
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("starting scheduler: %v", err)
	}

	logger.Info("dispatch worker running", "storage", cfg.Storage.Type)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker shutting down")
	sched.Stop()
}

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
