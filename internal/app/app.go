// Package app wires configuration into the running components shared by
// the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/dispatch"
	"github.com/ignite/campaign-mailer/internal/notify"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/pkg/ratelimit"
	"github.com/ignite/campaign-mailer/internal/repository/postgres"
	"github.com/ignite/campaign-mailer/internal/scheduler"
	"github.com/ignite/campaign-mailer/internal/service/audience"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/template"
	"github.com/ignite/campaign-mailer/internal/transport"
	"github.com/ignite/campaign-mailer/internal/webhook"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Engine    *dispatch.Engine
	Trigger   *scheduler.Trigger
	Campaigns *campaign.Service
	Webhooks  *webhook.Receiver
	Hook      *notify.Hook
	Health    *api.HealthChecker
	Handlers  *api.Handlers
}

// Options overrides pieces of the wiring, mainly for tests.
type Options struct {
	Transport   transport.Transport
	Attachments transport.AttachmentStore
}

// ConfigureLogging applies the logging section to the default logger.
func ConfigureLogging(cfg config.LoggingConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// OpenDB opens and pings the PostgreSQL pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url not configured")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis when configured. A nil client with a nil
// error means Redis is disabled; leases fall back to advisory locks.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	var client *redis.Client
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.URL})
	} else {
		client = redis.NewClient(opts)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New wires every component over an open database and optional Redis.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client, opts Options) (*App, error) {
	t := opts.Transport
	if t == nil {
		var err error
		if t, err = transport.New(ctx, cfg); err != nil {
			return nil, fmt.Errorf("email transport: %w", err)
		}
	}

	engineOpts := []dispatch.Option{
		dispatch.WithLocker(distlock.Factory{Redis: rdb, DB: db}),
		dispatch.WithDefaults(postgres.NewSettingsRepo(db, cfg.Defaults.Vars())),
	}

	attachments := opts.Attachments
	if attachments == nil && cfg.Attachments.S3Bucket != "" {
		s3store, err := transport.NewS3AttachmentStore(ctx, cfg.Attachments.S3Bucket, cfg.Attachments.S3Region)
		if err != nil {
			return nil, fmt.Errorf("attachment store: %w", err)
		}
		attachments = s3store
	}
	if attachments != nil {
		engineOpts = append(engineOpts, dispatch.WithAttachments(attachments))
	}

	if rdb != nil && (cfg.Dispatch.RatePerSecond > 0 || cfg.Dispatch.DailyLimit > 0) {
		engineOpts = append(engineOpts, dispatch.WithLimiter(ratelimit.New(rdb, cfg.Transport.Provider, ratelimit.Limits{
			PerSecond: cfg.Dispatch.RatePerSecond,
			Daily:     cfg.Dispatch.DailyLimit,
		})))
	}

	var hook *notify.Hook
	if cfg.Sync.HookURL != "" {
		hook = notify.NewHook(cfg.Sync)
		engineOpts = append(engineOpts, dispatch.WithNotifier(hook))
	}

	store := postgres.NewDispatchStore(db)
	engine := dispatch.New(store, t, template.NewRenderer(), dispatch.ConfigFrom(cfg.Dispatch), engineOpts...)
	trigger := scheduler.New(store, engine, cfg.Scheduler.Interval())

	resolver := audience.NewResolver(postgres.NewContactRepo(db))
	campaigns := campaign.NewService(postgres.NewCampaignRepo(db), resolver)

	receiver := webhook.NewReceiver(postgres.NewEventRepo(db),
		httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2))

	health := api.NewHealthChecker()
	health.Add("database", true, 3*time.Second, db.PingContext)
	if rdb != nil {
		health.Add("redis", false, 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	logger.Info("components wired",
		"provider", cfg.Transport.Provider,
		"redis", rdb != nil,
		"attachments", attachments != nil,
		"sync_hook", hook != nil,
		"batch_size", cfg.Dispatch.BatchSize,
		"concurrency", cfg.Dispatch.Concurrency)

	return &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Engine:    engine,
		Trigger:   trigger,
		Campaigns: campaigns,
		Webhooks:  receiver,
		Hook:      hook,
		Health:    health,
		Handlers:  api.NewHandlers(campaigns, engine, trigger, receiver),
	}, nil
}

// Close waits for detached notifications and closes connections.
func (a *App) Close() {
	if a.Hook != nil {
		a.Hook.Wait()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
