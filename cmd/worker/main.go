package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scheduling pass and exit")
	flag.Parse()

	log.Println("Starting campaign dispatch worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDB(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Printf("Warning: %v; falling back to PG advisory locks", err)
	}

	a, err := app.New(ctx, cfg, db, rdb, app.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if *once {
		res, err := a.Trigger.Tick(ctx)
		if err != nil {
			a.Close()
			log.Fatalf("Tick failed: %v", err)
		}
		log.Printf("Tick complete: due=%d sending=%d dispatched=%d skipped=%d failed=%d",
			res.Due, res.Sending, res.Dispatched, res.Skipped, res.Failed)
		return
	}

	if err := a.Trigger.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	log.Printf("Scheduler running (every %s)", cfg.Scheduler.Interval())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	// Stop waits for the in-flight tick; its batch finishes or leaves rows pending.
	a.Trigger.Stop()
	log.Println("Worker stopped")
}
