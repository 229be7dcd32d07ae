package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stayscraper/config"
	"stayscraper/extract"
	"stayscraper/images"
	"stayscraper/logging"
	"stayscraper/scheduler"
	"stayscraper/scraper"
	"stayscraper/storage"
	"stayscraper/vpn"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run one dispatch cycle and exit")
	enqueueURL = flag.String("enqueue", "", "Add a property URL to the queue and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting stayscraper...")
	log.Printf("Languages: %v (default %s)", cfg.Languages.Enabled, cfg.Languages.Default)

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	if err := pgStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

	if *enqueueURL != "" {
		if err := pgStore.EnqueueURL(ctx, *enqueueURL, 0); err != nil {
			log.Fatalf("Enqueue failed: %v", err)
		}
		log.Printf("Enqueued %s", *enqueueURL)
		return
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("Control database: %s", cfg.SQLitePath)

	uploader, err := storage.NewS3Uploader(ctx, &cfg.Images)
	if err != nil {
		log.Fatalf("Failed to set up S3: %v", err)
	}
	var pipelineUploader images.Uploader
	if uploader != nil {
		pipelineUploader = uploader
		log.Printf("S3 mirroring enabled: %s", cfg.Images.S3Bucket)
	}

	rotator := vpn.NewRotator(&cfg.VPN)
	if cfg.VPN.Enabled {
		log.Printf("VPN rotation enabled: every %d items, countries %v",
			cfg.VPN.RotationInterval, cfg.VPN.Countries)
	}

	pipeline := images.NewPipeline(&cfg.Images, pipelineUploader)

	newFetcher := func() scraper.Fetcher {
		chain := &scraper.Chain{
			Primary: scraper.NewHTTPFetcher(&cfg.Fetch, &cfg.Languages),
		}
		if cfg.Fetch.UseBrowser {
			chain.Fallback = scraper.NewBrowserFetcher(&cfg.Fetch, &cfg.Languages)
		}
		return chain
	}

	orchestrator := scraper.NewOrchestrator(cfg, pgStore, rotator, extract.New(), pipeline, newFetcher)
	sched := scheduler.New(&cfg.Scheduler, pgStore, orchestrator, sqliteStore, rotator)

	if *scrapeNow {
		log.Println("Running one dispatch cycle...")
		runOnce(ctx, cfg, pgStore, orchestrator)
		log.Println("Done.")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Recover whatever a previous crash left claimed.
	if n, err := pgStore.ResetStuck(ctx, 0); err != nil {
		log.Printf("Warning: could not reset stuck items: %v", err)
	} else if n > 0 {
		log.Printf("Reset %d stuck items from a previous run", n)
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

func runOnce(ctx context.Context, cfg *config.Config, store *storage.PostgresStore, orchestrator *scraper.Orchestrator) {
	items, err := store.ClaimPending(ctx, cfg.Scheduler.BatchSize)
	if err != nil {
		log.Fatalf("Claim failed: %v", err)
	}
	if len(items) == 0 {
		log.Println("Queue is empty.")
		return
	}
	for i := range items {
		if err := orchestrator.ProcessItem(ctx, &items[i]); err != nil {
			log.Printf("Item %d aborted: %v", items[i].ID, err)
		}
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
