package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentworkforce/mailspool/internal/config"
	"github.com/agentworkforce/mailspool/internal/mailbox"
	"github.com/agentworkforce/mailspool/internal/watch"
)

func main() {
	configPath := flag.String("config", os.Getenv("MAILSPOOL_CONFIG"), "path to config file")
	interval := flag.Duration("interval", 0, "override the drain interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	drainInterval := cfg.DrainInterval.Std()
	if *interval > 0 {
		drainInterval = *interval
	}

	// The daemon never waits on a contended mailbox: an empty backoff
	// schedule spools immediately and the drain loop provides progress.
	store := mailbox.NewStoreWithOptions(mailbox.StoreOptions{
		Root:       cfg.Root,
		SpoolDir:   cfg.SpoolDir,
		MaxRetries: cfg.MaxRetries,
	})

	watcher, err := watch.New(store.Drain, watch.Options{
		PendingDir: filepath.Join(cfg.SpoolDir, "pending"),
		Interval:   drainInterval,
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize spool watcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RetentionInterval.Std() > 0 {
		go retentionLoop(ctx, store, cfg)
	}

	log.Printf("mailspoold draining %s every %s", cfg.SpoolDir, drainInterval)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("spool watcher failed: %v", err)
	}
	log.Printf("mailspoold stopped")
}

// retentionLoop periodically sweeps every mailbox against the configured
// retention policy. Busy mailboxes are skipped and picked up next sweep.
func retentionLoop(ctx context.Context, store *mailbox.Store, cfg config.Config) {
	policy := mailbox.RetentionPolicy{
		MaxAge:   cfg.Retention.MaxAge.Std(),
		MaxCount: cfg.Retention.MaxCount,
		Strategy: mailbox.RetentionStrategy(cfg.Retention.Strategy),
	}
	if policy.Strategy == "" {
		policy.Strategy = mailbox.StrategyDelete
	}
	ticker := time.NewTicker(cfg.RetentionInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepRetention(store, policy)
		}
	}
}

func sweepRetention(store *mailbox.Store, policy mailbox.RetentionPolicy) {
	targets, err := store.Targets()
	if err != nil {
		log.Printf("retention sweep failed to list mailboxes: %v", err)
		return
	}
	for _, target := range targets {
		result, err := store.ApplyRetention(target, policy, false)
		if errors.Is(err, mailbox.ErrLockBusy) {
			continue
		}
		if err != nil {
			log.Printf("retention on %s failed: %v", target, err)
			continue
		}
		if result.Removed > 0 {
			log.Printf("retention on %s: kept=%d removed=%d archived=%d",
				target, result.Kept, result.Removed, result.Archived)
		}
	}
}
