package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/mailspool/internal/config"
	"github.com/agentworkforce/mailspool/internal/mailbox"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("MAILSPOOL_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	switch os.Args[1] {
	case "send":
		runSend(cfg, os.Args[2:])
	case "inbox":
		runInbox(cfg, os.Args[2:])
	case "mark-read":
		runMarkRead(cfg, os.Args[2:])
	case "drain":
		runDrain(cfg)
	case "spool-status":
		runSpoolStatus(cfg)
	case "validate":
		runValidate(cfg, os.Args[2:])
	case "retention":
		runRetention(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: mailspool <command> [flags]

commands:
  send          deliver a message to an agent's mailbox
  inbox         list an agent's mailbox
  mark-read     mark mailbox messages as read
  drain         retry all pending spooled messages
  spool-status  show pending and failed spool counts
  validate      check a mailbox file against the schema
  retention     apply the retention policy to one mailbox`)
}

// newStore builds a foreground store: inline lock retries with the standard
// backoff schedule before anything is spooled.
func newStore(cfg config.Config) *mailbox.Store {
	return mailbox.NewStoreWithOptions(mailbox.StoreOptions{
		Root:        cfg.Root,
		SpoolDir:    cfg.SpoolDir,
		LockBackoff: mailbox.DefaultLockBackoff(),
		MaxRetries:  cfg.MaxRetries,
	})
}

func runSend(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	team := fs.String("team", "", "target team")
	agent := fs.String("agent", "", "target agent")
	from := fs.String("from", "", "sender identity")
	text := fs.String("text", "", "message body")
	summary := fs.String("summary", "", "optional short summary")
	_ = fs.Parse(args)
	if *team == "" || *agent == "" || *from == "" || *text == "" {
		log.Fatalf("send requires -team, -agent, -from and -text")
	}

	store := newStore(cfg)
	target := mailbox.Target{Team: *team, Agent: *agent}
	msg := mailbox.Message{
		From:      *from,
		Text:      *text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Summary:   *summary,
		MessageID: uuid.NewString(),
	}
	outcome, err := store.Append(target, msg)
	if err != nil {
		log.Fatalf("send to %s failed: %v", target, err)
	}
	switch outcome.Status {
	case mailbox.StatusDelivered:
		fmt.Printf("delivered to %s (message %s)\n", target, msg.MessageID)
	case mailbox.StatusMerged:
		fmt.Printf("delivered to %s (message %s), merged %d concurrent message(s)\n",
			target, msg.MessageID, outcome.MergedCount)
	case mailbox.StatusQueued:
		// Deferral must never be silent.
		fmt.Fprintf(os.Stderr,
			"NOT delivered yet: %s is busy, message spooled as %s; it will be retried by 'mailspool drain' or the daemon\n",
			target, outcome.SpoolRef)
	}
}

func runInbox(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	team := fs.String("team", "", "target team")
	agent := fs.String("agent", "", "target agent")
	unreadOnly := fs.Bool("unread", false, "show unread messages only")
	_ = fs.Parse(args)
	if *team == "" || *agent == "" {
		log.Fatalf("inbox requires -team and -agent")
	}

	store := newStore(cfg)
	target := mailbox.Target{Team: *team, Agent: *agent}
	var (
		msgs []mailbox.Message
		err  error
	)
	if *unreadOnly {
		msgs, err = store.Unread(target)
	} else {
		msgs, err = store.Read(target)
	}
	if err != nil {
		log.Fatalf("read %s failed: %v", target, err)
	}
	if len(msgs) == 0 {
		fmt.Printf("%s: no messages\n", target)
		return
	}
	for _, m := range msgs {
		marker := " "
		if !m.Read {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, m.Timestamp, m.From, m.Text)
	}
}

func runMarkRead(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("mark-read", flag.ExitOnError)
	team := fs.String("team", "", "target team")
	agent := fs.String("agent", "", "target agent")
	_ = fs.Parse(args)
	if *team == "" || *agent == "" {
		log.Fatalf("mark-read requires -team and -agent; message IDs as arguments (none marks all)")
	}

	store := newStore(cfg)
	target := mailbox.Target{Team: *team, Agent: *agent}
	_, err := store.MarkRead(target, fs.Args()...)
	if errors.Is(err, mailbox.ErrLockBusy) {
		log.Fatalf("%s is busy, nothing was modified; try again", target)
	}
	if err != nil {
		log.Fatalf("mark-read on %s failed: %v", target, err)
	}
	fmt.Printf("marked read on %s\n", target)
}

func runDrain(cfg config.Config) {
	store := newStore(cfg)
	report, err := store.Drain()
	if err != nil {
		log.Fatalf("drain failed: %v", err)
	}
	fmt.Printf("delivered=%d still-pending=%d moved-to-failed=%d\n",
		report.Delivered, report.StillPending, report.MovedToFailed)
	if report.MovedToFailed > 0 {
		fmt.Fprintf(os.Stderr, "%d message(s) exhausted their retries and will NOT be retried automatically; inspect the failed spool directory\n",
			report.MovedToFailed)
	}
}

func runSpoolStatus(cfg config.Config) {
	store := newStore(cfg)
	pending, failed, err := store.SpoolStatus()
	if err != nil {
		log.Fatalf("spool status failed: %v", err)
	}
	fmt.Printf("pending=%d failed=%d\n", pending, failed)
	if failed > 0 {
		entries, err := store.FailedEntries()
		if err != nil {
			log.Fatalf("list failed entries: %v", err)
		}
		for _, e := range entries {
			fmt.Printf("  failed: %s@%s after %d attempts (last %s)\n",
				e.TargetAgent, e.TargetTeam, e.RetryCount, e.LastAttempt)
		}
	}
}

func runValidate(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	team := fs.String("team", "", "target team")
	agent := fs.String("agent", "", "target agent")
	file := fs.String("file", "", "validate an explicit mailbox file instead")
	_ = fs.Parse(args)

	path := *file
	if path == "" {
		if *team == "" || *agent == "" {
			log.Fatalf("validate requires -team and -agent, or -file")
		}
		store := newStore(cfg)
		path = store.MailboxPath(mailbox.Target{Team: *team, Agent: *agent})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if err := mailbox.ValidateMailbox(data); err != nil {
		log.Fatalf("%s is not a valid mailbox: %v", path, err)
	}
	fmt.Printf("%s is valid\n", path)
}

func runRetention(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("retention", flag.ExitOnError)
	team := fs.String("team", "", "target team")
	agent := fs.String("agent", "", "target agent")
	maxAge := fs.Duration("max-age", cfg.Retention.MaxAge.Std(), "expire messages older than this")
	maxCount := fs.Int("max-count", cfg.Retention.MaxCount, "keep at most this many messages")
	strategy := fs.String("strategy", defaultStrategy(cfg), "delete or archive")
	dryRun := fs.Bool("dry-run", false, "report without modifying the mailbox")
	_ = fs.Parse(args)
	if *team == "" || *agent == "" {
		log.Fatalf("retention requires -team and -agent")
	}

	store := newStore(cfg)
	target := mailbox.Target{Team: *team, Agent: *agent}
	result, err := store.ApplyRetention(target, mailbox.RetentionPolicy{
		MaxAge:   *maxAge,
		MaxCount: *maxCount,
		Strategy: mailbox.RetentionStrategy(*strategy),
	}, *dryRun)
	if errors.Is(err, mailbox.ErrLockBusy) {
		log.Fatalf("%s is busy, nothing was modified; try again", target)
	}
	if err != nil {
		log.Fatalf("retention on %s failed: %v", target, err)
	}
	mode := ""
	if *dryRun {
		mode = " (dry run)"
	}
	fmt.Printf("%s: kept=%d removed=%d archived=%d%s\n",
		target, result.Kept, result.Removed, result.Archived, mode)
}

func defaultStrategy(cfg config.Config) string {
	if cfg.Retention.Strategy != "" {
		return cfg.Retention.Strategy
	}
	return string(mailbox.StrategyDelete)
}
