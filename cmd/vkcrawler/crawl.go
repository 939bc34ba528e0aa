package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"vkcrawler/internal/scheduler"
	"vkcrawler/pkg/auth"
	"vkcrawler/pkg/checkpoint"
	"vkcrawler/pkg/config"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/pipeline"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/retry"
	"vkcrawler/pkg/session"
	"vkcrawler/pkg/storage"
	"vkcrawler/pkg/ui"
	"vkcrawler/pkg/vk"
)

// progressInterval is how often a running crawl logs its counters
const progressInterval = 30 * time.Second

var (
	maxPosts      int
	maxComments   int
	dbPath        string
	fastMode      bool
	workers       int
	poolSize      int
	maxRetries    int
	collectFromDB bool
	resumeCrawl   bool
	accountNames  []string
	logFile       string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [groups...]",
	Short: "Crawl community walls, comments and commenter profiles",
	Long: `Crawl one or more communities. Groups are wall slugs as they appear in
m.vk.com URLs, for example "club1" or "durov". Groups can also be set in the
configuration file (crawl.groups) or in VKCRAWLER_GROUPS.

Every record is upserted into the SQLite database as soon as it is fetched,
so an interrupted crawl loses nothing it already reported. With --resume the
wall listings continue from their saved checkpoints.`,
	Example: `  # Crawl two communities with the default budgets
  vkcrawler crawl club1 durov

  # Crawl fast with more posts and fewer comments per post
  vkcrawler crawl club1 --fast --max-posts 500 --max-comments 10

  # Continue an interrupted crawl
  vkcrawler crawl club1 --resume

  # Use stored logged-in accounts
  vkcrawler crawl club1 --account main --account spare

  # Only report what the database already holds
  vkcrawler crawl --collect-from-db`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	f := crawlCmd.Flags()
	f.IntVar(&maxPosts, "max-posts", 0, "posts to collect per group")
	f.IntVar(&maxComments, "max-comments", 0, "comments to collect per post (0 for none)")
	f.StringVar(&dbPath, "db", "", "SQLite database path")
	f.BoolVar(&fastMode, "fast", false, "lower pacing floor and more workers")
	f.IntVarP(&workers, "workers", "w", 0, "concurrent workers")
	f.IntVar(&poolSize, "pool-size", 0, "number of sessions")
	f.IntVar(&maxRetries, "max-retries", 0, "retries per task after the first attempt")
	f.BoolVar(&collectFromDB, "collect-from-db", false, "skip crawling and read the database")
	f.BoolVar(&resumeCrawl, "resume", false, "resume wall listings from checkpoints")
	f.StringSliceVarP(&accountNames, "account", "a", nil, "stored account to use, repeatable (default: all stored accounts)")
	f.StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
}

// crawlFlags returns the flags the user actually set, keyed the way
// config.MergeCommandLineFlags expects
func crawlFlags(cmd *cobra.Command, args []string) map[string]interface{} {
	flags := make(map[string]interface{})
	if len(args) > 0 {
		flags["groups"] = args
	}

	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("max-posts") {
		flags["max-posts"] = maxPosts
	}
	if changed("max-comments") {
		flags["max-comments"] = maxComments
	}
	if changed("db") {
		flags["db"] = dbPath
	}
	if changed("fast") {
		flags["fast"] = fastMode
	}
	if changed("workers") {
		flags["workers"] = workers
	}
	if changed("pool-size") {
		flags["pool-size"] = poolSize
	}
	if changed("max-retries") {
		flags["max-retries"] = maxRetries
	}
	if changed("collect-from-db") {
		flags["collect-from-db"] = collectFromDB
	}
	if changed("resume") {
		flags["resume"] = resumeCrawl
	}
	if changed("account") {
		flags["accounts"] = accountNames
	}
	if changed("log-file") {
		flags["log-file"] = logFile
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, crawlFlags(cmd, args))
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("vkcrawler starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Crawl.DBPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Crawl.CollectFromDB {
		return collect(ctx, store, log)
	}

	if len(cfg.Crawl.Groups) == 0 {
		return errors.New("no groups to crawl: pass them as arguments or set crawl.groups")
	}
	ui.PrintBanner()

	accounts := loadAccounts(cfg.Session.Accounts, log)

	limiter := ratelimit.New(ratelimit.ConfigFrom(cfg), log)
	factory, err := session.NewFactory(cfg.Session.BaseURL, cfg.RequestTimeout(), limiter, log,
		session.WithAccounts(accounts))
	if err != nil {
		return err
	}
	pool, err := session.NewPool(session.PoolConfig{
		Size:                   cfg.Session.PoolSize,
		AcquireTimeout:         cfg.Session.AcquireTimeout,
		MaxConsecutiveFailures: cfg.Session.MaxConsecutiveFailures,
		MaxReplacements:        cfg.Session.MaxSessionReplacements,
	}, factory, limiter, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	var checkpoints *checkpoint.Manager
	if cfg.Checkpoint.Enabled {
		checkpoints, err = checkpoint.NewManager(cfg.Checkpoint.Directory, log)
		if err != nil {
			return err
		}
	} else if cfg.Crawl.Resume {
		ui.PrintWarning("Checkpoints are disabled, --resume has no effect")
	}

	orch := pipeline.New(pipeline.Config{
		Scheduler: scheduler.Config{
			Workers:    cfg.WorkerCount(),
			MaxRetries: cfg.Retry.MaxRetries,
			Backoff:    retry.NewKindBackoff(cfg.Retry),
		},
		Resume: cfg.Crawl.Resume,
	}, pipeline.Deps{
		Pool:        pool,
		Fetcher:     vk.NewClient(log),
		Sink:        store,
		Checkpoints: checkpoints,
	}, log)

	targets := make([]pipeline.Target, 0, len(cfg.Crawl.Groups))
	for _, g := range cfg.Crawl.Groups {
		targets = append(targets, pipeline.Target{
			Group:              g,
			MaxPosts:           cfg.Crawl.MaxPosts,
			MaxCommentsPerPost: cfg.Crawl.MaxCommentsPerPost,
		})
	}

	ui.PrintInfo("Groups", fmt.Sprint(cfg.Crawl.Groups))
	ui.PrintInfo("Database", store.Path())

	stopProgress := logProgress(ctx, log, orch, pool, progressInterval)
	snap, err := orch.Run(ctx, targets...)
	stopProgress()

	if !quiet {
		ui.PrintSummary(os.Stdout, snap)
	}
	switch {
	case errors.Is(err, context.Canceled):
		ui.PrintWarning("Crawl interrupted, rerun with --resume to continue")
		return err
	case err != nil:
		return err
	}
	ui.PrintSuccess("Crawl finished")
	return nil
}

// loadAccounts resolves the logged-in accounts for the session factory.
// Credential problems fall back to anonymous sessions unless accounts were
// named explicitly.
func loadAccounts(names []string, log logger.Logger) []*auth.Account {
	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential stores unavailable, using anonymous sessions")
		return nil
	}
	accounts, err := manager.Select(names)
	if err != nil {
		log.WithError(err).Warn("Failed to load accounts, using anonymous sessions")
		return nil
	}
	if len(accounts) == 0 {
		log.Info("No stored accounts, using anonymous sessions")
		return nil
	}
	list := make([]string, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, a.Name)
	}
	log.InfoWithFields("Using accounts", map[string]interface{}{
		"accounts": list,
	})
	return accounts
}

// logProgress logs the live counters every interval until the returned
// stop function is called
func logProgress(ctx context.Context, log logger.Logger, orch *pipeline.Orchestrator, pool *session.Pool, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fields := orch.Progress().Fields()
				ps := pool.Stats()
				fields["sessions"] = ps.Size
				fields["sessions_idle"] = ps.Idle
				fields["sessions_replaced"] = ps.Replaced
				log.InfoWithFields("Crawl progress", fields)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// inventoryCapture keeps the inventory the feature stage read
type inventoryCapture struct {
	store *storage.Store
	inv   *storage.Inventory
}

func (c *inventoryCapture) ReadPersisted(ctx context.Context) (*storage.Inventory, error) {
	inv, err := c.store.ReadPersisted(ctx)
	c.inv = inv
	return inv, err
}

func collect(ctx context.Context, store *storage.Store, log logger.Logger) error {
	capture := &inventoryCapture{store: store}
	orch := pipeline.New(pipeline.Config{CollectFromDB: true}, pipeline.Deps{Features: capture}, log)
	if _, err := orch.Run(ctx); err != nil {
		return err
	}
	if !quiet {
		ui.PrintInventory(os.Stdout, store.Path(), capture.inv)
	}
	return nil
}
