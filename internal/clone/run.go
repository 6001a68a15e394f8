package clone

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vbp1/mongoclone/internal/lock"
	"github.com/vbp1/mongoclone/internal/metrics"
	"github.com/vbp1/mongoclone/internal/pool"
	"github.com/vbp1/mongoclone/internal/progress"
	"github.com/vbp1/mongoclone/internal/repl"
	"github.com/vbp1/mongoclone/internal/source"
	"github.com/vbp1/mongoclone/internal/storage"
	"github.com/vbp1/mongoclone/internal/util/disk"
	"github.com/vbp1/mongoclone/internal/util/fs"
)

// Run executes one full initial-sync attempt against cfg.Source.
func Run(ctx context.Context, cfg *Config) error {
	fl := lock.New(cfg.LocalURI)
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another mongoclone run holds the lock for %s", cfg.LocalURI)
	}
	defer func() { _ = fl.Unlock() }()

	srcCfg := source.Config{
		Username:   cfg.Username,
		Password:   cfg.Password,
		AuthSource: cfg.AuthSource,
		BatchSize:  int32(cfg.BatchSize),
	}

	if !cfg.SkipSpaceCheck && cfg.DataPath != "" {
		if err := spacePreflight(ctx, cfg, srcCfg); err != nil {
			return err
		}
	}

	store, err := storage.Connect(ctx, cfg.LocalURI)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	conn := source.NewClient(srcCfg)
	defer func() { _ = conn.Close(context.Background()) }()
	membership := source.NewMembership(store.Client(), cfg.SelfAddr)

	shared := repl.NewSharedData()
	workers := pool.New(cfg.Workers)
	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 5 * time.Minute
	}
	cloner := repl.NewAllDatabaseCloner(shared, cfg.Source, conn, store, membership,
		workers, repl.DefaultRetryPolicy(maxElapsed))

	// A canceled context must cancel every nested unit too, not only the one
	// currently blocking the orchestrator.
	stopWatch := watchCancel(ctx, shared)
	defer stopWatch()

	collector := metrics.New(nil)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				slog.Warn("metrics endpoint stopped", "err", err)
			}
		}()
	}
	pollDone := make(chan struct{})
	go pollMetrics(collector, cloner, pollDone)

	display := progress.New(cloner, progressMode(cfg), time.Duration(cfg.ProgressInt)*time.Second)
	display.Start(ctx)

	start := time.Now()
	runErr := cloner.Run(ctx)

	display.Stop()
	close(pollDone)
	stats := cloner.Stats()
	collector.Observe(stats)

	if cfg.JSONSummary {
		fmt.Println(stats.String())
	}
	if runErr != nil {
		slog.Error("initial sync failed", "state", cloner.String(), "elapsed", time.Since(start))
		return runErr
	}
	if err := shared.Status(); err != nil {
		slog.Error("initial sync failed", "state", cloner.String(), "elapsed", time.Since(start))
		return err
	}
	slog.Info("initial sync completed",
		"databases", stats.DatabasesCloned, "elapsed", time.Since(start))
	return nil
}

// spacePreflight compares the source's reported data size against free space
// at the destination dbpath.
func spacePreflight(ctx context.Context, cfg *Config, srcCfg source.Config) error {
	if err := fs.MkdirP(cfg.DataPath); err != nil {
		return fmt.Errorf("space preflight: %w", err)
	}
	total, err := source.TotalSizeOnDisk(ctx, cfg.Source, srcCfg)
	if err != nil {
		return fmt.Errorf("space preflight: %w", err)
	}
	factor := cfg.SpaceFactor
	if factor <= 0 {
		factor = 1.2
	}
	required := uint64(float64(total) * factor)
	slog.Info("space preflight", "reported", total, "required", required, "path", cfg.DataPath)
	if err := disk.EnsureSpace(cfg.DataPath, required); err != nil {
		return fmt.Errorf("space preflight: %w", err)
	}
	return nil
}

// watchCancel records context cancellation into the shared sync state so all
// in-flight and future cloners abort cooperatively.
func watchCancel(ctx context.Context, shared *repl.SharedData) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shared.SetStatusIfOK(fmt.Errorf("initial sync canceled: %w", ctx.Err()))
		case <-done:
		}
	}()
	return func() { close(done) }
}

func pollMetrics(collector *metrics.Collector, cloner *repl.AllDatabaseCloner, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			collector.Observe(cloner.Stats())
			collector.SetSourceSize(cloner.SizeOnDisk())
		case <-done:
			return
		}
	}
}

func progressMode(cfg *Config) string {
	switch cfg.Progress {
	case "bar", "plain", "none":
		return cfg.Progress
	default: // auto
		if cfg.Verbose {
			return "bar"
		}
		return "none"
	}
}
