package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/executor"
	"github.com/benchsweep/benchsweep/internal/pipeline"
	"github.com/benchsweep/benchsweep/internal/resolver"
	"github.com/benchsweep/benchsweep/internal/store"
	"github.com/benchsweep/benchsweep/internal/vcs"
)

var (
	flagMax       int
	flagSkipFetch bool
	flagVerbose   bool
)

func main() {
	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "benchsweep",
		Short:         "Incremental benchmark matrix runner",
		Long:          "benchsweep expands a framework/application test matrix into work items and runs whatever has not been benchmarked yet, reusing builds whose inputs are unchanged.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := &cobra.Command{
		Use:   "run <bench.yaml>",
		Short: "Resolve outstanding work and run it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(cmd.Context(), cmd, args[0])
		},
	}
	run.Flags().IntVar(&flagMax, "max", 0, "process at most this many work items (0 = config value)")
	run.Flags().BoolVar(&flagSkipFetch, "skip-fetch", false, "do not fetch repositories before resolving")
	run.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "echo build and benchmark output to the console")

	plan := &cobra.Command{
		Use:   "plan <bench.yaml>",
		Short: "Print outstanding work items without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return planMatrix(cmd.Context(), cmd, args[0])
		},
	}
	plan.Flags().BoolVar(&flagSkipFetch, "skip-fetch", false, "do not fetch repositories before resolving")

	root.AddCommand(run, plan)
	return root
}

// setup loads the config, opens the store, and prepares both checkouts.
// The framework and application repositories are fetched in parallel.
func setup(ctx context.Context, cmd *cobra.Command, configPath string) (config.Config, *store.Store, *vcs.Repo, *vcs.Repo, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, nil, err
	}
	if cmd.Flags().Changed("skip-fetch") {
		cfg.SkipFetch = flagSkipFetch
	}
	configureLogging(cfg.LogLevel)

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		return cfg, nil, nil, nil, err
	}

	var fwRepo, appRepo *vcs.Repo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fwRepo, err = vcs.EnsureClone(gctx, cfg.Framework.Remote, cfg.FrameworkDir(), cfg.SkipFetch)
		return err
	})
	g.Go(func() error {
		var err error
		appRepo, err = vcs.EnsureClone(gctx, cfg.Application.Remote, cfg.ApplicationDir(), cfg.SkipFetch)
		return err
	})
	if err := g.Wait(); err != nil {
		return cfg, nil, nil, nil, err
	}

	return cfg, st, fwRepo, appRepo, nil
}

func runMatrix(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, st, fwRepo, appRepo, err := setup(ctx, cmd, configPath)
	if err != nil {
		return err
	}

	res := &resolver.Resolver{
		Framework:   fwRepo,
		Application: appRepo,
		Ledger:      st,
		InstanceID:  cfg.InstanceID,
	}
	items, err := res.Resolve(cfg.Matrix)
	if err != nil {
		return err
	}

	maxItems := cfg.MaxRuns
	if cmd.Flags().Changed("max") {
		maxItems = flagMax
	}

	p := &pipeline.Pipeline{
		Config:      cfg,
		Store:       st,
		Framework:   fwRepo,
		Application: appRepo,
		Runner:      &executor.Runner{Verbose: flagVerbose},
	}

	summary, err := pipeline.Run(ctx, p, items, maxItems)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

func planMatrix(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, st, fwRepo, appRepo, err := setup(ctx, cmd, configPath)
	if err != nil {
		return err
	}

	res := &resolver.Resolver{
		Framework:   fwRepo,
		Application: appRepo,
		Ledger:      st,
		InstanceID:  cfg.InstanceID,
	}
	items, err := res.Resolve(cfg.Matrix)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("Nothing outstanding: every matrix entry has a recorded run.")
		return nil
	}
	fmt.Printf("Outstanding work items: %d\n", len(items))
	for _, item := range items {
		fmt.Printf("  %s  framework=%s  app=%s@%s\n",
			item.Test, short(item.FrameworkCommit), item.Application, short(item.ApplicationCommit))
	}
	return nil
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("\nPlanned work items: %d\n", s.Planned)
	fmt.Printf("Executed: %d\n", s.Executed)
	fmt.Printf("Deferred: %d\n", s.Deferred)
	fmt.Printf("Framework builds: %d (%d reused)\n", s.FrameworkBuilt, s.FrameworkReused)
	fmt.Printf("Application builds: %d (%d reused)\n", s.ApplicationBuilt, s.ApplicationReused)
}

func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
