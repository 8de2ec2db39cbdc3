package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/linsyking/git-visualizer/internal/config"
	"github.com/linsyking/git-visualizer/internal/git"
	"github.com/linsyking/git-visualizer/internal/graph"
	"github.com/linsyking/git-visualizer/internal/logging"
	"github.com/linsyking/git-visualizer/internal/server"
	"github.com/linsyking/git-visualizer/internal/watch"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:   "gitviz [repository]",
		Short: "Serve a live view of a repository's object graph",
		Long: `Watch a repository's metadata directory and stream its commits,
branches and HEAD to connected viewers as the repository changes.

The repository defaults to the current directory; either a worktree root or
its .git directory may be given.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, &flags)
			if len(args) == 1 {
				cfg.GitDir = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&flags.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&flags.StaticDir, "static", "", "directory of viewer files served at /")
	f.DurationVar(&flags.Quiescence, "quiescence", 0, "quiet period before changes are applied")
	f.DurationVar(&flags.MaxDelay, "max-delay", 0, "longest time activity may postpone applying changes (0 disables)")
	f.StringSliceVar(&flags.IgnorePatterns, "ignore", nil, "object shard entry patterns to ignore")
	f.StringSliceVar(&flags.RefIgnorePatterns, "ref-ignore", nil, "refs/heads entry patterns to ignore")
	f.StringVar(&flags.LogFile, "log-file", "", "also write logs to this rotating file")
	f.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	return cmd
}

// applyFlags copies the flags the user set over cfg.
func applyFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = flags.Addr
	}
	if changed("static") {
		cfg.StaticDir = flags.StaticDir
	}
	if changed("quiescence") {
		cfg.Quiescence = flags.Quiescence
	}
	if changed("max-delay") {
		cfg.MaxDelay = flags.MaxDelay
	}
	if changed("ignore") {
		cfg.IgnorePatterns = flags.IgnorePatterns
	}
	if changed("ref-ignore") {
		cfg.RefIgnorePatterns = flags.RefIgnorePatterns
	}
	if changed("log-file") {
		cfg.LogFile = flags.LogFile
	}
	if changed("debug") {
		cfg.Debug = flags.Debug
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{
		Debug:      cfg.Debug,
		File:       cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	store := graph.NewStore()
	hub := server.NewHub(logger.With("component", "hub"))
	dotGit := osfs.New(cfg.GitDir)

	engine := watch.NewEngine(watch.Options{
		GitDir:            cfg.GitDir,
		FS:                dotGit,
		Store:             store,
		Explorer:          git.NewExplorer(),
		Resolver:          git.NewHeadResolver(dotGit),
		Sink:              hub,
		IgnorePatterns:    cfg.IgnorePatterns,
		RefIgnorePatterns: cfg.RefIgnorePatterns,
		Logger:            logger.With("component", "engine"),
	})
	dispatcher := watch.NewDispatcher(engine, logger.With("component", "dispatcher"))
	coalescer := watch.NewCoalescer(cfg.Quiescence, cfg.MaxDelay, func(b watch.Batch) {
		dispatcher.Run(ctx, b)
	})

	// Watches are registered before priming; events queue until Run.
	watcher, err := watch.NewWatcher(cfg.GitDir, coalescer, logger.With("component", "watcher"))
	if err != nil {
		return err
	}
	if err := engine.Prime(ctx); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewServer(store, hub, cfg.StaticDir, logger.With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Addr, "gitDir", cfg.GitDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
