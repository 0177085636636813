package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/schaermu/git-fetch-file/internal/config"
	"github.com/schaermu/git-fetch-file/internal/git"
	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/revision"
	"github.com/schaermu/git-fetch-file/internal/worktree"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	workTree  string

	errorColor = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "git-fetch-file",
	Short: "Track and fetch individual files from other Git repositories",
	Long: `git-fetch-file copies single files or glob-selected sets of files from external
Git repositories into the current work tree and remembers where each one came
from in a .git-remote-files manifest.

Files edited locally since they were fetched are never overwritten unless
--force is given.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "git-fetch-file %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <work tree>/.git-fetch-file.yaml, then $XDG_CONFIG_HOME/git-fetch-file/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&workTree, "work-tree", "C", "", "run as if started in this directory")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles what every command needs once the work tree is known
type app struct {
	root     string
	prefix   string
	cfg      *config.Config
	logger   *slog.Logger
	store    *manifest.Store
	git      git.Client
	resolver *revision.Resolver
	out      io.Writer
	errOut   io.Writer
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	logger := setupLogger()

	dir := workTree
	if dir == "" {
		dir = "."
	}
	root, err := worktree.TopLevel(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w (run inside a git work tree or pass -C)", err)
	}
	prefix, err := worktree.Prefix(ctx, dir)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(logger, root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	gitClient := newGitClient(cfg)
	return &app{
		root:     root,
		prefix:   prefix,
		cfg:      cfg,
		logger:   logger,
		store:    manifest.NewStore(cfg.ManifestPath()),
		git:      gitClient,
		resolver: revision.NewResolver(gitClient, logger),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}, nil
}

func newGitClient(cfg *config.Config) git.Client {
	if cfg.Fetch.Backend == config.BackendGoGit {
		return git.NewGoGitClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	}
	return git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	// Create handler based on format; stdout is reserved for command output
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger, root string) (*config.Config, error) {
	cfg, used, err := config.Discover(cfgFile, root)
	if err != nil {
		return nil, err
	}

	if used == "" {
		used = "(defaults)"
	}
	logger.Debug("configuration loaded",
		"path", used,
		"root", root,
		"manifest", cfg.ManifestPath(),
		"cache_dir", cfg.CacheDir(),
		"backend", cfg.Fetch.Backend,
		"auth", cfg.AuthMethod())

	return cfg, nil
}

// manifestTarget turns a target given on the command line into a directory
// relative to the work-tree root. Without a target, files added from a
// sub-directory land in that sub-directory.
func (a *app) manifestTarget(target string) (string, error) {
	if target == "" {
		return strings.TrimSuffix(a.prefix, "/"), nil
	}

	var rel string
	if filepath.IsAbs(target) {
		r, err := filepath.Rel(a.root, target)
		if err != nil {
			return "", fmt.Errorf("target %s is outside the work tree %s", target, a.root)
		}
		rel = filepath.ToSlash(r)
	} else {
		rel = path.Join(a.prefix, filepath.ToSlash(target))
	}

	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("target %s is outside the work tree %s", target, a.root)
	}
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

// migrate applies the schema migrations to entries. It reports whether any
// entry changed and returns the entries that could not be migrated.
func (a *app) migrate(ctx context.Context, entries []*manifest.Entry) (bool, map[*manifest.Entry]error) {
	changed := false
	failed := make(map[*manifest.Entry]error)
	for _, e := range entries {
		applied, err := manifest.Migrate(ctx, e, a.resolver)
		if len(applied) > 0 {
			changed = true
			a.logger.Info("migrated manifest entry", "entry", e.Path, "rules", applied)
		}
		if err != nil {
			a.logger.Warn("failed to migrate manifest entry", "entry", e.Path, "error", err)
			failed[e] = err
		}
	}
	return changed, failed
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *app) errorf(format string, args ...any) {
	_, _ = errorColor.Fprintf(a.errOut, "error: "+format+"\n", args...)
}

func (a *app) warnf(format string, args ...any) {
	_, _ = warnColor.Fprintf(a.errOut, "warning: "+format+"\n", args...)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
