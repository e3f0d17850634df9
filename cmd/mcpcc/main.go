package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/hylla/mcpcc/internal/adapters/report"
	"github.com/hylla/mcpcc/internal/adapters/source/agentfeed"
	"github.com/hylla/mcpcc/internal/adapters/source/github"
	"github.com/hylla/mcpcc/internal/adapters/source/manifest"
	"github.com/hylla/mcpcc/internal/adapters/storage/sqlite"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/config"
	"github.com/hylla/mcpcc/internal/platform"
	"github.com/spf13/cobra"
)

// version stores a package-level helper value.
var version = "dev"

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(ctx, root, fang.WithVersion(version)); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes the CLI with explicit args and writers.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// cli holds global flag state shared by every command.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool
}

// runtime is the opened configuration, logger, store, and service for one command.
type runtime struct {
	appName string
	cfg     config.Config
	logger  *runtimeLogger
	repo    *sqlite.Repository
	svc     *app.Service
}

// newRootCommand builds the cobra command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	c := &cli{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("MCPCC_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := "mcpcc"
	if envApp := strings.TrimSpace(os.Getenv("MCPCC_APP_NAME")); envApp != "" {
		appName = envApp
	}

	root := &cobra.Command{
		Use:           "mcpcc",
		Short:         "Reconcile projects from GitHub and agent feeds into a local store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("mcpcc {{.Version}}\n")

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "path to sqlite database")
	root.PersistentFlags().StringVar(&c.appName, "app", appName, "application name for config/data path resolution")
	root.PersistentFlags().BoolVar(&c.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	root.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "mute console logs; the dev log file still receives them")

	root.AddCommand(
		c.newSyncCommand(),
		c.newServeCommand(),
		c.newProjectsCommand(),
		c.newShowCommand(),
		c.newRunsCommand(),
		c.newSourcesCommand(),
		c.newExportCommand(),
		c.newPathsCommand(),
		c.newConfigCommand(),
	)
	return root
}

// resolvePaths resolves per-user paths for the configured app name.
func (c *cli) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: c.appName,
		DevMode: c.devMode,
	})
}

// loadConfig resolves config and db paths, dotenv files, and env overrides.
func (c *cli) loadConfig() (platform.Paths, string, config.Config, error) {
	paths, err := c.resolvePaths()
	if err != nil {
		return platform.Paths{}, "", config.Config{}, err
	}
	if err := config.LoadDotEnv(".env", paths.EnvPath); err != nil {
		return platform.Paths{}, "", config.Config{}, err
	}

	configPath := strings.TrimSpace(c.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(c.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv(config.EnvDBPath)); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return platform.Paths{}, "", config.Config{}, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if strings.TrimSpace(cfg.Logging.DevFile.Dir) == "" {
		cfg.Logging.DevFile.Dir = paths.LogDir
	}
	cfg.ApplyEnv(os.LookupEnv)
	return paths, configPath, cfg, nil
}

// open loads config, starts logging, opens the store, and wires the service.
func (c *cli) open(command string) (*runtime, error) {
	paths, configPath, cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newRuntimeLogger(c.stderr, c.appName, c.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!c.quiet)

	logger.Info("startup configuration resolved", "app", c.appName, "dev_mode", c.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	logger.Info("configuration loaded", "config_path", configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path, sqlite.WithLockTTL(cfg.LockTTL()))
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	sources := buildSources(cfg)
	svc := app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		Sources:      sources,
		Reporter:     report.Fanout{repo, report.NewLogReporter(logger)},
		FetchTimeout: cfg.FetchTimeout(),
		LockOwner:    c.appName + "-" + strconv.Itoa(os.Getpid()),
	})
	logger.Debug("application service initialized", "sources", len(sources), "fetch_timeout", cfg.FetchTimeout())

	return &runtime{
		appName: c.appName,
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		svc:     svc,
	}, nil
}

// Close releases the store and the dev log file.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	if err := r.repo.Close(); err != nil {
		r.logger.Warn("sqlite close failed", "db_path", r.cfg.Database.Path, "err", err)
	}
	if err := r.logger.Close(); err != nil {
		r.logger.Warn("close runtime log sink failed", "err", err)
	}
}

// buildSources wires every known source from config. Unconfigured sources stay registered but disabled.
func buildSources(cfg config.Config) map[string]app.Source {
	return map[string]app.Source{
		"github": github.New(github.Config{
			Token:               cfg.GitHub.Token,
			User:                cfg.GitHub.User,
			APIBaseURL:          cfg.GitHub.APIBaseURL,
			IncludeLanguages:    cfg.GitHub.IncludeLanguages,
			LanguageConcurrency: cfg.GitHub.LanguageConcurrency,
		}),
		"agents": agentfeed.New(agentfeed.Config{
			BaseURL: cfg.Agents.BaseURL,
			Token:   cfg.Agents.Token,
		}),
		"manifest": manifest.New(cfg.Manifest.Path),
	}
}

// parseBoolEnv parses one boolean environment variable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
