package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hylla/mcpcc/internal/adapters/server"
	"github.com/hylla/mcpcc/internal/adapters/server/common"
	"github.com/hylla/mcpcc/internal/adapters/source/manifest"
	"github.com/hylla/mcpcc/internal/app"
	"github.com/hylla/mcpcc/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newSyncCommand builds `mcpcc sync [source|all]`.
func (c *cli) newSyncCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync [source|all]",
		Short: "Fetch one source (or every enabled source) and reconcile it into the local store",
		Args:  cobra.MaximumNArgs(1),
		Example: `  mcpcc sync github
  mcpcc sync all --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open("sync")
			if err != nil {
				return err
			}
			defer rt.Close()

			target := "all"
			if len(args) == 1 {
				target = strings.ToLower(strings.TrimSpace(args[0]))
			}
			rt.logger.Info("command flow start", "command", "sync", "source", target)

			var (
				runs   []domain.SyncRun
				runErr error
			)
			if target == "all" {
				runs, runErr = rt.svc.SyncAll(cmd.Context(), rt.cfg.SyncSources())
			} else {
				run, err := rt.svc.Sync(cmd.Context(), target)
				if !run.FinishedAt.IsZero() {
					runs = append(runs, run)
				}
				runErr = err
			}

			if asJSON {
				if err := writeJSON(c.stdout, map[string]any{"runs": runs}); err != nil {
					return err
				}
			} else {
				renderRuns(c.stdout, runs)
			}
			if runErr != nil {
				rt.logger.Error("command flow failed", "command", "sync", "source", target, "err", runErr)
				return fmt.Errorf("sync %s: %w", target, runErr)
			}
			rt.logger.Info("command flow complete", "command", "sync", "source", target, "runs", len(runs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print run results as JSON")
	return cmd
}

// newServeCommand builds `mcpcc serve`.
func (c *cli) newServeCommand() *cobra.Command {
	var (
		bind        string
		syncOnStart bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP tools, running scheduled syncs when configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open("serve")
			if err != nil {
				return err
			}
			defer rt.Close()

			serverCfg := server.Config{
				HTTPBind:      rt.cfg.Server.HTTPBind,
				APIEndpoint:   rt.cfg.Server.APIEndpoint,
				MCPEndpoint:   rt.cfg.Server.MCPEndpoint,
				ServerName:    rt.appName,
				ServerVersion: version,
			}
			if strings.TrimSpace(bind) != "" {
				serverCfg.HTTPBind = bind
			}
			deps := server.Dependencies{
				Service: common.NewAppServiceAdapter(rt.svc),
				Ready:   rt.repo.Ping,
			}

			rt.logger.Info("command flow start", "command", "serve", "bind", serverCfg.HTTPBind, "sync_interval", rt.cfg.SyncInterval())
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.Run(ctx, serverCfg, deps)
			})
			g.Go(func() error {
				return runScheduler(ctx, rt.svc, rt.cfg.SyncSources(), rt.cfg.SyncInterval(), syncOnStart, rt.logger)
			})
			if err := g.Wait(); err != nil {
				rt.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			rt.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override server.http_bind")
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "run one sync of the scheduled sources before the first tick")
	return cmd
}

// scheduleLogger is the logging surface used by the sync scheduler.
type scheduleLogger interface {
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// runScheduler runs SyncAll on every tick until ctx ends. A zero interval disables it.
// Overlapping runs are skipped, never queued.
func runScheduler(ctx context.Context, svc *app.Service, sources []string, interval time.Duration, syncOnStart bool, logger scheduleLogger) error {
	tick := func() {
		runs, err := svc.SyncAll(ctx, sources)
		switch {
		case errors.Is(err, app.ErrRunInProgress):
			logger.Info("scheduled sync skipped", "reason", "run in progress")
		case err != nil:
			logger.Warn("scheduled sync finished with errors", "runs", len(runs), "err", err)
		default:
			logger.Info("scheduled sync complete", "runs", len(runs))
		}
	}
	if syncOnStart {
		tick()
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// newProjectsCommand builds `mcpcc projects`.
func (c *cli) newProjectsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List locally stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open("projects")
			if err != nil {
				return err
			}
			defer rt.Close()

			projects, err := rt.svc.ListProjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if asJSON {
				return writeJSON(c.stdout, map[string]any{"projects": projects})
			}
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				synced := "never"
				if p.LastSyncedAt != nil {
					synced = p.LastSyncedAt.Format(time.RFC3339)
				}
				rows = append(rows, []string{p.ID, p.Name, p.CanonicalURL, strings.Join(p.Tags, ", "), synced})
			}
			renderTable(c.stdout, []string{"ID", "Name", "URL", "Tags", "Last Synced"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print projects as JSON")
	return cmd
}

// newRunsCommand builds `mcpcc runs`.
func (c *cli) newRunsCommand() *cobra.Command {
	var (
		source string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			rt, err := c.open("runs")
			if err != nil {
				return err
			}
			defer rt.Close()

			runs, err := rt.svc.ListSyncRuns(cmd.Context(), source, limit)
			if err != nil {
				return fmt.Errorf("list sync runs: %w", err)
			}
			if asJSON {
				return writeJSON(c.stdout, map[string]any{"runs": runs})
			}
			renderRuns(c.stdout, runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only show runs for one source")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print runs as JSON")
	return cmd
}

// newSourcesCommand builds `mcpcc sources`.
func (c *cli) newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and whether they can run",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := c.open("sources")
			if err != nil {
				return err
			}
			defer rt.Close()

			rows := [][]string{}
			for _, info := range rt.svc.ListSources() {
				rows = append(rows, []string{
					info.Name,
					info.Kind,
					strconv.FormatBool(info.Enabled),
					strconv.FormatBool(info.HasCredentials),
					info.Endpoint,
				})
			}
			renderTable(c.stdout, []string{"Name", "Kind", "Enabled", "Credentials", "Endpoint"}, rows)
			return nil
		},
	}
}

// newExportCommand builds `mcpcc export`, which writes projects as a manifest file.
func (c *cli) newExportCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export projects with a canonical URL as a manifest YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open("export")
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.logger.Info("command flow start", "command", "export")
			projects, err := rt.svc.ListProjects(cmd.Context())
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			content, err := manifest.Encode(projectsToRecords(projects))
			if err != nil {
				return err
			}
			if strings.TrimSpace(out) == "" || out == "-" {
				_, err = c.stdout.Write(content)
				return err
			}
			if err := os.WriteFile(out, content, 0o644); err != nil {
				rt.logger.Error("command flow failed", "command", "export", "err", err)
				return fmt.Errorf("write export file: %w", err)
			}
			rt.logger.Info("command flow complete", "command", "export", "path", out, "projects", len(projects))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

// projectsToRecords maps URL-bearing projects back into manifest records.
func projectsToRecords(projects []domain.Project) []domain.ExternalRecord {
	records := make([]domain.ExternalRecord, 0, len(projects))
	for _, p := range projects {
		if p.CanonicalURL == "" {
			continue
		}
		externalID := p.ExternalID
		if externalID == "" {
			externalID = p.ID
		}
		records = append(records, domain.ExternalRecord{
			ExternalID:   externalID,
			CanonicalURL: p.CanonicalURL,
			DisplayName:  p.Name,
			Tags:         p.Tags,
		})
	}
	return records
}

// newPathsCommand builds `mcpcc paths`.
func (c *cli) newPathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and database paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := c.resolvePaths()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.stdout, "app: %s\n", c.appName)
			_, _ = fmt.Fprintf(c.stdout, "dev_mode: %t\n", c.devMode)
			_, _ = fmt.Fprintf(c.stdout, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(c.stdout, "env: %s\n", paths.EnvPath)
			_, _ = fmt.Fprintf(c.stdout, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(c.stdout, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(c.stdout, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}

// newConfigCommand builds `mcpcc config`, which prints the effective config with secrets masked.
func (c *cli) newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, _, cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			content, err := cfg.Redacted().Marshal()
			if err != nil {
				return err
			}
			_, err = c.stdout.Write(content)
			return err
		},
	}
}

// renderRuns prints one table row per run.
func renderRuns(w io.Writer, runs []domain.SyncRun) {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Source,
			run.StartedAt.Format(time.RFC3339),
			strconv.Itoa(run.Result.Total()),
			strconv.Itoa(run.Result.Created),
			strconv.Itoa(run.Result.Updated),
			strconv.Itoa(run.Result.Skipped),
			strconv.Itoa(len(run.Result.Errors)),
			run.Duration().Round(time.Millisecond).String(),
		})
	}
	renderTable(w, []string{"Run", "Source", "Started", "Records", "Created", "Updated", "Skipped", "Errors", "Duration"}, rows)
	for _, run := range runs {
		for _, e := range run.Result.Errors {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", run.Source, e.String())
		}
	}
}

// renderTable prints a bordered lipgloss table.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	_, _ = fmt.Fprintln(w, t.Render())
}

// writeJSON prints one indented JSON document.
func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}
