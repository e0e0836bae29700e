package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/guide-engine/internal/config"
	gerrors "github.com/p-blackswan/guide-engine/internal/errors"
	"github.com/p-blackswan/guide-engine/internal/registry"
)

type inspectOptions struct {
	asJSON  bool
	actions int
}

func inspectCmd() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "inspect [project]",
		Short: "Show persisted project progress",
		Long: `Show the persisted progress of every project, or the full record of one
project together with its derived rates.

Example:
  guide inspect
  guide inspect demo --json
  guide inspect demo --actions 20   # sqlite backend only`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			return runInspect(cmd.Context(), cfg, project, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().IntVar(&opts.actions, "actions", 0, "Also print the last N audit trail entries (sqlite backend)")

	return cmd
}

// loadRegistry opens the configured backend and restores a registry from it.
func loadRegistry(ctx context.Context, cfg *config.Config) (*registry.Registry, *deps, error) {
	d, err := openDeps(cfg, newLogger(cfg, os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	reg := d.newRegistry(nil, nil)
	if _, err := reg.Restore(ctx); err != nil {
		_ = d.Close()
		return nil, nil, err
	}
	return reg, d, nil
}

func runInspect(ctx context.Context, cfg *config.Config, project string, opts inspectOptions, out io.Writer) error {
	reg, d, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if project == "" {
		return printProjects(reg, opts.asJSON, out)
	}

	rec, ok := reg.Get(project)
	if !ok {
		return fmt.Errorf("%w: %s", gerrors.ErrNotFound, project)
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"project":  rec.Snapshot(),
			"analysis": rec.Analyze(),
		}); err != nil {
			return err
		}
	} else {
		snap := rec.Snapshot()
		a := rec.Analyze()
		fmt.Fprintf(out, "Project:          %s\n", snap.Name)
		fmt.Fprintf(out, "Stage:            %s\n", snap.CurrentStage)
		fmt.Fprintf(out, "Stages completed: %v\n", snap.StagesCompleted)
		fmt.Fprintf(out, "Started:          %s\n", snap.Metrics.StartTime.Format(time.RFC3339))
		fmt.Fprintf(out, "Actions:          %d\n", snap.Metrics.TotalActions)
		fmt.Fprintf(out, "Errors:           %d (rate %.2f)\n", snap.Metrics.ErrorsEncountered, a.ErrorRate)
		fmt.Fprintf(out, "Tests written:    %d (coverage %.2f)\n", snap.Metrics.TestsWritten, a.TestCoverage)
		fmt.Fprintf(out, "Commits:          %d (frequency %.2f)\n", snap.Metrics.CommitsMade, a.CommitFrequency)
		if len(snap.ChallengesFaced) > 0 {
			fmt.Fprintln(out, "Challenges:")
			for _, c := range snap.ChallengesFaced {
				fmt.Fprintf(out, "  - %s\n", c)
			}
		}
	}

	if opts.actions > 0 {
		return printAuditTrail(ctx, d, project, opts.actions, out)
	}
	return nil
}

func printProjects(reg *registry.Registry, asJSON bool, out io.Writer) error {
	names := reg.Names()
	if asJSON {
		return json.NewEncoder(out).Encode(map[string]any{"projects": names, "total": len(names)})
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No projects tracked")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tSTAGE\tACTIONS")
	for _, name := range names {
		rec, _ := reg.Get(name)
		fmt.Fprintf(tw, "%s\t%s\t%d\n", name, rec.Stage(), rec.TotalActions())
	}
	return tw.Flush()
}

func printAuditTrail(ctx context.Context, d *deps, project string, limit int, out io.Writer) error {
	if d.store == nil {
		return fmt.Errorf("--actions requires GUIDE_SNAPSHOT_BACKEND=%s", config.BackendSQLite)
	}
	entries, err := d.store.ListActions(ctx, project, 0)
	if err != nil {
		return err
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	fmt.Fprintln(out, "Audit trail:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "  %s\t%s\t%s\terrors=%d\n", ts, e.Action, e.Stage, e.ErrorCount)
	}
	return tw.Flush()
}
