package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/guide-engine/internal/config"
	gerrors "github.com/p-blackswan/guide-engine/internal/errors"
	"github.com/p-blackswan/guide-engine/internal/progress"
)

// errStageIncomplete makes stage-check exit non-zero.
var errStageIncomplete = gerrors.New("stage incomplete")

type stageCheckOptions struct {
	stage string
	dir   string
}

func stageCheckCmd() *cobra.Command {
	var opts stageCheckOptions

	cmd := &cobra.Command{
		Use:   "stage-check <project> [files...]",
		Short: "Check whether a project has the files its stage requires",
		Long: `Check the given files (and, with --dir, the entries of a directory)
against the requirement table of the project's current stage or of --stage.
Exits non-zero when required files are missing.

Example:
  guide stage-check demo main.py README.md
  guide stage-check demo --stage testing --dir ./workspace/demo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runStageCheck(cmd.Context(), cfg, args[0], args[1:], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.stage, "stage", "", "Stage to check (default: the project's current stage)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Directory whose entries count as present files")

	return cmd
}

func runStageCheck(ctx context.Context, cfg *config.Config, project string, files []string, opts stageCheckOptions, out io.Writer) error {
	if opts.dir != "" {
		entries, err := os.ReadDir(opts.dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", opts.dir, err)
		}
		for _, e := range entries {
			files = append(files, e.Name())
		}
	}

	reg, d, err := loadRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	rec, ok := reg.Get(project)
	if !ok {
		return fmt.Errorf("%w: %s", gerrors.ErrNotFound, project)
	}

	stage := rec.Stage()
	if opts.stage != "" {
		stage, err = progress.ParseStage(opts.stage)
		if err != nil {
			return err
		}
	}

	missing := rec.MissingFiles(stage, files)
	if len(missing) == 0 {
		fmt.Fprintf(out, "%s: stage %s complete\n", project, stage)
		return nil
	}
	fmt.Fprintf(out, "%s: stage %s missing:\n", project, stage)
	for _, f := range missing {
		fmt.Fprintf(out, "  - %s\n", f)
	}
	return errStageIncomplete
}
