package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/pagination"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	UserID   string
	Day      string
	Backfill bool
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a new run of a day",
		Long: `Build computes a new run from the day's current canonical facts and
moves the day's pointer to it. Earlier runs are never modified.

Examples:
  healthledger build --db ./ledger.db --user alice --day 2026-03-14
  healthledger build --db ./ledger.db --user alice --day 2026-03-14 --backfill`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			trigger := model.TriggerManual
			if opts.Backfill {
				trigger = model.TriggerBackfill
			}
			run, err := a.builder.Build(orBackground(cmd.Context()), model.RunRequest{
				UserID:  opts.UserID,
				Day:     opts.Day,
				Trigger: model.Trigger{Type: trigger},
			})
			if err != nil {
				return WrapExitError(ExitFailure, "build failed", err)
			}
			return opts.formatter(cmd).Success(runView{run})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.Day, "day", "", "day as YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&opts.Backfill, "backfill", false, "record the run as a backfill instead of a manual run")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

type runView struct {
	model.DerivedRun
}

func (v runView) writeText(w io.Writer) {
	writeRunHeader(w, v.DerivedRun, true)
	fmt.Fprintf(w, "Inputs:\t%d\nSnapshots:\t%d\n", len(v.CanonicalEventIDs), len(v.SnapshotRefs))
}

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	UserID string
	Day    string
	Limit  int
}

type runList struct {
	Runs    []model.DerivedRun `json:"runs"`
	HasMore bool               `json:"hasMore"`
}

func (l runList) writeText(w io.Writer) {
	if len(l.Runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDAY\tCOMPUTED\tTRIGGER\tINPUTS")
	for _, r := range l.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.RunID, r.Day, r.ComputedAt.UTC().Format("2006-01-02T15:04:05Z"), triggerText(r.Trigger), len(r.CanonicalEventIDs))
	}
	tw.Flush()
	if l.HasMore {
		fmt.Fprintln(w, "(more runs available, raise --limit)")
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List the runs of a user, oldest first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Day != "" && !model.ValidDay(opts.Day) {
				return NewExitError(ExitCommandError, "--day must be YYYY-MM-DD")
			}
			if opts.Limit < 1 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.store.ListRuns(orBackground(cmd.Context()), store.RunQuery{
				UserID: opts.UserID,
				Day:    opts.Day,
				Page:   pagination.Query{Limit: opts.Limit},
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list runs", err)
			}
			return opts.formatter(cmd).Success(runList{Runs: page.Items, HasMore: page.HasMore})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.Day, "day", "", "only runs of this day")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of runs")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
