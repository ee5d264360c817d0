package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/replay"
)

// ReplayOptions holds flags for the replay and explain commands.
type ReplayOptions struct {
	*RootOptions
	UserID string
	Day    string
	RunID  string
}

func (o *ReplayOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&o.Day, "day", "", "day as YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&o.RunID, "run", "", "run id (default: latest run of the day)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("day")
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a derived run with integrity verification",
		Long: `Replay the artifacts of a run exactly as they were computed.

Every snapshot is re-hashed and compared with the run's references, and the
run's canonical inputs must still exist. Any mismatch fails the command and
no artifact is printed.

Exit codes:
  0 - Run replayed and verified
  1 - Integrity verification failed
  2 - Command error (run not found, database not found, etc.)

Examples:
  healthledger replay --db ./ledger.db --user alice --day 2026-03-14
  healthledger replay --db ./ledger.db --user alice --day 2026-03-14 --run 0190c3...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.reader.Replay(orBackground(ctx), opts.UserID, opts.Day, opts.RunID)
	if err != nil {
		return replayExitError(err)
	}
	return opts.formatter(cmd).Success(replayView{result})
}

func replayExitError(err error) error {
	var ie *replay.IntegrityError
	switch {
	case errors.As(err, &ie):
		return WrapExitError(ExitFailure, fmt.Sprintf("integrity check failed [%s]", ie.Code), err)
	case errors.Is(err, replay.ErrNotFound), errors.Is(err, replay.ErrForbidden):
		return WrapExitError(ExitCommandError, "run not found", err)
	default:
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
}

type replayView struct {
	replay.Result
}

func (v replayView) writeText(w io.Writer) {
	writeRunHeader(w, v.Run, v.IsLatest)
	fmt.Fprintln(w)
	for _, a := range v.Artifacts {
		fmt.Fprintf(w, "== %s (%s) sha256:%s\n%s\n", a.DocID, a.Kind, a.Hash, a.Data)
	}
}

func writeRunHeader(w io.Writer, run model.DerivedRun, latest bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.RunID)
	fmt.Fprintf(tw, "Day:\t%s\n", run.Day)
	fmt.Fprintf(tw, "Computed:\t%s\n", run.ComputedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(tw, "Pipeline:\t%s\n", run.PipelineVersion)
	fmt.Fprintf(tw, "Trigger:\t%s\n", triggerText(run.Trigger))
	fmt.Fprintf(tw, "Latest:\t%t\n", latest)
	tw.Flush()
}

func triggerText(t model.Trigger) string {
	if t.RawEventID != "" {
		return fmt.Sprintf("%s (%s)", t.Type, t.RawEventID)
	}
	return string(t.Type)
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show why a run exists and what it was built from",
		Long: `Explain prints a run's trigger, pipeline version, canonical inputs,
invariants and snapshot references without reading snapshot contents.

Examples:
  healthledger explain --db ./ledger.db --user alice --day 2026-03-14
  healthledger explain --db ./ledger.db --user alice --day 2026-03-14 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			exp, err := a.reader.Explain(orBackground(cmd.Context()), opts.UserID, opts.Day, opts.RunID)
			if err != nil {
				return replayExitError(err)
			}
			return opts.formatter(cmd).Success(explainView{exp})
		},
	}
	opts.bind(cmd)
	return cmd
}

type explainView struct {
	replay.Explanation
}

func (v explainView) writeText(w io.Writer) {
	writeRunHeader(w, model.DerivedRun{
		RunID:           v.RunID,
		Day:             v.Day,
		ComputedAt:      v.ComputedAt,
		PipelineVersion: v.PipelineVersion,
		Trigger:         v.Trigger,
	}, v.IsLatest)

	fmt.Fprintf(w, "\nInputs (%d):\n", len(v.CanonicalEventIDs))
	for _, id := range v.CanonicalEventIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintf(w, "Invariants (%d):\n", len(v.Invariants))
	for _, inv := range v.Invariants {
		fmt.Fprintf(w, "  %s\n", inv)
	}
	fmt.Fprintf(w, "Snapshots (%d):\n", len(v.SnapshotRefs))
	for _, ref := range v.SnapshotRefs {
		fmt.Fprintf(w, "  %s  %s  %s\n", ref.DocID, ref.Kind, ref.Hash)
	}
}

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	UserID string
	Day    string
}

type verifyResult struct {
	Day  string                `json:"day"`
	Runs []replay.Verification `json:"runs"`
	OK   bool                  `json:"ok"`
}

func (r verifyResult) writeText(w io.Writer) {
	if len(r.Runs) == 0 {
		fmt.Fprintf(w, "No runs for %s.\n", r.Day)
		return
	}
	for _, v := range r.Runs {
		if v.OK {
			fmt.Fprintf(w, "ok    %s\n", v.RunID)
		} else {
			fmt.Fprintf(w, "FAIL  %s  %s\n", v.RunID, v.Code)
		}
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of every run of a day",
		Long: `Verify replays every run of the day and reports each result.

Exit codes:
  0 - Every run verified
  1 - At least one run failed verification
  2 - Command error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.reader.VerifyDay(orBackground(cmd.Context()), opts.UserID, opts.Day)
			if err != nil {
				return WrapExitError(ExitCommandError, "verify failed", err)
			}
			result := verifyResult{Day: opts.Day, Runs: runs, OK: true}
			for _, r := range runs {
				if !r.OK {
					result.OK = false
				}
			}
			if err := opts.formatter(cmd).Success(result); err != nil {
				return err
			}
			if !result.OK {
				return NewExitError(ExitFailure, "integrity verification failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.Day, "day", "", "day as YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("day")
	return cmd
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
