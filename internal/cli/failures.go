package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/config"
	"github.com/danielhendel/oli-sub001/internal/model"
)

type failureList []model.FailureRecord

func (l failureList) writeText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "No failures recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSOURCE\tSTAGE\tREASON\tDAY\tMESSAGE")
	for _, f := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.CreatedAt.UTC().Format(time.RFC3339), f.Source, f.Stage, f.ReasonCode, f.Day, f.Message)
	}
	tw.Flush()
}

// NewFailuresCommand creates the failures command.
func NewFailuresCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List recorded pipeline failures, newest first",
		Long: `Failures lists the failure memory of a user: rejected normalizations,
trigger errors, failed builds and replay integrity failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.ListFailures(orBackground(cmd.Context()), userID, limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list failures", err)
			}
			return rootOpts.formatter(cmd).Success(failureList(records))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of failures")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
		secret string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long: `Token signs an API bearer token with the configured jwt_secret
(HEALTHLEDGER_JWT_SECRET) unless --secret is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.LoadUnvalidated()
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load config", err)
				}
				secret = cfg.JWTSecret
			}
			tokens, err := auth.NewTokens(secret)
			if err != nil {
				return WrapExitError(ExitCommandError, "no signing secret", err)
			}
			token, err := tokens.Issue(userID, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue token", err)
			}
			return rootOpts.formatter(cmd).Success(token)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default from config)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
