package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// sourceFile is the YAML document read by "source import".
type sourceFile struct {
	Sources []model.Source `yaml:"sources"`
}

// NewSourceCommand creates the source command group.
func NewSourceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage the source registry",
	}
	cmd.AddCommand(newSourceImportCommand(rootOpts))
	cmd.AddCommand(newSourceListCommand(rootOpts))
	return cmd
}

type importResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

func (r importResult) writeText(w io.Writer) {
	fmt.Fprintf(w, "Created %d source(s), skipped %d existing.\n", len(r.Created), len(r.Skipped))
	for _, id := range r.Skipped {
		fmt.Fprintf(w, "  exists: %s\n", id)
	}
}

func newSourceImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Register sources from a YAML file",
		Long: `Import registers every source in the file. Sources are create-only:
an existing (user, id) pair is skipped, never changed.

File format:
  sources:
    - user_id: alice
      id: scale-1
      provider: withings
      active: true
      allowed_kinds:
        weight: [1]`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := readSourceFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid source file", err)
			}

			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := orBackground(cmd.Context())
			result := importResult{Created: []string{}, Skipped: []string{}}
			for _, src := range sources {
				name := src.UserID + "/" + src.ID
				err := a.store.CreateSource(ctx, src)
				switch {
				case errors.Is(err, store.ErrAlreadyExists):
					result.Skipped = append(result.Skipped, name)
				case err != nil:
					return WrapExitError(ExitCommandError, "failed to create source "+name, err)
				default:
					result.Created = append(result.Created, name)
				}
			}
			return rootOpts.formatter(cmd).Success(result)
		},
	}
}

func readSourceFile(path string) ([]model.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc sourceFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var problems []string
	for i, src := range doc.Sources {
		if src.ID == "" || src.UserID == "" || src.Provider == "" {
			problems = append(problems, fmt.Sprintf("sources[%d]: id, user_id and provider are required", i))
		}
		for kind, versions := range src.AllowedKinds {
			if !kind.Valid() {
				problems = append(problems, fmt.Sprintf("sources[%d]: unknown kind %q", i, kind))
			}
			if len(versions) == 0 {
				problems = append(problems, fmt.Sprintf("sources[%d]: kind %q lists no schema versions", i, kind))
			}
		}
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return doc.Sources, nil
}

type sourceList []model.Source

func (l sourceList) writeText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "No sources registered.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tACTIVE\tKINDS")
	for _, s := range l {
		kinds := make([]string, 0, len(s.AllowedKinds))
		for _, k := range model.Kinds {
			if versions, ok := s.AllowedKinds[k]; ok {
				kinds = append(kinds, fmt.Sprintf("%s%v", k, versions))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", s.ID, s.Provider, s.Active, strings.Join(kinds, " "))
	}
	tw.Flush()
}

func newSourceListCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List a user's sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			sources, err := a.store.ListSources(orBackground(cmd.Context()), userID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sources", err)
			}
			return rootOpts.formatter(cmd).Success(sourceList(sources))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
