package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chronofact-dev/chronofact/internal/engine"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	At string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <subject> <domain>",
		Short: "Resolve which values hold for a subject at a point in time",
		Long: `Resolve which values hold for a subject's domain at a point in time.

Comparison is granularity-aware: querying at "2022" matches events
recorded with day or second precision inside that year. An unknown
subject or domain yields an empty result, not an error.

Examples:
  chronofact query alice role --at 2021-06-01
  chronofact query alice knows --at 2022 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "query time (required)")
	cmd.MarkFlagRequired("at")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, subject, domain string) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	tp, err := temporal.Parse(opts.At)
	if err != nil {
		err = engine.WrapInput(err)
		out.Error(err)
		return WrapExitError(ExitFailure, "parse --at", err)
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := s.engine.HoldsAt(ctx, subject, domain, tp)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "query", err)
	}

	rendered := make([]string, len(values))
	for i, v := range values {
		rendered[i] = fact.Render(v)
	}

	text := fmt.Sprintf("%s/%s at %s: (none)", subject, domain, tp.String())
	if len(rendered) > 0 {
		text = fmt.Sprintf("%s/%s at %s: %s", subject, domain, tp.String(), strings.Join(rendered, ", "))
	}
	return out.Emit(map[string]interface{}{
		"subject": subject,
		"domain":  domain,
		"at":      tp.String(),
		"values":  rendered,
	}, text)
}
