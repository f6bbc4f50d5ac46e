package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chronofact-dev/chronofact/internal/engine"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Domain string
	From   string
	To     string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <subject>",
		Short: "Show a subject's value intervals over time",
		Long: `Show the validity intervals of a subject's fluent values: when each
value started holding and when (if ever) it stopped.

Examples:
  chronofact history alice
  chronofact history alice --domain role
  chronofact history alice --from 2020 --to 2022-06`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Domain, "domain", "", "restrict to one domain")
	cmd.Flags().StringVar(&opts.From, "from", "", "only intervals overlapping at or after this time")
	cmd.Flags().StringVar(&opts.To, "to", "", "only intervals overlapping at or before this time")

	return cmd
}

func parseOptionalTime(s string) (*temporal.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := temporal.Parse(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, subject string) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	from, err := parseOptionalTime(opts.From)
	if err != nil {
		err = engine.WrapInput(err)
		out.Error(err)
		return WrapExitError(ExitFailure, "parse --from", err)
	}
	to, err := parseOptionalTime(opts.To)
	if err != nil {
		err = engine.WrapInput(err)
		out.Error(err)
		return WrapExitError(ExitFailure, "parse --to", err)
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.engine.History(ctx, subject, opts.Domain, from, to)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "history", err)
	}

	type entryJSON struct {
		Domain string `json:"domain"`
		Value  string `json:"value"`
		Start  string `json:"start"`
		End    string `json:"end,omitempty"`
	}
	var (
		payload []entryJSON
		lines   []string
	)
	for _, e := range entries {
		end := ""
		if e.Interval.End != nil {
			end = e.Interval.End.String()
		}
		payload = append(payload, entryJSON{
			Domain: e.Domain,
			Value:  fact.Render(e.Value),
			Start:  e.Interval.Start.String(),
			End:    end,
		})
		if end == "" {
			end = "now"
		}
		lines = append(lines, fmt.Sprintf("%s\t%s\t[%s .. %s)", e.Domain, fact.Render(e.Value), e.Interval.Start.String(), end))
	}

	text := fmt.Sprintf("no history for %s", subject)
	if len(lines) > 0 {
		text = strings.Join(lines, "\n")
	}
	return out.Emit(map[string]interface{}{
		"subject":   subject,
		"intervals": payload,
	}, text)
}
