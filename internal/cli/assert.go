package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chronofact-dev/chronofact/internal/engine"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// AssertOptions holds flags for the assert command.
type AssertOptions struct {
	*RootOptions
	At        string
	Domain    string
	Exclusive bool
}

// NewAssertCommand creates the assert command.
func NewAssertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AssertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assert <subject> <action> [object]",
		Short: "Record that an event happened at a point in time",
		Long: `Record that an event happened at a point in time.

The object literal is parsed as an int, bool, or string. Events may be
asserted out of chronological order; resolution depends only on event
times, never on assertion order.

Examples:
  chronofact assert alice hired intern --at 2020-01-01
  chronofact assert alice moved '"Paris"' --at 2020-06-15T09:30
  chronofact assert sensor-1 reported 42 --at 2024-01-01T10:00:00Z --domain reading
  chronofact assert machine-7 entered running --at 2024-03-01T08:00 --domain state --exclusive`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssert(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "event time (required)")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "fluent domain (optional when a rule binds the action)")
	cmd.Flags().BoolVar(&opts.Exclusive, "exclusive", false, "fix the domain's exclusivity at first use (requires --domain)")
	cmd.MarkFlagRequired("at")

	return cmd
}

// parseObjectArg decodes an object literal leniently: ints, bools, and
// quoted strings per the trace format, with bare words falling back to
// plain strings so shells need no extra quoting.
func parseObjectArg(s string) (fact.Value, error) {
	v, err := fact.ParseLiteral(s)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, fact.ErrBadLiteral) && !strings.HasPrefix(strings.TrimSpace(s), `"`) {
		return fact.String(s), nil
	}
	return nil, err
}

func runAssert(cmd *cobra.Command, opts *AssertOptions, args []string) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	tp, err := temporal.Parse(opts.At)
	if err != nil {
		err = engine.WrapInput(err)
		out.Error(err)
		return WrapExitError(ExitFailure, "parse --at", err)
	}

	var object fact.Value
	if len(args) == 3 {
		object, err = parseObjectArg(args[2])
		if err != nil {
			err = engine.WrapInput(err)
			out.Error(err)
			return WrapExitError(ExitFailure, "parse object", err)
		}
	}

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	a := engine.Assertion{
		Subject: args[0],
		Action:  args[1],
		Object:  object,
		Domain:  opts.Domain,
		Time:    tp,
	}
	if cmd.Flags().Changed("exclusive") {
		a.ExclusiveHint = &opts.Exclusive
	}

	ev, err := s.engine.Assert(ctx, a)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "assert", err)
	}
	if err := s.Save(ctx); err != nil {
		return err
	}

	return out.Emit(map[string]interface{}{
		"id":      ev.ID,
		"seq":     ev.Seq,
		"subject": ev.Subject,
		"action":  ev.Action,
		"time":    ev.Time.String(),
	}, fmt.Sprintf("recorded %s(%s) at %s (seq %d)", ev.Action, ev.Subject, ev.Time.String(), ev.Seq))
}
