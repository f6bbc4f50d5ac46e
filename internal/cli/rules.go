package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List registered rules and domains",
		Long: `List the registered fluent rules and domain declarations, combining
the CUE rule pack (--rules) with any declarations in the trace file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, rootOpts)
		},
	}
	return cmd
}

func runRules(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	type ruleJSON struct {
		Action    string `json:"action"`
		Effect    string `json:"effect"`
		Domain    string `json:"domain"`
		Exclusive bool   `json:"exclusive"`
	}
	var (
		payload []ruleJSON
		lines   []string
	)
	for _, r := range s.engine.Rules() {
		payload = append(payload, ruleJSON{
			Action:    r.Action,
			Effect:    r.Effect.String(),
			Domain:    r.Domain,
			Exclusive: r.Exclusive,
		})
		mode := "accumulating"
		if r.Exclusive {
			mode = "exclusive"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s (%s)", r.Action, r.Effect, r.Domain, mode))
	}

	text := "no rules registered"
	if len(lines) > 0 {
		text = strings.Join(lines, "\n")
	}
	return out.Emit(map[string]interface{}{
		"rules":   payload,
		"domains": s.engine.Domains(),
	}, text)
}
