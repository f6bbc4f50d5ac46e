package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an exported trace into the log",
		Long: `Replay an exported trace into the current state and save the result.
Domain declarations and rules from the imported trace must not conflict
with those already registered.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runImport(cmd *cobra.Command, opts *RootOptions, path string) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open import file", err)
	}
	defer f.Close()

	if err := s.engine.Import(ctx, f); err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, fmt.Sprintf("import %s", path), err)
	}
	if err := s.Save(ctx); err != nil {
		return err
	}

	st := s.engine.WindowStats()
	return out.Emit(map[string]interface{}{
		"file":       path,
		"hot_events": st.HotEvents,
		"subjects":   st.Subjects,
	}, fmt.Sprintf("imported %s (%d hot events, %d subjects)", path, st.HotEvents, st.Subjects))
}
