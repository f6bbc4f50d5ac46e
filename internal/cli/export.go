package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the full event trace",
		Long: `Write the full state - domain declarations, rules, and every event
hot or archived - in the textual trace format. With no file argument the
trace goes to stdout. Importing the output reconstructs an engine that
answers every query identically.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, rootOpts, args)
		},
	}
	return cmd
}

func runExport(cmd *cobra.Command, opts *RootOptions, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "create export file", err)
		}
		defer f.Close()
		w = f
	}

	if err := s.engine.Export(ctx, w); err != nil {
		return WrapExitError(ExitCommandError, "export", err)
	}
	return nil
}
