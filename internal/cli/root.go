// Package cli implements the chronofact command line interface.
//
// State lives in a plain-text trace file (the export format): every
// command loads it, runs against an in-process engine, and mutating
// commands write it back atomically. An optional SQLite archive holds
// events evicted from the hot window.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	LogPath     string // trace file holding rules and events
	RulesPath   string // optional CUE rule pack (file or directory)
	ArchivePath string // optional SQLite archive for evicted events
	WindowLimit int    // hot window bound in events; 0 = unbounded
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the chronofact CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "chronofact",
		Short: "chronofact - temporal fluent resolution",
		Long: `Record events that initiate and terminate time-varying facts, and
resolve which values hold for any subject at any point in time.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogPath, "log", "chronofact.log", "event trace file")
	cmd.PersistentFlags().StringVar(&opts.RulesPath, "rules", "", "CUE rule pack file or directory")
	cmd.PersistentFlags().StringVar(&opts.ArchivePath, "archive", "", "SQLite archive for evicted events")
	cmd.PersistentFlags().IntVar(&opts.WindowLimit, "window-limit", 0, "hot window bound in events (0 = unbounded)")

	cmd.AddCommand(NewAssertCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
