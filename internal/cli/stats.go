package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Show sliding window statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, rootOpts)
		},
	}
	return cmd
}

func runStats(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.engine.WindowStats()
	lines := []string{
		fmt.Sprintf("hot events:    %d", st.HotEvents),
		fmt.Sprintf("subjects:      %d", st.Subjects),
		fmt.Sprintf("domains:       %d", st.Domains),
		fmt.Sprintf("day buckets:   %d", st.DayBuckets),
		fmt.Sprintf("pinned events: %d", st.PinnedEvents),
	}
	if st.Archived {
		lines = append(lines, fmt.Sprintf("archived up to %s", st.Boundary))
	}

	return out.Emit(map[string]interface{}{
		"hot_events":    st.HotEvents,
		"subjects":      st.Subjects,
		"domains":       st.Domains,
		"day_buckets":   st.DayBuckets,
		"pinned_events": st.PinnedEvents,
		"archived":      st.Archived,
		"boundary":      st.Boundary,
	}, strings.Join(lines, "\n"))
}
