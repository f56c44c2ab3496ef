package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stakewatch/internal/app"
)

var exportOpts struct {
	from      string
	to        string
	since     time.Duration
	png       string
	csv       string
	maxPoints int
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the snapshot history (total staked, stakers, APY) as CSV and/or PNG",
	Example: `  stakewatch export --since 168h --csv out/week.csv --png out/week.png
  stakewatch export --from 2025-03-01T00:00:00Z --to 2025-03-08T00:00:00Z --csv march.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimestampFlag("from", exportOpts.from)
		if err != nil {
			return err
		}
		to, err := parseTimestampFlag("to", exportOpts.to)
		if err != nil {
			return err
		}
		if exportOpts.since < 0 {
			return fmt.Errorf("--since cannot be negative")
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			From:      from,
			To:        to,
			Since:     exportOpts.since,
			PNGPath:   exportOpts.png,
			CSVPath:   exportOpts.csv,
			MaxPoints: exportOpts.maxPoints,
		})
	},
}

func parseTimestampFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &ts, nil
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportOpts.from, "from", "", "Window start (RFC3339, inclusive); excludes --since")
	flags.StringVar(&exportOpts.to, "to", "", "Window end (RFC3339, exclusive); defaults to now")
	flags.DurationVar(&exportOpts.since, "since", 0, "Window length back from --to, e.g. 24h or 168h")
	flags.StringVar(&exportOpts.png, "png", "", "Path to write a total staked / APY chart")
	flags.StringVar(&exportOpts.csv, "csv", "", "Path to write snapshot rows")
	flags.IntVar(&exportOpts.maxPoints, "max-points", 0, "Downsample to at most this many snapshots (defaults to export.max_data_points)")
}
