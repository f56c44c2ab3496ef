package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stakewatch/internal/app"
	"stakewatch/internal/storage"
)

var (
	showLimit  int
	showPeriod string
	showSince  time.Duration
)

var showCmd = &cobra.Command{
	Use:       "show <" + strings.Join(app.ShowTargets, "|") + ">",
	Short:     "Display stored snapshots, APY, positions or domain health",
	Args:      cobra.ExactArgs(1),
	ValidArgs: app.ShowTargets,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showSince < 0 {
			return fmt.Errorf("--since cannot be negative")
		}

		period, err := storage.ParsePeriod(showPeriod)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Period: period,
			Since:  showSince,
		}

		return getApp().Show(cmd.Context(), args[0], opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showPeriod, "period", string(storage.Period30d), "APY period (24h, 7d, 30d)")
	showCmd.Flags().DurationVar(&showSince, "since", 0, "Only show rows newer than this duration (0 for all)")
}
