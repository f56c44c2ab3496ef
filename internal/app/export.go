package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"stakewatch/internal/storage"
)

// Export renders the snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot export")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	repo, _, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	querySvc, closeQuery := a.newQuery(ctx, repo)
	defer closeQuery()

	from, to, err := exportWindow(opts, time.Now().UTC(), a.Config.Scheduler.SnapshotInterval)
	if err != nil {
		return err
	}

	snaps, err := querySvc.SnapshotsSince(ctx, from)
	if err != nil {
		return err
	}
	snaps = snapshotsBefore(snaps, to)
	if len(snaps) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow resolves [from, to). Without --from or --since the window
// covers MaxPoints snapshot intervals back from to.
func exportWindow(opts ExportOptions, now time.Time, interval time.Duration) (time.Time, time.Time, error) {
	if opts.From != nil && opts.Since > 0 {
		return time.Time{}, time.Time{}, errors.New("--from and --since are mutually exclusive")
	}

	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}

	var from time.Time
	switch {
	case opts.From != nil:
		from = opts.From.UTC()
	case opts.Since > 0:
		from = to.Add(-opts.Since)
	default:
		from = to.Add(-time.Duration(opts.MaxPoints) * interval)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func snapshotsBefore(snaps []storage.Snapshot, to time.Time) []storage.Snapshot {
	for i, snap := range snaps {
		if !snap.TakenAt.Before(to) {
			return snaps[:i]
		}
	}
	return snaps
}

func downsampleSnapshots(snaps []storage.Snapshot, max int) []storage.Snapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]storage.Snapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"taken_at", "total_staked", "total_stakers", "rewards_pool_balance", "total_rewards_distributed", "current_apy", "block_number"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		block := ""
		if snap.BlockNumber != nil {
			block = strconv.FormatInt(*snap.BlockNumber, 10)
		}
		record := []string{
			snap.TakenAt.UTC().Format(time.RFC3339),
			snap.TotalStaked.String(),
			strconv.FormatInt(snap.TotalStakers, 10),
			snap.RewardsPoolBalance.String(),
			snap.TotalRewardsDistributed.String(),
			snap.CurrentAPY.String(),
			block,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	staked := make([]float64, len(snaps))
	apy := make([]float64, len(snaps))

	for i, snap := range snaps {
		x[i] = snap.TakenAt
		staked[i] = snap.TotalStaked.InexactFloat64()
		apy[i] = snap.CurrentAPY.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Total staked",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "APY (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total staked",
				XValues: x,
				YValues: staked,
			},
			chart.TimeSeries{
				Name:    "APY %",
				XValues: x,
				YValues: apy,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
