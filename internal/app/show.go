package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"stakewatch/internal/freshness"
	"stakewatch/internal/query"
)

// Show targets.
const (
	ShowSnapshots = "snapshots"
	ShowAPY       = "apy"
	ShowPositions = "positions"
	ShowHealth    = "health"
)

// ShowTargets lists what Show can print.
var ShowTargets = []string{ShowSnapshots, ShowAPY, ShowPositions, ShowHealth}

// Show prints stored data through the query facade.
func (a *App) Show(ctx context.Context, what string, opts ShowOptions) error {
	repo, _, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	querySvc, closeQuery := a.newQuery(ctx, repo)
	defer closeQuery()

	return show(ctx, querySvc, os.Stdout, what, opts, time.Now().UTC())
}

func show(ctx context.Context, q *query.Service, out io.Writer, what string, opts ShowOptions, now time.Time) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	var since time.Time
	if opts.Since > 0 {
		since = now.Add(-opts.Since)
	}

	switch what {
	case ShowSnapshots:
		snaps, err := q.SnapshotsSince(ctx, since)
		if err != nil {
			return err
		}
		if len(snaps) > opts.Limit {
			snaps = snaps[len(snaps)-opts.Limit:]
		}
		if len(snaps) == 0 {
			fmt.Fprintln(writer, "no snapshots found")
			return nil
		}
		fmt.Fprintln(writer, "Time (UTC)\tStaked\tStakers\tPool\tDistributed\tAPY%\tBlock")
		for _, snap := range snaps {
			block := "-"
			if snap.BlockNumber != nil {
				block = fmt.Sprint(*snap.BlockNumber)
			}
			fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				snap.TakenAt.UTC().Format(time.RFC3339),
				formatDecimal(snap.TotalStaked, 4),
				snap.TotalStakers,
				formatDecimal(snap.RewardsPoolBalance, 4),
				formatDecimal(snap.TotalRewardsDistributed, 4),
				formatDecimal(snap.CurrentAPY, 4),
				block,
			)
		}

	case ShowAPY:
		history, err := q.APYHistory(ctx, opts.Period, since)
		if err != nil {
			return err
		}
		if len(history) > opts.Limit {
			history = history[len(history)-opts.Limit:]
		}
		if len(history) == 0 {
			fmt.Fprintln(writer, "no apy calculations found")
			return nil
		}
		fmt.Fprintln(writer, "Time (UTC)\tPeriod\tAPY%\tRewards\tAvg staked\tDetails")
		for _, calc := range history {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				calc.CalculatedAt.UTC().Format(time.RFC3339),
				calc.Period,
				formatDecimal(calc.CalculatedAPY, 4),
				formatDecimal(calc.RewardsDistributed, 6),
				formatDecimal(calc.AverageStaked, 4),
				sanitizeInline(string(calc.CalculationDetails)),
			)
		}

	case ShowPositions:
		top, err := q.TopPositions(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(top) == 0 {
			fmt.Fprintln(writer, "no positions found")
			return nil
		}
		fmt.Fprintln(writer, "Address\tStaked\tEarned\tPending\tUnbonding\tLast stake\tActive")
		for _, pos := range top {
			lastStake := "-"
			if pos.LastStakeTime != nil {
				lastStake = pos.LastStakeTime.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				pos.Address,
				formatDecimal(pos.StakedAmount, 4),
				formatDecimal(pos.LifetimeRewardsEarned, 6),
				formatDecimal(pos.PendingRewards, 6),
				formatDecimal(pos.UnbondingAmount, 4),
				lastStake,
				pos.IsActive,
			)
		}

	case ShowHealth:
		records, err := q.Health(ctx, freshness.Domains)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(writer, "no domain has reported yet")
			return nil
		}
		fmt.Fprintln(writer, "Domain\tHealthy\tErrors\tLast update\tLast success\tLast error")
		for _, rec := range records {
			lastSuccess := "-"
			if rec.LastSuccess != nil {
				lastSuccess = rec.LastSuccess.UTC().Format(time.RFC3339)
			}
			lastErr := ""
			if rec.LastError != nil {
				lastErr = sanitizeInline(*rec.LastError)
			}
			fmt.Fprintf(writer, "%s\t%t\t%d\t%s\t%s\t%s\n",
				rec.Domain,
				rec.IsHealthy,
				rec.ErrorCount,
				rec.LastUpdate.UTC().Format(time.RFC3339),
				lastSuccess,
				lastErr,
			)
		}

	default:
		return fmt.Errorf("unknown target %q (want one of %s)", what, strings.Join(ShowTargets, ", "))
	}
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
