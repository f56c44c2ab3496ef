package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertSnapshotSQL = `INSERT INTO staking_snapshots (
        total_staked,
        total_stakers,
        rewards_pool_balance,
        total_rewards_distributed,
        current_apy,
        block_number,
        taken_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id;`

	snapshotColumns = `id,
        total_staked,
        total_stakers,
        rewards_pool_balance,
        total_rewards_distributed,
        current_apy,
        block_number,
        taken_at`

	latestSnapshotSQL = `SELECT ` + snapshotColumns + `
    FROM staking_snapshots
    ORDER BY taken_at DESC, id DESC
    LIMIT 1;`

	snapshotsSinceSQL = `SELECT ` + snapshotColumns + `
    FROM staking_snapshots
    WHERE taken_at >= $1
    ORDER BY taken_at, id;`

	insertAPYSQL = `INSERT INTO apy_calculations (
        period,
        rewards_distributed,
        average_staked,
        calculated_apy,
        calculation_details,
        calculated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id;`

	apyColumns = `id,
        period,
        rewards_distributed,
        average_staked,
        calculated_apy,
        calculation_details,
        calculated_at`

	latestAPYSQL = `SELECT ` + apyColumns + `
    FROM apy_calculations
    WHERE period = $1
    ORDER BY calculated_at DESC, id DESC
    LIMIT 1;`

	apyHistorySQL = `SELECT ` + apyColumns + `
    FROM apy_calculations
    WHERE period = $1
      AND calculated_at >= $2
    ORDER BY calculated_at, id;`

	// GREATEST ignores NULL, so a NULL or older last_stake_time never
	// replaces a newer stored value.
	upsertPositionSQL = `INSERT INTO staker_positions (
        address,
        staked_amount,
        lifetime_rewards_earned,
        pending_rewards,
        unbonding_amount,
        last_stake_time,
        is_active,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (address) DO UPDATE
    SET
        staked_amount           = EXCLUDED.staked_amount,
        lifetime_rewards_earned = EXCLUDED.lifetime_rewards_earned,
        pending_rewards         = EXCLUDED.pending_rewards,
        unbonding_amount        = EXCLUDED.unbonding_amount,
        last_stake_time         = GREATEST(staker_positions.last_stake_time, EXCLUDED.last_stake_time),
        is_active               = EXCLUDED.is_active,
        updated_at              = EXCLUDED.updated_at;`

	positionColumns = `address,
        staked_amount,
        lifetime_rewards_earned,
        pending_rewards,
        unbonding_amount,
        last_stake_time,
        is_active,
        updated_at`

	positionByAddressSQL = `SELECT ` + positionColumns + `
    FROM staker_positions
    WHERE address = $1;`

	topPositionsSQL = `SELECT ` + positionColumns + `
    FROM staker_positions
    ORDER BY staked_amount DESC, address
    LIMIT $1;`

	knownAddressesSQL = `SELECT DISTINCT address FROM staker_positions ORDER BY address;`

	countActivePositionsSQL = `SELECT COUNT(*) FROM staker_positions WHERE is_active;`

	recordFreshnessSQL = `INSERT INTO data_freshness (
        domain,
        last_update,
        last_success,
        is_healthy,
        error_count,
        last_error
    ) VALUES (
        $1, $2,
        CASE WHEN $3::text IS NULL THEN $2::timestamptz END,
        $3::text IS NULL,
        CASE WHEN $3::text IS NULL THEN 0 ELSE 1 END,
        $3::text
    )
    ON CONFLICT (domain) DO UPDATE
    SET
        last_update  = EXCLUDED.last_update,
        last_success = CASE WHEN EXCLUDED.is_healthy THEN EXCLUDED.last_update ELSE data_freshness.last_success END,
        is_healthy   = EXCLUDED.is_healthy,
        error_count  = CASE WHEN EXCLUDED.is_healthy THEN 0 ELSE data_freshness.error_count + 1 END,
        last_error   = EXCLUDED.last_error
    RETURNING domain, last_update, last_success, is_healthy, error_count, last_error;`

	freshnessSQL = `SELECT domain, last_update, last_success, is_healthy, error_count, last_error
    FROM data_freshness
    WHERE domain = $1;`

	completedDistributionsSQL = `SELECT
        id,
        eth_amount,
        eth_price_usd_at_payout::text,
        status,
        occurred_at
    FROM distribution_events
    WHERE status = 'completed'
      AND eth_price_usd_at_payout IS NOT NULL
      AND occurred_at >= $1
      AND occurred_at < $2
    ORDER BY occurred_at;`

	insertPricePointSQL = `INSERT INTO token_price_history (symbol, price_usd, observed_at) VALUES ($1,$2,$3);`

	pricesBetweenSQL = `SELECT symbol, price_usd, observed_at
    FROM token_price_history
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	latestPriceSQL = `SELECT symbol, price_usd, observed_at
    FROM token_price_history
    WHERE symbol = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore persists the append-only snapshot series.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)
	LatestSnapshot(ctx context.Context) (Snapshot, error)
	SnapshotsSince(ctx context.Context, since time.Time) ([]Snapshot, error)
}

// APYStore persists APY calculations.
type APYStore interface {
	InsertAPYCalculation(ctx context.Context, calc APYCalculation) (APYCalculation, error)
	LatestAPY(ctx context.Context, period Period) (APYCalculation, error)
	APYHistory(ctx context.Context, period Period, since time.Time) ([]APYCalculation, error)
}

// PositionStore persists one row per staker address.
type PositionStore interface {
	UpsertPosition(ctx context.Context, pos StakerPosition) error
	Position(ctx context.Context, address string) (StakerPosition, error)
	TopPositions(ctx context.Context, limit int) ([]StakerPosition, error)
	KnownAddresses(ctx context.Context) ([]string, error)
	CountActivePositions(ctx context.Context) (int64, error)
}

// FreshnessStore records per-domain job health. RecordFreshness applies a
// success (errMsg nil) or failure atomically and returns the resulting row.
type FreshnessStore interface {
	RecordFreshness(ctx context.Context, domain string, at time.Time, errMsg *string) (FreshnessRecord, error)
	Freshness(ctx context.Context, domain string) (FreshnessRecord, error)
}

// DistributionStore reads realised reward payouts.
type DistributionStore interface {
	CompletedDistributionsBetween(ctx context.Context, from, to time.Time) ([]DistributionEvent, error)
}

// PriceStore persists the USD price series.
type PriceStore interface {
	InsertPricePoint(ctx context.Context, point PricePoint) error
	PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error)
	LatestPrice(ctx context.Context, symbol string) (PricePoint, error)
}

// Repository is the full set of store operations used by the jobs.
type Repository interface {
	SnapshotStore
	APYStore
	PositionStore
	FreshnessStore
	DistributionStore
	PriceStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the conn is recycled
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSnapshot appends a snapshot row.
func (s *Store) InsertSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return Snapshot{}, err
	}

	var block interface{}
	if snap.BlockNumber != nil {
		block = *snap.BlockNumber
	}

	if err := pool.QueryRow(ctx, insertSnapshotSQL,
		snap.TotalStaked.String(),
		snap.TotalStakers,
		snap.RewardsPoolBalance.String(),
		snap.TotalRewardsDistributed.String(),
		snap.CurrentAPY.String(),
		block,
		snap.TakenAt,
	).Scan(&snap.ID); err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return Snapshot{}, err
	}

	rows, err := pool.Query(ctx, latestSnapshotSQL)
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Snapshot{}, rows.Err()
		}
		return Snapshot{}, ErrNotFound
	}
	return scanSnapshot(rows)
}

// SnapshotsSince lists snapshots taken at or after since, oldest first.
func (s *Store) SnapshotsSince(ctx context.Context, since time.Time) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, snapshotsSinceSQL, since)
	if err != nil {
		return nil, fmt.Errorf("snapshots since: %w", err)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// InsertAPYCalculation appends an APY calculation.
func (s *Store) InsertAPYCalculation(ctx context.Context, calc APYCalculation) (APYCalculation, error) {
	pool, err := s.getPool()
	if err != nil {
		return APYCalculation{}, err
	}

	details := []byte(calc.CalculationDetails)
	if len(details) == 0 {
		details = []byte("{}")
	}

	if err := pool.QueryRow(ctx, insertAPYSQL,
		string(calc.Period),
		calc.RewardsDistributed.String(),
		calc.AverageStaked.String(),
		calc.CalculatedAPY.String(),
		details,
		calc.CalculatedAt,
	).Scan(&calc.ID); err != nil {
		return APYCalculation{}, fmt.Errorf("insert apy calculation: %w", err)
	}
	return calc, nil
}

// LatestAPY returns the most recent calculation for a period.
func (s *Store) LatestAPY(ctx context.Context, period Period) (APYCalculation, error) {
	pool, err := s.getPool()
	if err != nil {
		return APYCalculation{}, err
	}

	rows, err := pool.Query(ctx, latestAPYSQL, string(period))
	if err != nil {
		return APYCalculation{}, fmt.Errorf("latest apy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return APYCalculation{}, rows.Err()
		}
		return APYCalculation{}, ErrNotFound
	}
	return scanAPY(rows)
}

// APYHistory lists calculations for a period since a timestamp, oldest first.
func (s *Store) APYHistory(ctx context.Context, period Period, since time.Time) ([]APYCalculation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, apyHistorySQL, string(period), since)
	if err != nil {
		return nil, fmt.Errorf("apy history: %w", err)
	}
	defer rows.Close()

	calcs := make([]APYCalculation, 0)
	for rows.Next() {
		calc, scanErr := scanAPY(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		calcs = append(calcs, calc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return calcs, nil
}

// UpsertPosition writes a reconciled position. The address is lowercased,
// IsActive is derived from StakedAmount, and LastStakeTime never regresses.
func (s *Store) UpsertPosition(ctx context.Context, pos StakerPosition) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var lastStake interface{}
	if pos.LastStakeTime != nil {
		lastStake = *pos.LastStakeTime
	}

	_, execErr := pool.Exec(ctx, upsertPositionSQL,
		strings.ToLower(pos.Address),
		pos.StakedAmount.String(),
		pos.LifetimeRewardsEarned.String(),
		pos.PendingRewards.String(),
		pos.UnbondingAmount.String(),
		lastStake,
		pos.StakedAmount.IsPositive(),
		pos.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert position: %w", execErr)
	}
	return nil
}

// Position returns a single address's position.
func (s *Store) Position(ctx context.Context, address string) (StakerPosition, error) {
	pool, err := s.getPool()
	if err != nil {
		return StakerPosition{}, err
	}

	rows, err := pool.Query(ctx, positionByAddressSQL, strings.ToLower(address))
	if err != nil {
		return StakerPosition{}, fmt.Errorf("position: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return StakerPosition{}, rows.Err()
		}
		return StakerPosition{}, ErrNotFound
	}
	return scanPosition(rows)
}

// TopPositions lists positions ordered by staked amount descending.
func (s *Store) TopPositions(ctx context.Context, limit int) ([]StakerPosition, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, topPositionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("top positions: %w", err)
	}
	defer rows.Close()

	positions := make([]StakerPosition, 0, limit)
	for rows.Next() {
		pos, scanErr := scanPosition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		positions = append(positions, pos)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return positions, nil
}

// KnownAddresses lists every address with a position row, active or not.
func (s *Store) KnownAddresses(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, knownAddressesSQL)
	if err != nil {
		return nil, fmt.Errorf("known addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// CountActivePositions counts positions with a positive stake.
func (s *Store) CountActivePositions(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countActivePositionsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count active positions: %w", scanErr)
	}
	return count, nil
}

// RecordFreshness upserts the domain's health in a single statement.
func (s *Store) RecordFreshness(ctx context.Context, domain string, at time.Time, errMsg *string) (FreshnessRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FreshnessRecord{}, err
	}

	var msg interface{}
	if errMsg != nil {
		msg = *errMsg
	}

	rec, err := scanFreshness(pool.QueryRow(ctx, recordFreshnessSQL, domain, at, msg))
	if err != nil {
		return FreshnessRecord{}, fmt.Errorf("record freshness: %w", err)
	}
	return rec, nil
}

// Freshness returns the domain's health record.
func (s *Store) Freshness(ctx context.Context, domain string) (FreshnessRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return FreshnessRecord{}, err
	}

	rec, err := scanFreshness(pool.QueryRow(ctx, freshnessSQL, domain))
	if errors.Is(err, pgx.ErrNoRows) {
		return FreshnessRecord{}, ErrNotFound
	}
	if err != nil {
		return FreshnessRecord{}, fmt.Errorf("freshness: %w", err)
	}
	return rec, nil
}

// CompletedDistributionsBetween lists completed, priced payouts in [from, to).
func (s *Store) CompletedDistributionsBetween(ctx context.Context, from, to time.Time) ([]DistributionEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, completedDistributionsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("completed distributions: %w", err)
	}
	defer rows.Close()

	events := make([]DistributionEvent, 0)
	for rows.Next() {
		var (
			ev        DistributionEvent
			amountStr string
			priceStr  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &amountStr, &priceStr, &ev.Status, &ev.OccurredAt); err != nil {
			return nil, err
		}
		if ev.EthAmount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse eth amount: %w", err)
		}
		if priceStr.Valid {
			price, convErr := decimal.NewFromString(priceStr.String)
			if convErr != nil {
				return nil, fmt.Errorf("parse eth price: %w", convErr)
			}
			ev.EthPriceUSD = &price
		}
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertPricePoint appends a price observation.
func (s *Store) InsertPricePoint(ctx context.Context, point PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertPricePointSQL, point.Symbol, point.PriceUSD.String(), point.ObservedAt); execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// PricesBetween lists price observations for a symbol in [from, to).
func (s *Store) PricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, pricesBetweenSQL, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("prices between: %w", err)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// LatestPrice returns the most recent observation for a symbol.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return PricePoint{}, err
	}

	point, err := scanPricePoint(pool.QueryRow(ctx, latestPriceSQL, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return PricePoint{}, ErrNotFound
	}
	if err != nil {
		return PricePoint{}, fmt.Errorf("latest price: %w", err)
	}
	return point, nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	var (
		snap        Snapshot
		stakedStr   string
		poolStr     string
		rewardsStr  string
		apyStr      string
		blockNumber sql.NullInt64
	)

	if err := rows.Scan(
		&snap.ID,
		&stakedStr,
		&snap.TotalStakers,
		&poolStr,
		&rewardsStr,
		&apyStr,
		&blockNumber,
		&snap.TakenAt,
	); err != nil {
		return Snapshot{}, err
	}

	var err error
	if snap.TotalStaked, err = decimal.NewFromString(stakedStr); err != nil {
		return Snapshot{}, fmt.Errorf("parse total staked: %w", err)
	}
	if snap.RewardsPoolBalance, err = decimal.NewFromString(poolStr); err != nil {
		return Snapshot{}, fmt.Errorf("parse rewards pool balance: %w", err)
	}
	if snap.TotalRewardsDistributed, err = decimal.NewFromString(rewardsStr); err != nil {
		return Snapshot{}, fmt.Errorf("parse total rewards distributed: %w", err)
	}
	if snap.CurrentAPY, err = decimal.NewFromString(apyStr); err != nil {
		return Snapshot{}, fmt.Errorf("parse current apy: %w", err)
	}
	if blockNumber.Valid {
		value := blockNumber.Int64
		snap.BlockNumber = &value
	}
	return snap, nil
}

func scanAPY(rows pgx.Rows) (APYCalculation, error) {
	var (
		calc       APYCalculation
		period     string
		rewardsStr string
		stakedStr  string
		apyStr     string
		details    json.RawMessage
	)

	if err := rows.Scan(
		&calc.ID,
		&period,
		&rewardsStr,
		&stakedStr,
		&apyStr,
		&details,
		&calc.CalculatedAt,
	); err != nil {
		return APYCalculation{}, err
	}

	var err error
	calc.Period = Period(period)
	calc.CalculationDetails = details
	if calc.RewardsDistributed, err = decimal.NewFromString(rewardsStr); err != nil {
		return APYCalculation{}, fmt.Errorf("parse rewards distributed: %w", err)
	}
	if calc.AverageStaked, err = decimal.NewFromString(stakedStr); err != nil {
		return APYCalculation{}, fmt.Errorf("parse average staked: %w", err)
	}
	if calc.CalculatedAPY, err = decimal.NewFromString(apyStr); err != nil {
		return APYCalculation{}, fmt.Errorf("parse calculated apy: %w", err)
	}
	return calc, nil
}

func scanPosition(rows pgx.Rows) (StakerPosition, error) {
	var (
		pos          StakerPosition
		stakedStr    string
		lifetimeStr  string
		pendingStr   string
		unbondingStr string
		lastStake    sql.NullTime
	)

	if err := rows.Scan(
		&pos.Address,
		&stakedStr,
		&lifetimeStr,
		&pendingStr,
		&unbondingStr,
		&lastStake,
		&pos.IsActive,
		&pos.UpdatedAt,
	); err != nil {
		return StakerPosition{}, err
	}

	var err error
	if pos.StakedAmount, err = decimal.NewFromString(stakedStr); err != nil {
		return StakerPosition{}, fmt.Errorf("parse staked amount: %w", err)
	}
	if pos.LifetimeRewardsEarned, err = decimal.NewFromString(lifetimeStr); err != nil {
		return StakerPosition{}, fmt.Errorf("parse lifetime rewards: %w", err)
	}
	if pos.PendingRewards, err = decimal.NewFromString(pendingStr); err != nil {
		return StakerPosition{}, fmt.Errorf("parse pending rewards: %w", err)
	}
	if pos.UnbondingAmount, err = decimal.NewFromString(unbondingStr); err != nil {
		return StakerPosition{}, fmt.Errorf("parse unbonding amount: %w", err)
	}
	if lastStake.Valid {
		value := lastStake.Time
		pos.LastStakeTime = &value
	}
	return pos, nil
}

func scanFreshness(row pgx.Row) (FreshnessRecord, error) {
	var (
		rec         FreshnessRecord
		lastSuccess sql.NullTime
		lastError   sql.NullString
	)
	if err := row.Scan(
		&rec.Domain,
		&rec.LastUpdate,
		&lastSuccess,
		&rec.IsHealthy,
		&rec.ErrorCount,
		&lastError,
	); err != nil {
		return FreshnessRecord{}, err
	}
	if lastSuccess.Valid {
		value := lastSuccess.Time
		rec.LastSuccess = &value
	}
	if lastError.Valid {
		msg := lastError.String
		rec.LastError = &msg
	}
	return rec, nil
}

func scanPricePoint(row pgx.Row) (PricePoint, error) {
	var (
		point    PricePoint
		priceStr string
	)
	if err := row.Scan(&point.Symbol, &priceStr, &point.ObservedAt); err != nil {
		return PricePoint{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	point.PriceUSD = price
	return point, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
