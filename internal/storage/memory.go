package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository used when no database is
// configured and in tests. It enforces the same rules as Store.
type MemoryStore struct {
	mu sync.RWMutex

	nextID        int64
	snapshots     []Snapshot
	apy           []APYCalculation
	positions     map[string]StakerPosition
	freshness     map[string]FreshnessRecord
	distributions []DistributionEvent
	prices        map[string][]PricePoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]StakerPosition),
		freshness: make(map[string]FreshnessRecord),
		prices:    make(map[string][]PricePoint),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// InsertSnapshot appends a snapshot, keeping the series ordered by TakenAt.
func (m *MemoryStore) InsertSnapshot(_ context.Context, snap Snapshot) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap.ID = m.id()
	m.snapshots = append(m.snapshots, snap)
	sort.SliceStable(m.snapshots, func(i, j int) bool {
		return m.snapshots[i].TakenAt.Before(m.snapshots[j].TakenAt)
	})
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot.
func (m *MemoryStore) LatestSnapshot(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.snapshots) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return m.snapshots[len(m.snapshots)-1], nil
}

// SnapshotsSince lists snapshots taken at or after since, oldest first.
func (m *MemoryStore) SnapshotsSince(_ context.Context, since time.Time) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0)
	for _, snap := range m.snapshots {
		if !snap.TakenAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// InsertAPYCalculation appends an APY calculation.
func (m *MemoryStore) InsertAPYCalculation(_ context.Context, calc APYCalculation) (APYCalculation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	calc.ID = m.id()
	m.apy = append(m.apy, calc)
	sort.SliceStable(m.apy, func(i, j int) bool {
		return m.apy[i].CalculatedAt.Before(m.apy[j].CalculatedAt)
	})
	return calc, nil
}

// LatestAPY returns the most recent calculation for a period.
func (m *MemoryStore) LatestAPY(_ context.Context, period Period) (APYCalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.apy) - 1; i >= 0; i-- {
		if m.apy[i].Period == period {
			return m.apy[i], nil
		}
	}
	return APYCalculation{}, ErrNotFound
}

// APYHistory lists calculations for a period since a timestamp, oldest first.
func (m *MemoryStore) APYHistory(_ context.Context, period Period, since time.Time) ([]APYCalculation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]APYCalculation, 0)
	for _, calc := range m.apy {
		if calc.Period == period && !calc.CalculatedAt.Before(since) {
			out = append(out, calc)
		}
	}
	return out, nil
}

// UpsertPosition writes a reconciled position with the same rules as Store.
func (m *MemoryStore) UpsertPosition(_ context.Context, pos StakerPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos.Address = strings.ToLower(pos.Address)
	pos.IsActive = pos.StakedAmount.IsPositive()

	if prev, ok := m.positions[pos.Address]; ok && prev.LastStakeTime != nil {
		if pos.LastStakeTime == nil || pos.LastStakeTime.Before(*prev.LastStakeTime) {
			pos.LastStakeTime = prev.LastStakeTime
		}
	}
	m.positions[pos.Address] = pos
	return nil
}

// Position returns a single address's position.
func (m *MemoryStore) Position(_ context.Context, address string) (StakerPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[strings.ToLower(address)]
	if !ok {
		return StakerPosition{}, ErrNotFound
	}
	return pos, nil
}

// TopPositions lists positions ordered by staked amount descending.
func (m *MemoryStore) TopPositions(_ context.Context, limit int) ([]StakerPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StakerPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].StakedAmount.Cmp(out[j].StakedAmount); cmp != 0 {
			return cmp > 0
		}
		return out[i].Address < out[j].Address
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// KnownAddresses lists every address with a position row.
func (m *MemoryStore) KnownAddresses(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.positions))
	for addr := range m.positions {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

// CountActivePositions counts positions with a positive stake.
func (m *MemoryStore) CountActivePositions(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, pos := range m.positions {
		if pos.IsActive {
			count++
		}
	}
	return count, nil
}

// RecordFreshness applies a success or failure to the domain's record.
func (m *MemoryStore) RecordFreshness(_ context.Context, domain string, at time.Time, errMsg *string) (FreshnessRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.freshness[domain]
	rec.Domain = domain
	rec.LastUpdate = at
	if errMsg == nil {
		success := at
		rec.LastSuccess = &success
		rec.IsHealthy = true
		rec.ErrorCount = 0
		rec.LastError = nil
	} else {
		msg := *errMsg
		rec.IsHealthy = false
		rec.ErrorCount++
		rec.LastError = &msg
	}
	m.freshness[domain] = rec
	return rec, nil
}

// Freshness returns the domain's health record.
func (m *MemoryStore) Freshness(_ context.Context, domain string) (FreshnessRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.freshness[domain]
	if !ok {
		return FreshnessRecord{}, ErrNotFound
	}
	return rec, nil
}

// AddDistribution seeds a payout; the distribution pipeline owns writes in production.
func (m *MemoryStore) AddDistribution(ev DistributionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = m.id()
	m.distributions = append(m.distributions, ev)
}

// CompletedDistributionsBetween lists completed, priced payouts in [from, to).
func (m *MemoryStore) CompletedDistributionsBetween(_ context.Context, from, to time.Time) ([]DistributionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DistributionEvent, 0)
	for _, ev := range m.distributions {
		if !ev.Priced() || ev.OccurredAt.Before(from) || !ev.OccurredAt.Before(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// InsertPricePoint appends a price observation.
func (m *MemoryStore) InsertPricePoint(_ context.Context, point PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series := append(m.prices[point.Symbol], point)
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].ObservedAt.Before(series[j].ObservedAt)
	})
	m.prices[point.Symbol] = series
	return nil
}

// PricesBetween lists observations for a symbol in [from, to).
func (m *MemoryStore) PricesBetween(_ context.Context, symbol string, from, to time.Time) ([]PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PricePoint, 0)
	for _, point := range m.prices[symbol] {
		if point.ObservedAt.Before(from) || !point.ObservedAt.Before(to) {
			continue
		}
		out = append(out, point)
	}
	return out, nil
}

// LatestPrice returns the most recent observation for a symbol.
func (m *MemoryStore) LatestPrice(_ context.Context, symbol string) (PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.prices[symbol]
	if len(series) == 0 {
		return PricePoint{}, ErrNotFound
	}
	return series[len(series)-1], nil
}

var _ Repository = (*MemoryStore)(nil)
