package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stakewatch/internal/storage"
)

// Store is the read side of storage used by the facade.
type Store interface {
	LatestSnapshot(ctx context.Context) (storage.Snapshot, error)
	SnapshotsSince(ctx context.Context, since time.Time) ([]storage.Snapshot, error)
	LatestAPY(ctx context.Context, period storage.Period) (storage.APYCalculation, error)
	APYHistory(ctx context.Context, period storage.Period, since time.Time) ([]storage.APYCalculation, error)
	Position(ctx context.Context, address string) (storage.StakerPosition, error)
	TopPositions(ctx context.Context, limit int) ([]storage.StakerPosition, error)
	Freshness(ctx context.Context, domain string) (storage.FreshnessRecord, error)
}

// MaxTopPositions bounds TopPositions.
const MaxTopPositions = 1000

// Service is the read-only data contract for the serving layer. It never
// touches the ledger.
type Service struct {
	store  Store
	board  Leaderboard
	logger zerolog.Logger
}

// NewService builds the facade. board may be nil.
func NewService(store Store, board Leaderboard, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		board:  board,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

// LatestSnapshot returns the most recent snapshot.
func (s *Service) LatestSnapshot(ctx context.Context) (storage.Snapshot, error) {
	return s.store.LatestSnapshot(ctx)
}

// SnapshotsSince returns snapshots ordered by TakenAt.
func (s *Service) SnapshotsSince(ctx context.Context, since time.Time) ([]storage.Snapshot, error) {
	return s.store.SnapshotsSince(ctx, since)
}

// LatestAPY returns the newest calculation for period.
func (s *Service) LatestAPY(ctx context.Context, period storage.Period) (storage.APYCalculation, error) {
	if period.Hours() == 0 {
		return storage.APYCalculation{}, fmt.Errorf("unknown period %q", period)
	}
	return s.store.LatestAPY(ctx, period)
}

// APYHistory returns calculations for period ordered by CalculatedAt.
func (s *Service) APYHistory(ctx context.Context, period storage.Period, since time.Time) ([]storage.APYCalculation, error) {
	if period.Hours() == 0 {
		return nil, fmt.Errorf("unknown period %q", period)
	}
	return s.store.APYHistory(ctx, period, since)
}

// Position returns the position of address, or storage.ErrNotFound.
func (s *Service) Position(ctx context.Context, address string) (storage.StakerPosition, error) {
	return s.store.Position(ctx, strings.ToLower(strings.TrimSpace(address)))
}

// TopPositions returns up to limit positions by staked amount descending,
// served from the leaderboard cache when it is warm.
func (s *Service) TopPositions(ctx context.Context, limit int) ([]storage.StakerPosition, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if limit > MaxTopPositions {
		limit = MaxTopPositions
	}

	if s.board != nil {
		cached, ok, err := s.board.Top(ctx, limit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("leaderboard cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	positions, err := s.store.TopPositions(ctx, limit)
	if err != nil {
		return nil, err
	}

	if s.board != nil {
		if err := s.board.Replace(ctx, positions, limit); err != nil {
			s.logger.Warn().Err(err).Msg("leaderboard cache write failed")
		}
	}
	return positions, nil
}

// InvalidateLeaderboard drops the cached ranking after positions change.
func (s *Service) InvalidateLeaderboard(ctx context.Context) {
	if s.board == nil {
		return
	}
	if err := s.board.Invalidate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("leaderboard cache invalidation failed")
	}
}

// Freshness returns the health record for domain.
func (s *Service) Freshness(ctx context.Context, domain string) (storage.FreshnessRecord, error) {
	return s.store.Freshness(ctx, domain)
}

// Health returns the records of every domain that has reported.
func (s *Service) Health(ctx context.Context, domains []string) ([]storage.FreshnessRecord, error) {
	out := make([]storage.FreshnessRecord, 0, len(domains))
	for _, domain := range domains {
		rec, err := s.store.Freshness(ctx, domain)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("freshness %s: %w", domain, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
