package freshness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stakewatch/internal/alerting"
	"stakewatch/internal/storage"
)

// Domains reported by the background jobs.
const (
	DomainStaking   = "staking"
	DomainAPY       = "apy"
	DomainPositions = "positions"
)

// Domains lists every tracked domain.
var Domains = []string{DomainStaking, DomainAPY, DomainPositions}

// Options configure the tracker's alerting.
type Options struct {
	// Notifier receives unhealthy and recovery notifications. Nil disables alerts.
	Notifier alerting.Notifier
	// ErrorThreshold is the consecutive failure count that triggers an alert.
	ErrorThreshold int
	Environment    string
}

// Tracker records per-domain job outcomes.
type Tracker struct {
	store  storage.FreshnessStore
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	alerted map[string]bool
}

// NewTracker builds a tracker over the given store.
func NewTracker(store storage.FreshnessStore, opts Options, logger zerolog.Logger) *Tracker {
	if opts.ErrorThreshold < 1 {
		opts.ErrorThreshold = 1
	}
	return &Tracker{
		store:   store,
		opts:    opts,
		logger:  logger.With().Str("component", "freshness").Logger(),
		now:     time.Now,
		alerted: make(map[string]bool),
	}
}

// RecordResult stores a job outcome for domain. A nil runErr is a success.
func (t *Tracker) RecordResult(ctx context.Context, domain string, runErr error) (storage.FreshnessRecord, error) {
	var msg *string
	if runErr != nil {
		text := runErr.Error()
		msg = &text
	}

	rec, err := t.store.RecordFreshness(ctx, domain, t.now().UTC(), msg)
	if err != nil {
		return storage.FreshnessRecord{}, fmt.Errorf("record %s freshness: %w", domain, err)
	}

	t.maybeNotify(ctx, rec)
	return rec, nil
}

// Status returns the current record for domain.
func (t *Tracker) Status(ctx context.Context, domain string) (storage.FreshnessRecord, error) {
	return t.store.Freshness(ctx, domain)
}

func (t *Tracker) maybeNotify(ctx context.Context, rec storage.FreshnessRecord) {
	if t.opts.Notifier == nil {
		return
	}

	t.mu.Lock()
	var kind alerting.Kind
	switch {
	case !rec.IsHealthy && rec.ErrorCount == t.opts.ErrorThreshold:
		kind = alerting.KindUnhealthy
		t.alerted[rec.Domain] = true
	case rec.IsHealthy && t.alerted[rec.Domain]:
		kind = alerting.KindRecovered
		delete(t.alerted, rec.Domain)
	}
	t.mu.Unlock()

	if kind == "" {
		return
	}

	note := alerting.Notification{
		Kind:        kind,
		Domain:      rec.Domain,
		ErrorCount:  rec.ErrorCount,
		LastSuccess: rec.LastSuccess,
		At:          rec.LastUpdate,
		Environment: t.opts.Environment,
	}
	if rec.LastError != nil {
		note.LastError = *rec.LastError
	}
	if err := t.opts.Notifier.Notify(ctx, note); err != nil {
		t.logger.Error().Err(err).Str("domain", rec.Domain).Msg("send health notification")
	}
}
