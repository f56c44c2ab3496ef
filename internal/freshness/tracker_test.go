package freshness

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stakewatch/internal/alerting"
	"stakewatch/internal/storage"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func TestTrackerSuccessResetsErrors(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(storage.NewMemoryStore(), Options{}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := tracker.RecordResult(ctx, DomainStaking, errors.New("rpc timeout"))
		require.NoError(t, err)
	}
	rec, err := tracker.Status(ctx, DomainStaking)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ErrorCount)
	assert.False(t, rec.IsHealthy)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "rpc timeout", *rec.LastError)

	rec, err = tracker.RecordResult(ctx, DomainStaking, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ErrorCount)
	assert.True(t, rec.IsHealthy)
	assert.Nil(t, rec.LastError)
	require.NotNil(t, rec.LastSuccess)
	assert.True(t, rec.LastSuccess.Equal(rec.LastUpdate))
}

func TestTrackerNotifiesAtThresholdAndOnRecovery(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	tracker := NewTracker(storage.NewMemoryStore(), Options{Notifier: notifier, ErrorThreshold: 2}, zerolog.Nop())

	for i := 0; i < 4; i++ {
		_, err := tracker.RecordResult(ctx, DomainAPY, errors.New("store down"))
		require.NoError(t, err)
	}
	require.Len(t, notifier.notes, 1, "only the threshold crossing alerts")
	assert.Equal(t, alerting.KindUnhealthy, notifier.notes[0].Kind)
	assert.Equal(t, 2, notifier.notes[0].ErrorCount)

	_, err := tracker.RecordResult(ctx, DomainAPY, nil)
	require.NoError(t, err)
	_, err = tracker.RecordResult(ctx, DomainAPY, nil)
	require.NoError(t, err)

	require.Len(t, notifier.notes, 2)
	assert.Equal(t, alerting.KindRecovered, notifier.notes[1].Kind)
}

func TestTrackerStatusUnknownDomain(t *testing.T) {
	tracker := NewTracker(storage.NewMemoryStore(), Options{}, zerolog.Nop())
	_, err := tracker.Status(context.Background(), DomainPositions)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
