package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerSkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	var skips atomic.Int32

	s := New(Options{OnSkip: func(string) { skips.Add(1) }}, zerolog.Nop())
	require.NoError(t, s.Register(Job{Name: "snapshot", Interval: time.Hour, Run: func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := s.Trigger(context.Background(), "snapshot")
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-started

	ran, err := s.Trigger(context.Background(), "snapshot")
	assert.False(t, ran)
	assert.NoError(t, err, "a skip is not an error")

	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, 1, skips.Load())

	ran, err = s.Trigger(context.Background(), "snapshot")
	assert.True(t, ran, "guard released after completion")
	assert.NoError(t, err)
}

func TestTriggerReportsErrorsAndPanics(t *testing.T) {
	results := map[string]error{}
	var mu sync.Mutex
	s := New(Options{OnResult: func(name string, err error, _ time.Duration) {
		mu.Lock()
		results[name] = err
		mu.Unlock()
	}}, zerolog.Nop())

	boom := errors.New("rpc down")
	require.NoError(t, s.Register(Job{Name: "apy", Interval: time.Hour, Run: func(context.Context) error { return boom }}))
	require.NoError(t, s.Register(Job{Name: "positions", Interval: time.Hour, Run: func(context.Context) error { panic("bad") }}))

	_, err := s.Trigger(context.Background(), "apy")
	assert.True(t, errors.Is(err, boom))

	_, err = s.Trigger(context.Background(), "positions")
	assert.Error(t, err)

	assert.True(t, errors.Is(results["apy"], boom))
	assert.Error(t, results["positions"])

	_, err = s.Trigger(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrUnknownJob))
}

func TestStartRunsEachJobImmediately(t *testing.T) {
	s := New(Options{}, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"snapshot", "apy"} {
		var once sync.Once
		require.NoError(t, s.Register(Job{Name: name, Interval: time.Hour, Run: func(context.Context) error {
			once.Do(wg.Done)
			return nil
		}}))
	}

	require.NoError(t, s.Start(context.Background()))
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run at startup")
	}
	s.Stop()
}

func TestStopCancelsInFlightRuns(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	entered := make(chan struct{})
	require.NoError(t, s.Register(Job{Name: "positions", Interval: time.Hour, Run: func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}}))

	require.NoError(t, s.Start(context.Background()))
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New(Options{}, zerolog.Nop())
	run := func(context.Context) error { return nil }

	assert.Error(t, s.Register(Job{Interval: time.Second, Run: run}))
	assert.Error(t, s.Register(Job{Name: "a", Run: run}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: time.Second}))
	require.NoError(t, s.Register(Job{Name: "a", Interval: time.Second, Run: run}))
	assert.Error(t, s.Register(Job{Name: "a", Interval: time.Second, Run: run}))
	assert.Equal(t, []string{"a"}, s.Jobs())
}
