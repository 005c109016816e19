package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citusdata/membership-manager/internal/reconciler"
)

// fakeSource scripts sweeps and hands out a fresh stream per subscription.
type fakeSource struct {
	mu            sync.Mutex
	observations  []reconciler.Observation
	sweepFailures int
	sweepCalls    int
	subs          []*fakeStream
}

type fakeStream struct {
	events chan reconciler.Event
	errs   chan error
}

func (s *fakeSource) Sweep(_ context.Context) ([]reconciler.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepCalls++
	if s.sweepFailures > 0 {
		s.sweepFailures--
		return nil, errors.New("docker daemon unavailable")
	}
	return append([]reconciler.Observation(nil), s.observations...), nil
}

func (s *fakeSource) Subscribe(_ context.Context) (<-chan reconciler.Event, <-chan error) {
	stream := &fakeStream{
		events: make(chan reconciler.Event, 16),
		errs:   make(chan error, 1),
	}
	s.mu.Lock()
	s.subs = append(s.subs, stream)
	s.mu.Unlock()
	return stream.events, stream.errs
}

func (s *fakeSource) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *fakeSource) stream(i int) *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[i]
}

func (s *fakeSource) sweeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepCalls
}

// recordingSink captures enqueued intents.
type recordingSink struct {
	mu      sync.Mutex
	intents []reconciler.CommandIntent
}

func (s *recordingSink) Enqueue(in reconciler.CommandIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, in)
}

func (s *recordingSink) all() []reconciler.CommandIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reconciler.CommandIntent(nil), s.intents...)
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func startEngine(t *testing.T, source *fakeSource, sink *recordingSink) (string, context.CancelFunc, chan error) {
	t.Helper()

	marker := filepath.Join(t.TempDir(), "healthcheck", "manager-ready")
	e := New(source, reconciler.New(), sink, NewReadiness(marker), WithSweepBackOff(fastBackOff))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return marker, cancel, done
}

func waitStop(t *testing.T, cancel context.CancelFunc, done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		// Put the result back so the Cleanup waiter sees it too.
		done <- err
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for engine to stop")
	}
}

func TestEngineSeedsFromSweepAndWatchesEvents(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		observations: []reconciler.Observation{
			{Identity: "citus_worker_1", Address: "citus_worker_1", Health: reconciler.HealthHealthy},
		},
	}
	sink := &recordingSink{}
	marker, cancel, done := startEngine(t, source, sink)

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 5*time.Second, 5*time.Millisecond, "healthy worker from sweep must produce an add intent")
	assert.Equal(t, reconciler.OpAdd, sink.all()[0].Op)
	assert.Equal(t, "citus_worker_1", sink.all()[0].Address)

	require.Eventually(t, func() bool {
		return fileExists(marker)
	}, 5*time.Second, 5*time.Millisecond, "readiness marker must appear once subscribed")

	source.stream(0).events <- reconciler.Event{
		Identity: "citus_worker_1",
		Kind:     reconciler.EventRemoved,
		Sequence: time.Now().Add(time.Hour).UnixNano(),
	}

	require.Eventually(t, func() bool {
		return len(sink.all()) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, reconciler.OpRemove, sink.all()[1].Op)

	waitStop(t, cancel, done)
	assert.False(t, fileExists(marker), "readiness marker must be cleared on shutdown")
}

func TestEngineRetriesFailedSweep(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		observations: []reconciler.Observation{
			{Identity: "citus_worker_1", Address: "citus_worker_1", Health: reconciler.HealthHealthy},
		},
		sweepFailures: 3,
	}
	sink := &recordingSink{}
	marker, _, _ := startEngine(t, source, sink)

	require.Eventually(t, func() bool {
		return fileExists(marker)
	}, 5*time.Second, 5*time.Millisecond, "engine must retry the sweep until it succeeds")
	assert.GreaterOrEqual(t, source.sweeps(), 4)
	require.Len(t, sink.all(), 1)
}

func TestEngineStaleMarkerClearedBeforeFirstSweep(t *testing.T) {
	t.Parallel()

	source := &fakeSource{sweepFailures: 1 << 20} // never succeeds within the test
	sink := &recordingSink{}

	marker := filepath.Join(t.TempDir(), "manager-ready")
	require.NoError(t, os.WriteFile(marker, []byte("ready\n"), 0o644))

	e := New(source, reconciler.New(), sink, NewReadiness(marker), WithSweepBackOff(fastBackOff))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return source.sweeps() > 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, fileExists(marker), "a marker from an unclean exit must be scrubbed at startup")

	waitStop(t, cancel, done)
}

func TestEngineResweepsAfterDisconnectWithoutDuplicateAdd(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		observations: []reconciler.Observation{
			{Identity: "citus_worker_1", Address: "citus_worker_1", Health: reconciler.HealthHealthy},
		},
	}
	sink := &recordingSink{}
	marker, cancel, done := startEngine(t, source, sink)

	require.Eventually(t, func() bool {
		return source.subscriptions() == 1 && fileExists(marker)
	}, 5*time.Second, 5*time.Millisecond)

	source.stream(0).errs <- errors.New("unexpected EOF")

	require.Eventually(t, func() bool {
		return source.subscriptions() == 2 && fileExists(marker)
	}, 5*time.Second, 5*time.Millisecond, "engine must resweep and resubscribe after a disconnect")

	// The worker is still pending at the coordinator; the second sweep
	// must not enqueue a second add for it.
	assert.Len(t, sink.all(), 1)

	waitStop(t, cancel, done)
}
