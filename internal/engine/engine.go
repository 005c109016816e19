// Package engine drives the manager's observe-reconcile-command cycle:
// sweep the current containers, seed the reconciler, then consume the
// event stream until it drops and start over.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/reconciler"
	"github.com/citusdata/membership-manager/internal/telemetry"
)

const (
	sweepInitialInterval = time.Second
	sweepMaxInterval     = 30 * time.Second
)

// Source observes worker containers. The docker Watcher satisfies it.
type Source interface {
	Sweep(ctx context.Context) ([]reconciler.Observation, error)
	Subscribe(ctx context.Context) (<-chan reconciler.Event, <-chan error)
}

// CommandSink accepts command intents for execution. The reconciler
// Executor satisfies it.
type CommandSink interface {
	Enqueue(in reconciler.CommandIntent)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSweepBackOff overrides the sweep retry policy, mainly for tests.
func WithSweepBackOff(f func() backoff.BackOff) Option {
	return func(e *Engine) {
		e.newBackOff = f
	}
}

// Engine ties the source, the reconciler, and the command sink together.
type Engine struct {
	source     Source
	rec        *reconciler.Reconciler
	sink       CommandSink
	ready      *Readiness
	newBackOff func() backoff.BackOff
}

// New creates an Engine.
func New(source Source, rec *reconciler.Reconciler, sink CommandSink, ready *Readiness, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		rec:        rec,
		sink:       sink,
		ready:      ready,
		newBackOff: defaultSweepBackOff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultSweepBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sweepInitialInterval
	b.MaxInterval = sweepMaxInterval
	return b
}

// Run executes sweep/subscribe cycles until ctx is cancelled. Each cycle
// subscribes before asserting readiness and clears readiness the moment
// the stream drops, so the marker never claims more than the manager can
// deliver. Returns nil on cancellation; any other return is fatal.
func (e *Engine) Run(ctx context.Context) error {
	// A marker surviving an unclean exit must not signal readiness.
	if err := e.ready.Clear(); err != nil {
		return err
	}
	defer func() {
		if err := e.ready.Clear(); err != nil {
			logger.Warnf("failed to clear readiness marker on shutdown: %v", err)
		}
	}()

	for {
		observations, err := e.sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sweep failed: %w", err)
		}

		for _, in := range e.rec.SeedFromSweep(observations) {
			e.sink.Enqueue(in)
		}

		// Subscribe before asserting readiness: events between the sweep
		// and the subscription would otherwise be lost while the marker
		// claims the manager is watching.
		events, disconnect := e.source.Subscribe(ctx)
		if err := e.ready.Assert(); err != nil {
			return err
		}
		logger.Infof("reconciled %d workers, watching for events", len(observations))

		err = e.consume(ctx, events, disconnect)

		clearErr := e.ready.Clear()
		if ctx.Err() != nil {
			return nil
		}
		if clearErr != nil {
			return clearErr
		}

		telemetry.StreamDisconnects.Inc()
		logger.Warnf("event stream disconnected, resweeping: %v", err)
	}
}

// consume forwards events to the reconciler until the stream drops or
// ctx is cancelled.
func (e *Engine) consume(ctx context.Context, events <-chan reconciler.Event, disconnect <-chan error) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Drained; the disconnect channel carries the reason.
				events = nil
				continue
			}
			if in := e.rec.HandleEvent(ev); in != nil {
				e.sink.Enqueue(*in)
			}
		case err := <-disconnect:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sweep retries the container snapshot until it succeeds or ctx is
// cancelled. A sweep that cannot complete leaves the manager with an
// unknown gap, so it is never skipped, only retried.
func (e *Engine) sweep(ctx context.Context) ([]reconciler.Observation, error) {
	return backoff.Retry(ctx, func() ([]reconciler.Observation, error) {
		observations, err := e.source.Sweep(ctx)
		if err != nil {
			telemetry.SweepsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
		telemetry.SweepsTotal.WithLabelValues("success").Inc()
		return observations, nil
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("sweep failed, retrying in %s: %v", next.Round(time.Millisecond), err)
		}),
	)
}
