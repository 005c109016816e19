package docker

import (
	"context"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/reconciler"
	"github.com/citusdata/membership-manager/internal/telemetry"
)

// Subscribe streams in-scope worker lifecycle events until the daemon
// connection drops or ctx is cancelled. The stream is non-restartable:
// once the error channel yields, events during the gap are assumed lost
// and the caller must sweep again before resubscribing.
//
// Docker delivers events at least once and in order per container only,
// which is all the reconciler needs: its sequence check discards
// duplicates and it never assumes cross-identity ordering.
func (w *Watcher) Subscribe(ctx context.Context) (<-chan reconciler.Event, <-chan error) {
	args := filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("label", composeProjectLabel+"="+string(w.scope)),
		filters.Arg("label", workerRoleLabel+"="+workerRoleValue),
		filters.Arg("event", string(events.ActionStart)),
		filters.Arg("event", string(events.ActionDestroy)),
		filters.Arg("event", string(events.ActionHealthStatusHealthy)),
		filters.Arg("event", string(events.ActionHealthStatusUnhealthy)),
	)

	messages, errs := w.api.Events(ctx, events.ListOptions{Filters: args})

	out := make(chan reconciler.Event)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case msg := <-messages:
				ev, ok := mapEvent(msg)
				if !ok {
					telemetry.EventsDiscarded.WithLabelValues("malformed").Inc()
					logger.Debugf("ignoring event %s for %s", msg.Action, msg.Actor.ID)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					errOut <- ctx.Err()
					return
				}
			case err := <-errs:
				errOut <- err
				return
			case <-ctx.Done():
				errOut <- ctx.Err()
				return
			}
		}
	}()

	return out, errOut
}

// mapEvent translates a Docker event into a domain event. The event
// timestamp serves as the per-identity sequence: Docker delivers a
// container's events in order, so it is monotonic per identity.
func mapEvent(msg events.Message) (reconciler.Event, bool) {
	name := msg.Actor.Attributes["name"]
	if name == "" {
		return reconciler.Event{}, false
	}

	ev := reconciler.Event{
		Identity: reconciler.WorkerIdentity(name),
		Address:  name,
		Sequence: msg.TimeNano,
	}

	switch msg.Action {
	case events.ActionStart:
		ev.Kind = reconciler.EventStarted
		ev.Health = reconciler.HealthStarting
	case events.ActionHealthStatusHealthy:
		ev.Kind = reconciler.EventHealthChanged
		ev.Health = reconciler.HealthHealthy
	case events.ActionHealthStatusUnhealthy:
		ev.Kind = reconciler.EventHealthChanged
		ev.Health = reconciler.HealthUnhealthy
	case events.ActionDestroy:
		ev.Kind = reconciler.EventRemoved
	default:
		return reconciler.Event{}, false
	}

	return ev, true
}
