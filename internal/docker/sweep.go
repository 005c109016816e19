package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/reconciler"
)

// Sweep returns a point-in-time snapshot of the running worker
// containers in scope, ordered by name. It is run at startup and after
// every stream disconnect to close event gaps before resubscribing.
func (w *Watcher) Sweep(ctx context.Context) ([]reconciler.Observation, error) {
	args := filters.NewArgs(
		filters.Arg("label", composeProjectLabel+"="+string(w.scope)),
		filters.Arg("label", workerRoleLabel+"="+workerRoleValue),
	)

	summaries, err := w.api.ContainerList(ctx, container.ListOptions{Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list worker containers: %w", err)
	}

	observations := make([]reconciler.Observation, 0, len(summaries))
	for _, summary := range summaries {
		name := containerName(summary)
		if name == "" {
			logger.Warnf("skipping unnamed container %s in sweep", summary.ID)
			continue
		}

		info, err := w.api.ContainerInspect(ctx, summary.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				// Destroyed between list and inspect; its absence from
				// the snapshot synthesizes the removal.
				continue
			}
			return nil, fmt.Errorf("failed to inspect worker %s: %w", name, err)
		}

		observations = append(observations, reconciler.Observation{
			Identity: reconciler.WorkerIdentity(name),
			Address:  name,
			Health:   healthOf(info),
		})
	}

	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Identity < observations[j].Identity
	})
	return observations, nil
}

// containerName extracts the primary name of a listed container.
func containerName(summary container.Summary) string {
	if len(summary.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(summary.Names[0], "/")
}

// healthOf maps a container's healthcheck state to the domain health. A
// container without a healthcheck result yet counts as starting: it must
// not be registered until it reports healthy.
func healthOf(info container.InspectResponse) reconciler.HealthStatus {
	if info.State == nil || info.State.Health == nil {
		return reconciler.HealthStarting
	}
	switch info.State.Health.Status {
	case container.Healthy:
		return reconciler.HealthHealthy
	case container.Unhealthy:
		return reconciler.HealthUnhealthy
	default:
		return reconciler.HealthStarting
	}
}
