// Package docker adapts the Docker runtime to the reconciler: it
// resolves the compose-project scope, takes point-in-time sweeps of
// running workers, and streams lifecycle events as domain events.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/client"
)

// Labels the compose deployment stamps on its containers. The project
// label scopes the manager to its own deployment; the role label marks
// which containers are Citus workers.
const (
	composeProjectLabel = "com.docker.compose.project"
	workerRoleLabel     = "com.citusdata.role"
	workerRoleValue     = "Worker"
)

// APIClient is the subset of the Docker API the manager uses. The real
// client satisfies it; tests use a fake.
type APIClient interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// NewClient connects to the local Docker daemon using the environment
// defaults (unix socket unless DOCKER_HOST overrides it).
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// Watcher observes the worker containers of one compose project.
type Watcher struct {
	api   APIClient
	scope Scope
}

// NewWatcher creates a Watcher bound to the given scope.
func NewWatcher(api APIClient, scope Scope) *Watcher {
	return &Watcher{api: api, scope: scope}
}
