package docker

import (
	"context"
	"fmt"
)

// Scope identifies the compose project whose workers the manager owns.
type Scope string

// ResolveScope determines the compose project from this process's own
// container metadata. Under Docker Compose the container's hostname is
// its ID, so inspecting it yields the deployment's labels. Failure is
// fatal to the caller: without a scope the manager would either watch
// nothing or watch every container on the host.
func ResolveScope(ctx context.Context, api APIClient, ownHostname string) (Scope, error) {
	info, err := api.ContainerInspect(ctx, ownHostname)
	if err != nil {
		return "", fmt.Errorf("failed to inspect own container %q: %w", ownHostname, err)
	}

	if info.Config == nil {
		return "", fmt.Errorf("container %q has no config", ownHostname)
	}
	project, ok := info.Config.Labels[composeProjectLabel]
	if !ok || project == "" {
		return "", fmt.Errorf("container %q carries no %s label; the manager must run inside the compose project it manages",
			ownHostname, composeProjectLabel)
	}

	return Scope(project), nil
}
