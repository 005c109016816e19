// Package reconciler keeps the coordinator's worker membership converged
// with the set of live, healthy worker containers. It owns the per-worker
// state machine and is deliberately decoupled from the container runtime
// and the SQL channel: events come in, command intents go out.
package reconciler

// WorkerIdentity identifies one worker instance within the scope. It is
// the container name, which under Docker Compose is both unique within a
// project and the hostname the coordinator dials.
type WorkerIdentity string

// HealthStatus is the container-reported health of a worker.
type HealthStatus string

const (
	// HealthStarting means the container is running but its healthcheck
	// has not passed yet (or it has no healthcheck result).
	HealthStarting HealthStatus = "starting"

	// HealthHealthy means the container's healthcheck is passing.
	HealthHealthy HealthStatus = "healthy"

	// HealthUnhealthy means the container's healthcheck is failing.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// MembershipState is the reconciler's view of a worker's registration.
type MembershipState string

const (
	// StateUnknown is the initial state of a newly observed worker.
	StateUnknown MembershipState = "Unknown"

	// StateNotHealthy means the worker is tracked but not yet healthy,
	// so no membership command has been issued.
	StateNotHealthy MembershipState = "NotHealthy"

	// StatePendingAdd means an add command has been issued and not yet
	// acknowledged.
	StatePendingAdd MembershipState = "PendingAdd"

	// StateMember means the worker is registered at the coordinator.
	StateMember MembershipState = "Member"

	// StatePendingRemove means a remove command has been issued and not
	// yet acknowledged.
	StatePendingRemove MembershipState = "PendingRemove"

	// StateGone is terminal; the record is dropped on reaching it.
	StateGone MembershipState = "Gone"
)

// Operation is the kind of membership command issued to the coordinator.
type Operation string

const (
	// OpAdd registers a worker node.
	OpAdd Operation = "add"

	// OpRemove deregisters a worker node.
	OpRemove Operation = "remove"
)

// EventKind is the kind of container lifecycle event.
type EventKind string

const (
	// EventStarted means the container started.
	EventStarted EventKind = "started"

	// EventHealthChanged means the container's health status changed;
	// the new status is in Event.Health.
	EventHealthChanged EventKind = "health_changed"

	// EventRemoved means the container was destroyed.
	EventRemoved EventKind = "removed"
)

// Event is one container lifecycle observation. Delivery is
// at-least-once and ordered per identity only; Sequence makes replays
// and duplicates safe to discard.
type Event struct {
	Identity WorkerIdentity
	Kind     EventKind

	// Health carries the new status for EventHealthChanged.
	Health HealthStatus

	// Address is the host the coordinator should dial; may be empty on
	// events for already-tracked workers.
	Address string

	// Sequence orders events per identity. The runtime adapter uses the
	// event timestamp in nanoseconds.
	Sequence int64
}

// Observation is one worker reported by a bootstrap sweep.
type Observation struct {
	Identity WorkerIdentity
	Address  string
	Health   HealthStatus
}

// WorkerRecord is the reconciler's full state for one worker. It is
// exclusively owned and mutated by the Reconciler.
type WorkerRecord struct {
	Identity WorkerIdentity
	Address  string
	Health   HealthStatus
	State    MembershipState

	// LastSequence is the sequence of the last applied event; older
	// events are discarded.
	LastSequence int64

	// Version is bumped every time a command intent is emitted for this
	// worker. A completion carrying an older version is stale and ignored.
	Version uint64
}

// CommandIntent is a membership command to execute against the
// coordinator. At most one intent per identity is in flight; a newer
// intent supersedes an older one instead of stacking behind it.
type CommandIntent struct {
	Identity WorkerIdentity
	Op       Operation
	Address  string
	Version  uint64
}
