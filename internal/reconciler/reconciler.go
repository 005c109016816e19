package reconciler

import (
	"sync"
	"time"

	"github.com/citusdata/membership-manager/internal/logger"
	"github.com/citusdata/membership-manager/internal/telemetry"
)

// Reconciler owns the per-worker state machine. All access to the record
// map goes through it; there is no concurrent external writer. The engine
// feeds it events and sweep snapshots and forwards the returned intents
// to the executor.
type Reconciler struct {
	mu      sync.Mutex
	records map[WorkerIdentity]*WorkerRecord

	// now provides sequences for synthesized events; overridable in tests.
	now func() int64
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{
		records: make(map[WorkerIdentity]*WorkerRecord),
		now:     func() int64 { return time.Now().UnixNano() },
	}
}

// HandleEvent applies one container event and returns the command intent
// it produced, if any. Duplicate and stale events are no-ops.
func (r *Reconciler) HandleEvent(ev Event) *CommandIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apply(ev)
}

// SeedFromSweep reconciles the record map against a point-in-time
// snapshot of running in-scope workers. Workers the sweep reports that
// are already converged produce no commands; workers the reconciler
// tracks but the sweep no longer sees get a synthesized removal; new
// workers are seeded and walked through the normal transitions.
func (r *Reconciler) SeedFromSweep(observations []Observation) []CommandIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var intents []CommandIntent
	seen := make(map[WorkerIdentity]struct{}, len(observations))

	for _, ob := range observations {
		seen[ob.Identity] = struct{}{}

		if _, ok := r.records[ob.Identity]; !ok {
			r.records[ob.Identity] = &WorkerRecord{
				Identity: ob.Identity,
				Address:  ob.Address,
				Health:   ob.Health,
				State:    StateUnknown,
			}
			telemetry.WorkersTracked.Set(float64(len(r.records)))
			if in := r.apply(Event{
				Identity: ob.Identity,
				Kind:     EventStarted,
				Address:  ob.Address,
				Sequence: r.now(),
			}); in != nil {
				intents = append(intents, *in)
			}
		}

		// A healthy observation drives NotHealthy workers toward
		// PendingAdd; for workers already pending or registered the
		// transition function makes this a no-op.
		if ob.Health == HealthHealthy {
			if in := r.apply(Event{
				Identity: ob.Identity,
				Kind:     EventHealthChanged,
				Health:   HealthHealthy,
				Address:  ob.Address,
				Sequence: r.now(),
			}); in != nil {
				intents = append(intents, *in)
			}
		}
	}

	// Workers that disappeared while the stream was down would otherwise
	// never be noticed; synthesize their removal.
	for id := range r.records {
		if _, ok := seen[id]; ok {
			continue
		}
		logger.Infof("worker %s absent from sweep, synthesizing removal", id)
		if in := r.apply(Event{
			Identity: id,
			Kind:     EventRemoved,
			Sequence: r.now(),
		}); in != nil {
			intents = append(intents, *in)
		}
	}

	return intents
}

// CompleteCommand records the outcome of a command execution. A
// completion for a version older than the record's current version is a
// stale, superseded command and is ignored.
func (r *Reconciler) CompleteCommand(id WorkerIdentity, op Operation, version uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		logger.Debugf("completion for untracked worker %s ignored", id)
		return
	}
	if version != rec.Version {
		logger.Debugf("stale %s completion for %s (version %d, current %d) ignored",
			op, id, version, rec.Version)
		return
	}

	switch {
	case err == nil:
		switch {
		case op == OpAdd && rec.State == StatePendingAdd:
			rec.State = StateMember
			telemetry.CommandsTotal.WithLabelValues(string(OpAdd), "success").Inc()
			logger.Infof("worker %s registered at coordinator", id)
		case op == OpRemove && rec.State == StatePendingRemove:
			delete(r.records, id)
			telemetry.WorkersTracked.Set(float64(len(r.records)))
			telemetry.CommandsTotal.WithLabelValues(string(OpRemove), "success").Inc()
			logger.Infof("worker %s removed from coordinator", id)
		default:
			logger.Debugf("completion of %s for %s in state %s ignored", op, id, rec.State)
		}

	case IsPermanent(err):
		// The worker stays pending; only an operator can resolve this.
		telemetry.CommandAlarms.Inc()
		telemetry.CommandsTotal.WithLabelValues(string(op), "permanent_failure").Inc()
		logger.Errorf("ALARM: %s of worker %s failed permanently, manual intervention required: %v",
			op, id, err)

	default:
		// Retrying was aborted (shutdown); the pending change is not
		// dropped, the next run's sweep re-derives it.
		logger.Debugf("%s for %s aborted before completion: %v", op, id, err)
	}
}

// Snapshot returns a copy of all tracked records, keyed by identity.
func (r *Reconciler) Snapshot() map[WorkerIdentity]WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[WorkerIdentity]WorkerRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = *rec
	}
	return out
}

// apply commits one event. Callers must hold r.mu.
func (r *Reconciler) apply(ev Event) *CommandIntent {
	rec, ok := r.records[ev.Identity]
	if !ok {
		if ev.Kind == EventRemoved {
			// Removal of a worker we never tracked; nothing to do.
			telemetry.EventsDiscarded.WithLabelValues("untracked").Inc()
			return nil
		}
		rec = &WorkerRecord{
			Identity: ev.Identity,
			Address:  ev.Address,
			State:    StateUnknown,
		}
		r.records[ev.Identity] = rec
		telemetry.WorkersTracked.Set(float64(len(r.records)))
	}

	if ev.Sequence <= rec.LastSequence {
		telemetry.EventsDiscarded.WithLabelValues("stale").Inc()
		logger.Debugf("stale event %s for %s (seq %d <= %d) discarded",
			ev.Kind, ev.Identity, ev.Sequence, rec.LastSequence)
		return nil
	}

	next, intent := Transition(rec, ev)
	telemetry.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	rec.LastSequence = ev.Sequence
	if ev.Health != "" {
		rec.Health = ev.Health
	}
	if ev.Address != "" {
		rec.Address = ev.Address
	}

	if next != rec.State {
		logger.Infof("worker %s: %s -> %s (%s)", ev.Identity, rec.State, next, ev.Kind)
		rec.State = next
	}

	if rec.State == StateGone {
		delete(r.records, ev.Identity)
		telemetry.WorkersTracked.Set(float64(len(r.records)))
	}

	if intent != nil {
		rec.Version++
		intent.Version = rec.Version
	}
	return intent
}
