package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		record     WorkerRecord
		event      Event
		wantState  MembershipState
		wantIntent *Operation
	}{
		{
			name:      "started while unknown becomes not healthy",
			record:    WorkerRecord{Identity: "w1", State: StateUnknown},
			event:     Event{Identity: "w1", Kind: EventStarted, Sequence: 1},
			wantState: StateNotHealthy,
		},
		{
			name:      "started while tracked is a no-op",
			record:    WorkerRecord{Identity: "w1", State: StateMember, LastSequence: 1},
			event:     Event{Identity: "w1", Kind: EventStarted, Sequence: 2},
			wantState: StateMember,
		},
		{
			name:       "healthy while not healthy emits add",
			record:     WorkerRecord{Identity: "w1", Address: "w1", State: StateNotHealthy, LastSequence: 1},
			event:      Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 2},
			wantState:  StatePendingAdd,
			wantIntent: opPtr(OpAdd),
		},
		{
			name:      "healthy while pending add is a no-op",
			record:    WorkerRecord{Identity: "w1", State: StatePendingAdd, LastSequence: 2},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 3},
			wantState: StatePendingAdd,
		},
		{
			name:      "healthy while member is a no-op",
			record:    WorkerRecord{Identity: "w1", State: StateMember, LastSequence: 2},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 3},
			wantState: StateMember,
		},
		{
			name:      "unhealthy while member never removes",
			record:    WorkerRecord{Identity: "w1", State: StateMember, LastSequence: 2},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthUnhealthy, Sequence: 3},
			wantState: StateMember,
		},
		{
			name:      "unhealthy while unknown becomes not healthy",
			record:    WorkerRecord{Identity: "w1", State: StateUnknown},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthUnhealthy, Sequence: 1},
			wantState: StateNotHealthy,
		},
		{
			name:       "removed while member emits remove",
			record:     WorkerRecord{Identity: "w1", Address: "w1", State: StateMember, LastSequence: 3},
			event:      Event{Identity: "w1", Kind: EventRemoved, Sequence: 4},
			wantState:  StatePendingRemove,
			wantIntent: opPtr(OpRemove),
		},
		{
			name:       "removed while pending add supersedes the add",
			record:     WorkerRecord{Identity: "w1", Address: "w1", State: StatePendingAdd, LastSequence: 3},
			event:      Event{Identity: "w1", Kind: EventRemoved, Sequence: 4},
			wantState:  StatePendingRemove,
			wantIntent: opPtr(OpRemove),
		},
		{
			name:      "removed while not healthy goes straight to gone",
			record:    WorkerRecord{Identity: "w1", State: StateNotHealthy, LastSequence: 1},
			event:     Event{Identity: "w1", Kind: EventRemoved, Sequence: 2},
			wantState: StateGone,
		},
		{
			name:      "removed while pending remove is a no-op",
			record:    WorkerRecord{Identity: "w1", State: StatePendingRemove, LastSequence: 4},
			event:     Event{Identity: "w1", Kind: EventRemoved, Sequence: 5},
			wantState: StatePendingRemove,
		},
		{
			name:      "healthy while pending remove defers the re-add to the next sweep",
			record:    WorkerRecord{Identity: "w1", State: StatePendingRemove, LastSequence: 4},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 5},
			wantState: StatePendingRemove,
		},
		{
			name:      "stale sequence is discarded",
			record:    WorkerRecord{Identity: "w1", State: StateNotHealthy, LastSequence: 10},
			event:     Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 10},
			wantState: StateNotHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state, intent := Transition(&tt.record, tt.event)

			assert.Equal(t, tt.wantState, state)
			if tt.wantIntent == nil {
				assert.Nil(t, intent)
			} else {
				require.NotNil(t, intent)
				assert.Equal(t, *tt.wantIntent, intent.Op)
				assert.Equal(t, tt.record.Identity, intent.Identity)
			}
		})
	}
}

func TestTransitionIsPure(t *testing.T) {
	t.Parallel()

	rec := WorkerRecord{Identity: "w1", State: StateNotHealthy, LastSequence: 1}
	before := rec

	_, _ = Transition(&rec, Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 2})

	assert.Equal(t, before, rec, "Transition must not mutate the record")
}

func TestTransitionIdempotent(t *testing.T) {
	t.Parallel()

	// Applying the same event twice leaves the state unchanged after the
	// second application: the sequence check turns the replay into a no-op.
	rec := WorkerRecord{Identity: "w1", Address: "w1", State: StateNotHealthy, LastSequence: 1}
	ev := Event{Identity: "w1", Kind: EventHealthChanged, Health: HealthHealthy, Sequence: 2}

	state, intent := Transition(&rec, ev)
	require.Equal(t, StatePendingAdd, state)
	require.NotNil(t, intent)

	// Commit the first application the way the reconciler would.
	rec.State = state
	rec.LastSequence = ev.Sequence

	state, intent = Transition(&rec, ev)
	assert.Equal(t, StatePendingAdd, state)
	assert.Nil(t, intent)
}

func opPtr(op Operation) *Operation {
	return &op
}
