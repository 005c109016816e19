package reconciler

// Transition computes the next membership state for rec after ev, plus
// the command intent the change requires, if any. It is a pure function:
// rec is never mutated, and the returned intent carries no version (the
// Reconciler assigns one when it commits the transition).
//
// Events whose sequence is not newer than the record's last applied
// sequence are duplicates or replays and leave the state unchanged.
func Transition(rec *WorkerRecord, ev Event) (MembershipState, *CommandIntent) {
	if ev.Sequence <= rec.LastSequence {
		return rec.State, nil
	}

	address := ev.Address
	if address == "" {
		address = rec.Address
	}

	switch ev.Kind {
	case EventStarted:
		if rec.State == StateUnknown {
			return StateNotHealthy, nil
		}
		return rec.State, nil

	case EventHealthChanged:
		if ev.Health == HealthHealthy {
			switch rec.State {
			case StateUnknown, StateNotHealthy:
				return StatePendingAdd, &CommandIntent{
					Identity: rec.Identity,
					Op:       OpAdd,
					Address:  address,
				}
			default:
				// Already pending or registered; repeated healthy
				// reports change nothing.
				return rec.State, nil
			}
		}
		// Health regression alone never removes a registered worker;
		// only an explicit destroy does. This keeps transient health
		// flaps from churning cluster membership.
		if rec.State == StateUnknown {
			return StateNotHealthy, nil
		}
		return rec.State, nil

	case EventRemoved:
		switch rec.State {
		case StateMember, StatePendingAdd:
			// A remove supersedes an unacknowledged add: the intent gets
			// a higher version and the stale add completion is ignored.
			return StatePendingRemove, &CommandIntent{
				Identity: rec.Identity,
				Op:       OpRemove,
				Address:  address,
			}
		case StateUnknown, StateNotHealthy:
			// Never registered, nothing to undo at the coordinator.
			return StateGone, nil
		default:
			// A container recreated under the same name while the old
			// record is still PendingRemove has its events deferred: the
			// record must reach Gone first, and the next sweep picks the
			// new container up for registration.
			return rec.State, nil
		}
	}

	return rec.State, nil
}
