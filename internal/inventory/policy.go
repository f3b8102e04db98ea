package inventory

// Effect is the restock decision produced by a count change.
type Effect int

const (
	EffectNone Effect = iota
	EffectEnsureReminder
	EffectRemoveReminder
)

func (e Effect) String() string {
	switch e {
	case EffectEnsureReminder:
		return "ensure-reminder"
	case EffectRemoveReminder:
		return "remove-reminder"
	default:
		return "none"
	}
}

// Evaluate is the pure restock policy: crossing down to the threshold (or
// below) asks for a restock reminder, rising back above it retracts one.
// Movement on one side of the threshold is not a crossing. No I/O here; the
// caller applies the effect after its own commit.
func Evaluate(prev, next, threshold int) Effect {
	switch {
	case prev > threshold && next <= threshold:
		return EffectEnsureReminder
	case prev <= threshold && next > threshold:
		return EffectRemoveReminder
	default:
		return EffectNone
	}
}
