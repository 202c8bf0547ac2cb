package incidents

// transitions is the lifecycle graph. CLOSED is terminal and there is no
// shortcut from OPEN to CLOSED.
var transitions = map[Status][]Status{
	StatusOpen:         {StatusAcknowledged},
	StatusAcknowledged: {StatusClosed},
	StatusClosed:       {},
}

// AllowedTransitions returns a copy of the successors of s.
func AllowedTransitions(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsFinal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// applyTransition moves inc to the requested status and returns the ledger
// text for the change.
func applyTransition(inc *Incident, to Status) (string, error) {
	if !CanTransition(inc.Status, to) {
		return "", &InvalidTransitionError{From: inc.Status, To: to, Allowed: AllowedTransitions(inc.Status)}
	}
	from := inc.Status
	inc.Status = to
	return inc.ID + " moved " + string(from) + " -> " + string(to), nil
}
