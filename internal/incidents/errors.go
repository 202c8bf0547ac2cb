package incidents

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("incident not found")

	// ErrUnchanged is returned by an UpdateFunc to abandon the update without
	// writing anything; Store.Update then returns nil.
	ErrUnchanged = errors.New("incident unchanged")

	// ErrDuplicateCandidate marks a candidate dropped during admission. It is
	// never returned to callers.
	ErrDuplicateCandidate = errors.New("duplicate candidate")
)

// PersistenceError wraps a failure of the durable store or of the id counter.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// InvalidTransitionError is returned when a requested status is not a
// successor of the current one. No change is made.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("invalid transition %s -> %s (allowed: [%s])", e.From, e.To, strings.Join(allowed, ", "))
}
