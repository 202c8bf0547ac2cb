package incidents

import (
	"context"
	"time"

	"socwatch/internal/events"
)

// UpdateFunc mutates inc in place and returns the ledger text for the change.
// Returning ErrUnchanged abandons the update.
type UpdateFunc func(inc *Incident) (string, error)

// Store is the durable incident collection. Every mutating call is atomic with
// respect to other mutators and writes its ledger entry in the same unit.
type Store interface {
	Create(ctx context.Context, inc *Incident, ledgerText string) error
	Get(ctx context.Context, id string) (*Incident, error)
	List(ctx context.Context, f ListFilter) ([]Incident, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*Incident, error)
	HasDuplicate(ctx context.Context, q DedupQuery) (bool, error)
	NextSequence(ctx context.Context, name string) (int64, error)
	Ledger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error)
}

// ListFilter selects incidents; zero fields match everything and Limit <= 0
// means no limit.
type ListFilter struct {
	Status        Status
	ExcludeStatus Status
	Severity      Severity
	Source        events.Source
	Limit         int
}

// DedupQuery matches an incident with the same description and creation time,
// or, when Fingerprint is set, the same fingerprint created inside the window.
// AnyTime drops the creation time from the description match; it is set for
// candidates whose timestamp was synthesized and so changes on every read.
type DedupQuery struct {
	Description string
	CreatedAt   time.Time
	AnyTime     bool
	Fingerprint string
	WindowStart time.Time
	WindowEnd   time.Time
}

type LedgerFilter struct {
	IncidentID  string
	Limit       int
	NewestFirst bool
}

func (f ListFilter) matches(inc *Incident) bool {
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	if f.ExcludeStatus != "" && inc.Status == f.ExcludeStatus {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Source != "" && inc.Source != f.Source {
		return false
	}
	return true
}

func (q DedupQuery) matches(inc *Incident) bool {
	if inc.Description == q.Description && (q.AnyTime || inc.CreatedAt.Equal(q.CreatedAt)) {
		return true
	}
	if q.Fingerprint == "" || inc.Fingerprint != q.Fingerprint {
		return false
	}
	return !inc.CreatedAt.Before(q.WindowStart) && !inc.CreatedAt.After(q.WindowEnd)
}

func cloneIncident(inc *Incident) *Incident {
	c := *inc
	c.Notes = append([]Note(nil), inc.Notes...)
	if c.Notes == nil {
		c.Notes = []Note{}
	}
	return &c
}
