// Package escalation raises the severity of open incidents that have breached
// their SLA.
package escalation

import (
	"context"
	"log/slog"
	"time"

	"socwatch/internal/incidents"
	"socwatch/internal/metrics"
)

// DefaultInterval is how often the escalation pass runs when not configured.
const DefaultInterval = 45 * time.Second

// PassResult counts what one escalation pass did.
type PassResult struct {
	Evaluated int `json:"evaluated"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
}

// Escalator promotes breached, non-closed incidents to HIGH. It never lowers
// a severity and never touches status.
type Escalator struct {
	Store  incidents.Store
	Now    func() time.Time
	Logger *slog.Logger
}

func New(store incidents.Store, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{Store: store, Logger: logger}
}

func (e *Escalator) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// RunPass evaluates every non-closed incident once. A failure on one incident
// is logged and counted without stopping the pass; only a failure to list
// incidents is returned.
func (e *Escalator) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	open, err := e.Store.List(ctx, incidents.ListFilter{ExcludeStatus: incidents.StatusClosed})
	if err != nil {
		return res, err
	}
	for _, inc := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Evaluated++
		escalated, err := e.escalate(ctx, inc.ID)
		if err != nil {
			res.Failed++
			e.Logger.Error("escalate incident", "err", err, "incident", inc.ID)
			continue
		}
		if escalated {
			res.Escalated++
			metrics.ObserveEscalation()
			e.Logger.Warn("incident auto-escalated", "incident", inc.ID, "from", inc.Severity)
		}
	}
	return res, nil
}

// escalate re-checks the incident inside the store's atomic update so a
// concurrent transition or escalation is never overwritten.
func (e *Escalator) escalate(ctx context.Context, id string) (bool, error) {
	now := e.now()
	changed := false
	_, err := e.Store.Update(ctx, id, func(inc *incidents.Incident) (string, error) {
		if !ShouldEscalate(inc, now) {
			return "", incidents.ErrUnchanged
		}
		inc.Severity = incidents.SeverityHigh
		changed = true
		return "AUTO-ESCALATED " + inc.ID, nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ShouldEscalate reports whether inc is open, below HIGH and past its deadline.
func ShouldEscalate(inc *incidents.Incident, now time.Time) bool {
	if inc.Status == incidents.StatusClosed || inc.Severity == incidents.SeverityHigh {
		return false
	}
	deadline := incidents.Deadline(inc.CreatedAt, inc.Severity)
	return incidents.SLAStatus(now, deadline) == incidents.SLABreached
}
