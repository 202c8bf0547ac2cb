package incidents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Service is the analyst-facing view over a Store: lifecycle moves, notes,
// assignment and SLA reads.
type Service struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time

	// OnTransition, when set, is called after every committed status change.
	OnTransition func(from, to Status)
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Logger: logger}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Transition moves the incident to the requested status. An unassigned
// incident is assigned to actor in the same write.
func (s *Service) Transition(ctx context.Context, id string, to Status, actor string) (*Incident, error) {
	var from Status
	inc, err := s.Store.Update(ctx, id, func(inc *Incident) (string, error) {
		from = inc.Status
		text, err := applyTransition(inc, to)
		if err != nil {
			return "", err
		}
		if inc.AssignedTo == "" && actor != "" {
			inc.AssignedTo = actor
		}
		return text, nil
	})
	if err != nil {
		var ite *InvalidTransitionError
		if errors.As(err, &ite) {
			s.Logger.Info("transition rejected", "incident", id, "from", ite.From, "to", to)
		}
		return nil, err
	}
	s.Logger.Info("incident transitioned", "incident", id, "from", from, "to", to, "actor", actor)
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
	return inc, nil
}

func (s *Service) AddNote(ctx context.Context, id, analyst, text string) (*Incident, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("note text is required")
	}
	return s.Store.Update(ctx, id, func(inc *Incident) (string, error) {
		inc.Notes = append(inc.Notes, Note{Time: s.now(), Analyst: analyst, Text: text})
		return fmt.Sprintf("%s note added by %s", inc.ID, analyst), nil
	})
}

func (s *Service) Assign(ctx context.Context, id, analyst string) (*Incident, error) {
	analyst = strings.TrimSpace(analyst)
	if analyst == "" {
		return nil, errors.New("analyst is required")
	}
	return s.Store.Update(ctx, id, func(inc *Incident) (string, error) {
		if inc.AssignedTo == analyst {
			return "", ErrUnchanged
		}
		inc.AssignedTo = analyst
		return fmt.Sprintf("%s assigned to %s", inc.ID, analyst), nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Incident, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	return s.Store.List(ctx, f)
}

// SLA computes the incident's SLA view at the service clock.
func (s *Service) SLA(inc *Incident) SLA {
	return ComputeSLA(inc, s.now())
}

// Timeline returns ledger entries newest first.
func (s *Service) Timeline(ctx context.Context, incidentID string, limit int) ([]LedgerEntry, error) {
	return s.Store.Ledger(ctx, LedgerFilter{IncidentID: incidentID, Limit: limit, NewestFirst: true})
}
