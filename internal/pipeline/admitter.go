// Package pipeline turns normalized events into persisted incidents: it runs
// the detector set and admits the surviving candidates.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"socwatch/internal/detect"
	"socwatch/internal/events"
	"socwatch/internal/incidents"
	"socwatch/internal/metrics"
)

// DefaultDedupWindow bounds how far apart two keyed candidates with the same
// fingerprint may be and still count as one incident.
const DefaultDedupWindow = 15 * time.Minute

// Admitter converts candidates into incidents, dropping the ones an existing
// incident already covers. Admission is serialized so that the duplicate
// check and the create of one candidate are never interleaved with another.
type Admitter struct {
	Detectors   *detect.Set
	Store       incidents.Store
	Allocator   *incidents.Allocator
	DedupWindow time.Duration
	Logger      *slog.Logger

	mu sync.Mutex
}

func NewAdmitter(set *detect.Set, store incidents.Store, alloc *incidents.Allocator, logger *slog.Logger) *Admitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admitter{
		Detectors:   set,
		Store:       store,
		Allocator:   alloc,
		DedupWindow: DefaultDedupWindow,
		Logger:      logger,
	}
}

// DetectAndAdmit scans evts with every detector and admits the candidates.
// It returns the ids created, in candidate order.
func (a *Admitter) DetectAndAdmit(ctx context.Context, evts []events.Event) ([]string, error) {
	return a.Admit(ctx, a.Detectors.Scan(evts))
}

// Admit persists every candidate that is not a duplicate. The first store or
// allocation failure aborts the pass; ids admitted before it are returned
// alongside the error.
func (a *Admitter) Admit(ctx context.Context, cands []detect.Candidate) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	admitted := []string{}
	for _, c := range cands {
		metrics.ObserveCandidate(c.Detector)
		id, err := a.admitOne(ctx, c)
		if errors.Is(err, incidents.ErrDuplicateCandidate) {
			metrics.ObserveDuplicate(c.Detector)
			a.Logger.Debug("duplicate candidate dropped", "detector", c.Detector, "description", c.Description)
			continue
		}
		if err != nil {
			a.Logger.Error("admit candidate", "err", err, "detector", c.Detector)
			return admitted, err
		}
		metrics.ObserveAdmitted(string(c.Severity))
		a.Logger.Info("incident created", "incident", id, "detector", c.Detector, "severity", c.Severity)
		admitted = append(admitted, id)
	}
	return admitted, nil
}

func (a *Admitter) admitOne(ctx context.Context, c detect.Candidate) (string, error) {
	created := c.Timestamp.UTC()
	q := incidents.DedupQuery{Description: c.Description, CreatedAt: created, AnyTime: c.Untimed}
	fp := Fingerprint(c)
	if fp != "" {
		q.Fingerprint = fp
		q.WindowStart = created.Add(-a.window())
		q.WindowEnd = created.Add(a.window())
	}
	dup, err := a.Store.HasDuplicate(ctx, q)
	if err != nil {
		return "", err
	}
	if dup {
		return "", incidents.ErrDuplicateCandidate
	}

	id, err := a.Allocator.Allocate(ctx)
	if err != nil {
		return "", err
	}
	inc := &incidents.Incident{
		ID:          id,
		Source:      c.Source,
		Severity:    c.Severity,
		Description: c.Description,
		Status:      incidents.StatusOpen,
		CreatedAt:   created,
		Notes:       []incidents.Note{},
		Detector:    c.Detector,
		Fingerprint: fp,
	}
	if err := a.Store.Create(ctx, inc, CreatedLedgerText(inc)); err != nil {
		return "", err
	}
	return id, nil
}

func (a *Admitter) window() time.Duration {
	if a.DedupWindow <= 0 {
		return DefaultDedupWindow
	}
	return a.DedupWindow
}

// Fingerprint identifies a keyed candidate as detector|key|severity; unkeyed
// candidates have none.
func Fingerprint(c detect.Candidate) string {
	if !c.Keyed || c.Key == "" {
		return ""
	}
	return strings.Join([]string{c.Detector, c.Key, string(c.Severity)}, "|")
}

func CreatedLedgerText(inc *incidents.Incident) string {
	return inc.ID + " created (" + string(inc.Severity) + "): " + inc.Description
}
