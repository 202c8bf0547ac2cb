// Package detect holds the detector set: independent analyzers that each scan
// the normalized events of one pass for a single threat pattern.
package detect

import (
	"sync"
	"time"

	"socwatch/internal/events"
	"socwatch/internal/incidents"
)

// Candidate is an unconfirmed detector output awaiting admission. Untimed is
// set when Timestamp was synthesized at read time rather than taken from the
// input line.
type Candidate struct {
	Detector    string
	Key         string
	Keyed       bool
	Source      events.Source
	Timestamp   time.Time
	Untimed     bool
	Description string
	Severity    incidents.Severity
}

// Detector scans the full ordered event sequence of one pass. Implementations
// keep their counters local to a Scan call.
type Detector interface {
	Name() string
	Scan(evts []events.Event) []Candidate
}

// Set runs a group of detectors over the same events.
type Set struct {
	Detectors []Detector
}

// NewSet builds the default detector set from rules plus the sensor detector.
func NewSet(rules []Rule) (*Set, error) {
	s := &Set{}
	for _, r := range rules {
		d, err := r.Compile()
		if err != nil {
			return nil, err
		}
		s.Detectors = append(s.Detectors, d)
	}
	s.Detectors = append(s.Detectors, NewSensorDetector())
	return s, nil
}

// Scan runs every detector concurrently. The result is ordered by detector,
// then by emission order within a detector.
func (s *Set) Scan(evts []events.Event) []Candidate {
	results := make([][]Candidate, len(s.Detectors))
	var wg sync.WaitGroup
	for i, d := range s.Detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			results[i] = d.Scan(evts)
		}(i, d)
	}
	wg.Wait()

	var out []Candidate
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
