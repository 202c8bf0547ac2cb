package incidents

import (
	"strings"
	"time"

	"socwatch/internal/events"
)

type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusClosed       Status = "CLOSED"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities; unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// ParseSeverity accepts any letter case.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	return s, s.Valid()
}

// ParseStatus accepts any letter case.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusOpen, StatusAcknowledged, StatusClosed:
		return s, true
	}
	return s, false
}

type Note struct {
	Time    time.Time `json:"time"`
	Analyst string    `json:"analyst"`
	Text    string    `json:"text"`
}

type Incident struct {
	ID          string        `json:"incident_id"`
	Source      events.Source `json:"source"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	AssignedTo  string        `json:"assigned_to,omitempty"`
	Notes       []Note        `json:"notes"`

	// Detector and Fingerprint record where the incident came from and drive
	// admission de-duplication.
	Detector    string    `json:"detector"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerEntry is one line of the append-only forensic ledger.
type LedgerEntry struct {
	Seq        int64     `json:"seq"`
	Time       time.Time `json:"timestamp"`
	IncidentID string    `json:"id"`
	Text       string    `json:"description"`
}
