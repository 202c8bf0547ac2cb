package incidents

import (
	"fmt"
	"time"
)

// SLAPolicy maps severity to the time allowed before an incident breaches.
var SLAPolicy = map[Severity]time.Duration{
	SeverityHigh:   15 * time.Minute,
	SeverityMedium: 60 * time.Minute,
	SeverityLow:    240 * time.Minute,
}

type SLAState string

const (
	SLAOnTrack  SLAState = "ON_TRACK"
	SLABreached SLAState = "BREACHED"
)

// SLA is the read-time view of an incident's deadline.
type SLA struct {
	Deadline         time.Time `json:"deadline"`
	Status           SLAState  `json:"status"`
	Remaining        string    `json:"remaining"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// AllowedDuration falls back to the LOW allowance for unknown severities.
func AllowedDuration(sev Severity) time.Duration {
	if d, ok := SLAPolicy[sev]; ok {
		return d
	}
	return SLAPolicy[SeverityLow]
}

func Deadline(createdAt time.Time, sev Severity) time.Time {
	return createdAt.Add(AllowedDuration(sev))
}

func SLAStatus(now, deadline time.Time) SLAState {
	if now.After(deadline) {
		return SLABreached
	}
	return SLAOnTrack
}

// Remaining is the signed time left until deadline, negative once breached.
func Remaining(now, deadline time.Time) time.Duration {
	return deadline.Sub(now)
}

// FormatRemaining renders d as minutes and seconds, prefixed with "-" when
// negative, e.g. "14m05s" or "-1m30s".
func FormatRemaining(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%s%dm%02ds", sign, secs/60, secs%60)
}

// ComputeSLA derives deadline, state and remaining time for inc at now.
func ComputeSLA(inc *Incident, now time.Time) SLA {
	deadline := Deadline(inc.CreatedAt, inc.Severity)
	rem := Remaining(now, deadline)
	return SLA{
		Deadline:         deadline,
		Status:           SLAStatus(now, deadline),
		Remaining:        FormatRemaining(rem),
		RemainingSeconds: int64(rem / time.Second),
	}
}
