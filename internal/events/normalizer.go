package events

import (
	"regexp"
	"strings"
	"time"
)

var (
	isoPrefix    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T`)
	syslogPrefix = regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})(?:\s+(\S+))?(?:\s+(.*))?$`)

	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
	}
)

// Normalizer turns raw log lines into events. The zero value is usable and
// stamps synthesized timestamps with time.Now in UTC.
type Normalizer struct {
	Now func() time.Time
}

func (n *Normalizer) now() time.Time {
	if n != nil && n.Now != nil {
		return n.Now().UTC()
	}
	return time.Now().UTC()
}

// Normalize splits a line into timestamp and message. Dialects are tried in
// order: ISO-8601 prefix, then syslog. A line with no recognizable prefix gets
// the current time. When a prefix is recognized but does not parse, the event
// is still returned with a synthesized timestamp together with a *ParseError.
func (n *Normalizer) Normalize(line, sourceFile string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	ev := Event{SourceFile: sourceFile, Source: SourceLog}

	switch {
	case isoPrefix.MatchString(trimmed):
		ts, rest, _ := strings.Cut(trimmed, " ")
		ev.RawTimestamp = ts
		ev.Message = strings.TrimSpace(rest)
		parsed, ok := parseISO(ts)
		if !ok {
			ev.Timestamp = n.now()
			ev.Synthesized = true
			return ev, &ParseError{SourceFile: sourceFile, Line: line, Reason: "bad ISO-8601 timestamp"}
		}
		ev.Timestamp = parsed
		return ev, nil

	case syslogPrefix.MatchString(trimmed):
		m := syslogPrefix.FindStringSubmatch(trimmed)
		ev.RawTimestamp = m[1]
		ev.Host = m[2]
		ev.Message = strings.TrimSpace(m[3])
		parsed, err := time.Parse("Jan 2 15:04:05", strings.Join(strings.Fields(m[1]), " "))
		if err != nil {
			ev.Timestamp = n.now()
			ev.Synthesized = true
			return ev, &ParseError{SourceFile: sourceFile, Line: line, Reason: "bad syslog timestamp"}
		}
		ev.Timestamp = n.withYear(parsed)
		return ev, nil
	}

	ev.Message = trimmed
	ev.Timestamp = n.now()
	ev.Synthesized = true
	return ev, nil
}

// withYear places a year-less syslog time in the current year, or the previous
// one when that would put it more than a day in the future.
func (n *Normalizer) withYear(t time.Time) time.Time {
	now := n.now()
	out := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	if out.Sub(now) > 24*time.Hour {
		out = out.AddDate(-1, 0, 0)
	}
	return out
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
