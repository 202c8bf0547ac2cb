package events

import (
	"fmt"
	"strings"
)

// ParseSensorLine parses a "timestamp,type,value" sensor reading. Unknown
// types and short lines are rejected; an unparsable timestamp is replaced by
// the normalizer's clock and reported as a *ParseError with the event.
func (n *Normalizer) ParseSensorLine(line, sourceFile string) (Event, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 3 {
		return Event{}, &ParseError{SourceFile: sourceFile, Line: line, Reason: "expected timestamp,type,value"}
	}
	kind := strings.TrimSpace(parts[1])
	switch kind {
	case KindTemperature, KindMotion, KindVibration:
	default:
		return Event{}, &ParseError{SourceFile: sourceFile, Line: line, Reason: fmt.Sprintf("unknown sensor type %q", kind)}
	}
	value := strings.TrimSpace(parts[2])
	ev := Event{
		RawTimestamp: strings.TrimSpace(parts[0]),
		Message:      kind + "=" + value,
		SourceFile:   sourceFile,
		Source:       SourceSensor,
		Kind:         kind,
		Value:        value,
	}
	ts, ok := parseISO(ev.RawTimestamp)
	if !ok {
		ev.Timestamp = n.now()
		ev.Synthesized = true
		return ev, &ParseError{SourceFile: sourceFile, Line: line, Reason: "bad sensor timestamp"}
	}
	ev.Timestamp = ts
	return ev, nil
}
