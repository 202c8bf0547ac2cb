package events

import "fmt"

// ParseError reports a line that could not be fully understood. The event
// returned alongside it is still usable; callers log and continue.
type ParseError struct {
	SourceFile string
	Line       string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s: %q", e.SourceFile, e.Reason, e.Line)
}
