package events

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxLineBytes = 1 << 20

// Reader loads every event of one detection pass from a log directory.
type Reader struct {
	Dir        string
	SensorFile string
	Normalizer *Normalizer
	Logger     *slog.Logger
}

// ReadAll reads all *.log files in lexical order. The sensor file, when
// present, is parsed as sensor readings instead of log lines. A file that
// cannot be read is logged and skipped; a missing directory yields no events.
func (r *Reader) ReadAll() ([]Event, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Event
	for _, name := range names {
		evts, err := r.readFile(filepath.Join(r.Dir, name), name)
		if err != nil {
			r.Logger.Warn("skip log file", "file", name, "err", err)
			continue
		}
		out = append(out, evts...)
	}
	return out, nil
}

func (r *Reader) readFile(path, name string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if name == r.SensorFile {
		return r.scan(f, name, r.Normalizer.ParseSensorLine)
	}
	return r.scan(f, name, r.Normalizer.Normalize)
}

// ReadLines normalizes lines that arrived outside the log directory, for
// example through the ingest endpoint.
func (r *Reader) ReadLines(sourceFile string, lines []string) []Event {
	parse := r.Normalizer.Normalize
	if sourceFile == r.SensorFile {
		parse = r.Normalizer.ParseSensorLine
	}
	out := make([]Event, 0, len(lines))
	for _, line := range lines {
		if ev, ok := r.parseLine(line, sourceFile, parse); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Reader) scan(rd io.Reader, name string, parse func(string, string) (Event, error)) ([]Event, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var out []Event
	for sc.Scan() {
		if ev, ok := r.parseLine(sc.Text(), name, parse); ok {
			out = append(out, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) parseLine(line, name string, parse func(string, string) (Event, error)) (Event, bool) {
	if strings.TrimSpace(line) == "" {
		return Event{}, false
	}
	ev, err := parse(line, name)
	if err != nil {
		r.Logger.Debug("malformed line", "err", err)
		// Sensor lines without a usable type carry nothing to detect on.
		if ev.Source == "" {
			return Event{}, false
		}
	}
	return ev, true
}
