package events

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return &Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestNormalizeISO(t *testing.T) {
	n := testNormalizer()
	ev, err := n.Normalize("2026-03-10T09:15:02Z sshd[411]: Failed password for root from 10.0.0.5 port 22", "auth.log")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 15, 2, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "sshd[411]: Failed password for root from 10.0.0.5 port 22", ev.Message)
	assert.Equal(t, "auth.log", ev.SourceFile)
	assert.Equal(t, SourceLog, ev.Source)
	assert.False(t, ev.Synthesized)
}

func TestNormalizeISOWithoutZone(t *testing.T) {
	ev, err := testNormalizer().Normalize("2026-01-02T03:04:05.250 kernel: hello", "k.log")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 250000000, time.UTC), ev.Timestamp)
	assert.Equal(t, "kernel: hello", ev.Message)
}

func TestNormalizeSyslog(t *testing.T) {
	ev, err := testNormalizer().Normalize("Mar  9 22:01:17 web01 sudo:  alice : COMMAND=/bin/bash", "syslog.log")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 22, 1, 17, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "web01", ev.Host)
	assert.Equal(t, "sudo:  alice : COMMAND=/bin/bash", ev.Message)
}

func TestNormalizeSyslogRollsBackYear(t *testing.T) {
	ev, err := testNormalizer().Normalize("Dec 31 23:59:59 host msg", "syslog.log")
	require.NoError(t, err)
	assert.Equal(t, 2025, ev.Timestamp.Year())
}

func TestNormalizeUnrecognizedLineIsKept(t *testing.T) {
	ev, err := testNormalizer().Normalize("  something happened  ", "misc.log")
	require.NoError(t, err)
	assert.True(t, ev.Synthesized)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.Equal(t, "something happened", ev.Message)
}

func TestNormalizeMalformedISOReturnsEventAndParseError(t *testing.T) {
	ev, err := testNormalizer().Normalize("2026-13-45T99:99:99 broken", "auth.log")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.True(t, ev.Synthesized)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.Equal(t, "broken", ev.Message)
}

func TestParseSensorLine(t *testing.T) {
	n := testNormalizer()
	ev, err := n.ParseSensorLine("2026-03-10T11:00:00.123456,temperature,81.5", "sensor_data.log")
	require.NoError(t, err)
	assert.Equal(t, SourceSensor, ev.Source)
	assert.Equal(t, KindTemperature, ev.Kind)
	assert.Equal(t, "81.5", ev.Value)

	_, err = n.ParseSensorLine("2026-03-10T11:00:00,humidity,3", "sensor_data.log")
	assert.Error(t, err)
	_, err = n.ParseSensorLine("garbage", "sensor_data.log")
	assert.Error(t, err)
}

func TestReaderReadAllSkipsBadInput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.log"), []byte("2026-03-10T10:00:00Z second\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("2026-03-10T09:00:00Z first\nno timestamp here\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sensor_data.log"), []byte("2026-03-10T09:30:00,motion,1\nbad,line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := &Reader{
		Dir:        dir,
		SensorFile: "sensor_data.log",
		Normalizer: testNormalizer(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	got, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "no timestamp here", got[1].Message)
	assert.Equal(t, "second", got[2].Message)
	assert.Equal(t, SourceSensor, got[3].Source)
}

func TestReaderMissingDir(t *testing.T) {
	r := &Reader{Dir: filepath.Join(t.TempDir(), "absent"), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}
