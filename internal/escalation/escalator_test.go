package escalation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socwatch/internal/db"
	"socwatch/internal/events"
	"socwatch/internal/incidents"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newEscalator(store incidents.Store) *Escalator {
	e := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Now = func() time.Time { return now }
	return e
}

func seed(t *testing.T, store incidents.Store, id string, sev incidents.Severity, age time.Duration, status incidents.Status) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &incidents.Incident{
		ID:          id,
		Source:      events.SourceLog,
		Severity:    sev,
		Description: "incident " + id,
		Status:      status,
		CreatedAt:   now.Add(-age),
	}, ""))
}

func TestRunPassEscalatesBreachedMedium(t *testing.T) {
	ctx := context.Background()
	store := incidents.NewMemoryStore()
	seed(t, store, "INC-2026-0001", incidents.SeverityHigh, 16*time.Minute, incidents.StatusOpen)
	seed(t, store, "INC-2026-0002", incidents.SeverityMedium, 61*time.Minute, incidents.StatusOpen)
	seed(t, store, "INC-2026-0003", incidents.SeverityLow, 10*time.Minute, incidents.StatusAcknowledged)
	seed(t, store, "INC-2026-0004", incidents.SeverityLow, 300*time.Minute, incidents.StatusClosed)

	e := newEscalator(store)
	res, err := e.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Evaluated: 3, Escalated: 1}, res)

	high, err := store.Get(ctx, "INC-2026-0001")
	require.NoError(t, err)
	assert.Equal(t, incidents.SeverityHigh, high.Severity)
	assert.Equal(t, incidents.StatusOpen, high.Status)

	medium, err := store.Get(ctx, "INC-2026-0002")
	require.NoError(t, err)
	assert.Equal(t, incidents.SeverityHigh, medium.Severity)
	assert.Equal(t, incidents.StatusOpen, medium.Status)

	closed, err := store.Get(ctx, "INC-2026-0004")
	require.NoError(t, err)
	assert.Equal(t, incidents.SeverityLow, closed.Severity)

	ledger, err := store.Ledger(ctx, incidents.LedgerFilter{})
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "AUTO-ESCALATED INC-2026-0002", ledger[0].Text)

	// A second pass has nothing left to do.
	res, err = e.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Escalated)
	ledger, err = store.Ledger(ctx, incidents.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestShouldEscalateBoundary(t *testing.T) {
	inc := &incidents.Incident{Severity: incidents.SeverityMedium, Status: incidents.StatusOpen, CreatedAt: now.Add(-time.Hour)}
	assert.False(t, ShouldEscalate(inc, now), "exactly at the deadline is on track")
	assert.True(t, ShouldEscalate(inc, now.Add(time.Second)))

	inc.Status = incidents.StatusClosed
	assert.False(t, ShouldEscalate(inc, now.Add(time.Hour)))
}

type flakyStore struct {
	*incidents.MemoryStore
	failID  string
	listErr error
}

func (s *flakyStore) Update(ctx context.Context, id string, fn incidents.UpdateFunc) (*incidents.Incident, error) {
	if id == s.failID {
		return nil, &incidents.PersistenceError{Op: "update incident", Err: errors.New("locked")}
	}
	return s.MemoryStore.Update(ctx, id, fn)
}

func (s *flakyStore) List(ctx context.Context, f incidents.ListFilter) ([]incidents.Incident, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryStore.List(ctx, f)
}

func TestRunPassIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: incidents.NewMemoryStore(), failID: "INC-2026-0001"}
	seed(t, store, "INC-2026-0001", incidents.SeverityLow, 5*time.Hour, incidents.StatusOpen)
	seed(t, store, "INC-2026-0002", incidents.SeverityLow, 5*time.Hour, incidents.StatusOpen)

	res, err := newEscalator(store).RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Evaluated: 2, Escalated: 1, Failed: 1}, res)

	inc, err := store.Get(ctx, "INC-2026-0002")
	require.NoError(t, err)
	assert.Equal(t, incidents.SeverityHigh, inc.Severity)
}

func TestRunPassReturnsListError(t *testing.T) {
	store := &flakyStore{MemoryStore: incidents.NewMemoryStore(), listErr: errors.New("db gone")}
	_, err := newEscalator(store).RunPass(context.Background())
	assert.EqualError(t, err, "db gone")
}

func storeImpls(t *testing.T) map[string]incidents.Store {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.SQLite, filepath.Join(t.TempDir(), "socwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(ctx, conn, db.SQLite))
	return map[string]incidents.Store{
		"memory": incidents.NewMemoryStore(),
		"sqlite": incidents.NewSQLStore(conn, db.SQLite),
	}
}

func TestTransitionRacesEscalation(t *testing.T) {
	const n = 50
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("INC-2026-%04d", i+1)
				seed(t, store, ids[i], incidents.SeverityMedium, 61*time.Minute, incidents.StatusOpen)
			}
			svc := incidents.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

			var wg sync.WaitGroup
			var res PassResult
			var passErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				res, passErr = newEscalator(store).RunPass(ctx)
			}()
			go func() {
				defer wg.Done()
				for _, id := range ids {
					_, err := svc.Transition(ctx, id, incidents.StatusAcknowledged, "alice")
					assert.NoError(t, err)
				}
			}()
			wg.Wait()

			require.NoError(t, passErr)
			assert.Equal(t, PassResult{Evaluated: n, Escalated: n}, res)
			for _, id := range ids {
				inc, err := store.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, incidents.SeverityHigh, inc.Severity, id)
				assert.Equal(t, incidents.StatusAcknowledged, inc.Status, id)
				assert.Equal(t, "alice", inc.AssignedTo, id)

				ledger, err := store.Ledger(ctx, incidents.LedgerFilter{IncidentID: id})
				require.NoError(t, err)
				assert.Len(t, ledger, 2, id)
			}
		})
	}
}
