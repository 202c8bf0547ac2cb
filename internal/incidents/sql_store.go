package incidents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"socwatch/internal/db"
	"socwatch/internal/events"
)

// SQLStore persists incidents, the id counter and the ledger in one database.
// Mutations are serialized in-process and each runs in a single transaction.
type SQLStore struct {
	db      *sql.DB
	dialect db.Dialect
	mu      sync.Mutex
	Now     func() time.Time
}

func NewSQLStore(conn *sql.DB, dialect db.Dialect) *SQLStore {
	return &SQLStore{db: conn, dialect: dialect}
}

const incidentColumns = "incident_id, source, severity, description, status, created_at," +
	" assigned_to, notes, detector, fingerprint, updated_at"

func (s *SQLStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *SQLStore) Create(ctx context.Context, inc *Incident, ledgerText string) error {
	if inc.Status == "" {
		inc.Status = StatusOpen
	}
	if inc.Notes == nil {
		inc.Notes = []Note{}
	}
	notes, err := json.Marshal(inc.Notes)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, "create incident", func(tx *sql.Tx) error {
		const q = `
			INSERT INTO incidents (` + incidentColumns + `)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)
		`
		if _, err := tx.ExecContext(ctx, s.q(q),
			inc.ID,
			string(inc.Source),
			string(inc.Severity),
			inc.Description,
			string(inc.Status),
			inc.CreatedAt.UnixNano(),
			inc.AssignedTo,
			string(notes),
			inc.Detector,
			inc.Fingerprint,
			now.UnixNano(),
		); err != nil {
			return err
		}
		inc.UpdatedAt = now
		return s.appendLedger(ctx, tx, inc.ID, ledgerText, now)
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+incidentColumns+` FROM incidents WHERE incident_id = ?`), id)
	inc, err := scanIncident(row)
	if err != nil {
		return nil, persistErr("get incident", err)
	}
	return inc, nil
}

func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	clauses := []string{"1=1"}
	args := []interface{}{}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ExcludeStatus != "" {
		clauses = append(clauses, "status <> ?")
		args = append(args, string(f.ExcludeStatus))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, string(f.Source))
	}
	query := "SELECT " + incidentColumns + " FROM incidents WHERE " + strings.Join(clauses, " AND ") +
		" ORDER BY created_at DESC, incident_id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistErr("list incidents", err)
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, persistErr("list incidents", err)
		}
		res = append(res, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list incidents", err)
	}
	return res, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *Incident
	var fnErr error
	err := s.inTx(ctx, "update incident", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			s.q(`SELECT `+incidentColumns+` FROM incidents WHERE incident_id = ?`+s.dialect.ForUpdate()), id)
		inc, err := scanIncident(row)
		if err != nil {
			return err
		}
		text, err := fn(inc)
		if errors.Is(err, ErrUnchanged) {
			out = inc
			return errRollback
		}
		if err != nil {
			fnErr = err
			return errRollback
		}
		notes, err := json.Marshal(inc.Notes)
		if err != nil {
			return err
		}
		now := s.now()
		const q = `
			UPDATE incidents
			SET severity = ?, status = ?, assigned_to = ?, notes = ?, updated_at = ?
			WHERE incident_id = ?
		`
		if _, err := tx.ExecContext(ctx, s.q(q),
			string(inc.Severity), string(inc.Status), inc.AssignedTo, string(notes), now.UnixNano(), id); err != nil {
			return err
		}
		inc.UpdatedAt = now
		out = inc
		return s.appendLedger(ctx, tx, id, text, now)
	})
	if err != nil {
		return nil, err
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return out, nil
}

func (s *SQLStore) HasDuplicate(ctx context.Context, q DedupQuery) (bool, error) {
	where := "(description = ? AND created_at = ?)"
	args := []interface{}{q.Description, q.CreatedAt.UnixNano()}
	if q.AnyTime {
		where = "(description = ?)"
		args = args[:1]
	}
	if q.Fingerprint != "" {
		where += " OR (fingerprint = ? AND created_at >= ? AND created_at <= ?)"
		args = append(args, q.Fingerprint, q.WindowStart.UnixNano(), q.WindowEnd.UnixNano())
	}
	row := s.db.QueryRowContext(ctx, s.q("SELECT 1 FROM incidents WHERE "+where+" LIMIT 1"), args...)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, persistErr("dedup lookup", err)
	}
	return true, nil
}

// NextSequence increments the named counter. A stored value that is not a
// non-negative integer is reported as corrupt instead of being reset.
func (s *SQLStore) NextSequence(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	err := s.inTx(ctx, "next sequence", func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			s.q(`SELECT value FROM counters WHERE name = ?`+s.dialect.ForUpdate()), name).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			next = 1
			_, err = tx.ExecContext(ctx, s.q(`INSERT INTO counters (name, value) VALUES (?, ?)`), name, "1")
			return err
		case err != nil:
			return err
		}
		cur, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if perr != nil || cur < 0 {
			return fmt.Errorf("corrupt counter %s: %q", name, raw)
		}
		next = cur + 1
		_, err = tx.ExecContext(ctx, s.q(`UPDATE counters SET value = ? WHERE name = ?`), strconv.FormatInt(next, 10), name)
		return err
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLStore) Ledger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error) {
	query := "SELECT seq, ts, incident_id, text FROM ledger"
	var args []interface{}
	if f.IncidentID != "" {
		query += " WHERE incident_id = ?"
		args = append(args, f.IncidentID)
	}
	if f.NewestFirst {
		query += " ORDER BY seq DESC"
	} else {
		query += " ORDER BY seq ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, persistErr("read ledger", err)
	}
	defer rows.Close()
	var res []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var ts int64
		if err := rows.Scan(&e.Seq, &ts, &e.IncidentID, &e.Text); err != nil {
			return nil, persistErr("read ledger", err)
		}
		e.Time = time.Unix(0, ts).UTC()
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("read ledger", err)
	}
	return res, nil
}

func (s *SQLStore) appendLedger(ctx context.Context, tx *sql.Tx, id, text string, at time.Time) error {
	if text == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO ledger (ts, incident_id, text) VALUES (?, ?, ?)`),
		at.UnixNano(), id, text)
	return err
}

var errRollback = errors.New("rollback")

// inTx runs fn in a transaction. fn returning errRollback rolls back without
// reporting an error; ErrNotFound passes through, other failures become
// *PersistenceError.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, errRollback) {
			return nil
		}
		return persistErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr(op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var source, severity, status, notes string
	var created, updated int64
	if err := row.Scan(&inc.ID, &source, &severity, &inc.Description, &status, &created,
		&inc.AssignedTo, &notes, &inc.Detector, &inc.Fingerprint, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	inc.Source = events.Source(source)
	inc.Severity = Severity(severity)
	inc.Status = Status(status)
	inc.CreatedAt = time.Unix(0, created).UTC()
	inc.UpdatedAt = time.Unix(0, updated).UTC()
	inc.Notes = []Note{}
	if notes != "" {
		if err := json.Unmarshal([]byte(notes), &inc.Notes); err != nil {
			return nil, fmt.Errorf("decode notes of %s: %w", inc.ID, err)
		}
	}
	return &inc, nil
}
