package incidents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store used by tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	counters  map[string]int64
	ledger    []LedgerEntry
	Now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]*Incident),
		counters:  make(map[string]int64),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryStore) Create(ctx context.Context, inc *Incident, ledgerText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; ok {
		return &PersistenceError{Op: "create", Err: fmt.Errorf("incident %s already exists", inc.ID)}
	}
	if inc.Status == "" {
		inc.Status = StatusOpen
	}
	if inc.Notes == nil {
		inc.Notes = []Note{}
	}
	inc.UpdatedAt = s.now()
	s.incidents[inc.ID] = cloneIncident(inc)
	s.appendLedger(inc.ID, ledgerText)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIncident(inc), nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []Incident
	for _, inc := range s.incidents {
		if f.matches(inc) {
			res = append(res, *cloneIncident(inc))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := cloneIncident(cur)
	text, err := fn(work)
	if errors.Is(err, ErrUnchanged) {
		return cloneIncident(cur), nil
	}
	if err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now()
	s.incidents[id] = work
	s.appendLedger(id, text)
	return cloneIncident(work), nil
}

func (s *MemoryStore) HasDuplicate(ctx context.Context, q DedupQuery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inc := range s.incidents {
		if q.matches(inc) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) NextSequence(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *MemoryStore) Ledger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []LedgerEntry
	for _, e := range s.ledger {
		if f.IncidentID == "" || e.IncidentID == f.IncidentID {
			res = append(res, e)
		}
	}
	if f.NewestFirst {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *MemoryStore) appendLedger(id, text string) {
	if text == "" {
		return
	}
	s.ledger = append(s.ledger, LedgerEntry{
		Seq:        int64(len(s.ledger) + 1),
		Time:       s.now(),
		IncidentID: id,
		Text:       text,
	})
}
