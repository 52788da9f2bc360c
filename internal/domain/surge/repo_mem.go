package surge

import (
	"context"
	"sort"
	"sync"
	"time"
)

type predKey struct{ city, date string }

// MemoryRepo is an in-process Repository for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	items  map[predKey]*Prediction
	nextID int64

	// Consultations is returned by CountConsultationsSince.
	Consultations int
	// Since records the last window start passed to CountConsultationsSince.
	Since time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[predKey]*Prediction)}
}

func (m *MemoryRepo) Upsert(_ context.Context, p *Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := predKey{p.City, p.DateString()}
	now := time.Now().UTC()
	if prev, ok := m.items[k]; ok {
		p.ID, p.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		m.nextID++
		p.ID, p.CreatedAt = m.nextID, now
	}
	p.UpdatedAt = now
	cp := *p
	m.items[k] = &cp
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, city string, date time.Time) (*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[predKey{city, date.Format(dateLayout)}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepo) ListRange(_ context.Context, city string, from, to time.Time) ([]*Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi := from.Format(dateLayout), to.Format(dateLayout)
	var out []*Prediction
	for k, p := range m.items {
		if k.city == city && k.date >= lo && k.date <= hi {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateString() < out[j].DateString() })
	return out, nil
}

// Len reports how many predictions are stored.
func (m *MemoryRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryRepo) CountConsultationsSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Since = since
	return m.Consultations, nil
}
