package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository and db.TxRunner. InTx holds one
// mutex for the whole unit of work, which gives the same check-then-insert
// atomicity the advisory locks give in PostgreSQL. Create also enforces the
// (doctor, start) uniqueness guard.
type MemoryRepo struct {
	tx     sync.Mutex
	mu     sync.Mutex
	items  map[int64]*Appointment
	nextID int64
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[int64]*Appointment)}
}

func (m *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()
	return fn(ctx)
}

func (m *MemoryRepo) matches(f Filter, a *Appointment) bool {
	if f.empty() {
		return true
	}
	if f.DoctorID != nil && a.DoctorID != nil && *a.DoctorID == *f.DoctorID {
		return true
	}
	return f.PatientID != nil && a.PatientID == *f.PatientID
}

func (m *MemoryRepo) sorted(f Filter, keep func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if m.matches(f, a) && keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryRepo) ListStartingBetween(_ context.Context, f Filter, from, to time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(f, func(a *Appointment) bool {
		return !a.StartTime.Before(from) && a.StartTime.Before(to)
	}), nil
}

func (m *MemoryRepo) LockParticipants(context.Context, Filter) error { return nil }

func (m *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.DoctorID != nil {
		for _, existing := range m.items {
			if existing.DoctorID != nil && *existing.DoctorID == *a.DoctorID && existing.StartTime.Equal(a.StartTime) {
				return ErrDuplicateSlot
			}
		}
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(f, func(*Appointment) bool { return true })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}
