package consultation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-process Repository and db.TxRunner used by tests of
// this package and of the agent.
type MemoryRepo struct {
	tx       sync.Mutex
	mu       sync.Mutex
	items    map[int64]*Consultation
	messages []*Message
	nextID   int64
	nextMsg  int64
	clock    time.Time

	// FailAppend makes AppendMessage fail for the given role.
	FailAppend map[string]error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items: make(map[int64]*Consultation),
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing timestamps so transcript order is stable.
func (m *MemoryRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *MemoryRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()
	return fn(ctx)
}

func copyConsultation(c *Consultation) *Consultation {
	cp := *c
	if c.RiskAssessment != nil {
		ra := *c.RiskAssessment
		cp.RiskAssessment = &ra
	}
	return &cp
}

func (m *MemoryRepo) Create(_ context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = m.tick()
	c.UpdatedAt = c.CreatedAt
	m.items[c.ID] = copyConsultation(c)
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, id int64) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConsultation(c), nil
}

func (m *MemoryRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Consultation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Consultation
	for _, c := range m.items {
		if f.PatientID != nil && c.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && (c.DoctorID == nil || *c.DoctorID != *f.DoctorID) {
			continue
		}
		all = append(all, copyConsultation(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
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

func (m *MemoryRepo) mutate(id int64, fn func(c *Consultation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.UpdatedAt = m.tick()
	return nil
}

func (m *MemoryRepo) Update(_ context.Context, c *Consultation) error {
	return m.mutate(c.ID, func(stored *Consultation) {
		stored.Status = c.Status
		stored.DoctorID = c.DoctorID
		stored.AISummary = c.AISummary
	})
}

func (m *MemoryRepo) SetStatus(_ context.Context, id int64, status string) error {
	return m.mutate(id, func(c *Consultation) { c.Status = status })
}

func (m *MemoryRepo) SetRiskAssessment(_ context.Context, id int64, ra *RiskAssessment) error {
	return m.mutate(id, func(c *Consultation) {
		cp := *ra
		c.RiskAssessment = &cp
	})
}

func (m *MemoryRepo) AssignDoctorIfUnset(_ context.Context, id, doctorID int64, status string) (bool, error) {
	changed := false
	err := m.mutate(id, func(c *Consultation) {
		if c.DoctorID == nil {
			c.DoctorID = &doctorID
			c.Status = status
			changed = true
		}
	})
	return changed, err
}

func (m *MemoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConsultationID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *MemoryRepo) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validMessageRole(msg.Role) {
		return ErrInvalidRole
	}
	if err := m.FailAppend[msg.Role]; err != nil {
		return err
	}
	if _, ok := m.items[msg.ConsultationID]; !ok {
		return ErrNotFound
	}
	if len(msg.Metadata) == 0 {
		msg.Metadata = json.RawMessage(`{}`)
	}
	m.nextMsg++
	msg.ID = m.nextMsg
	msg.CreatedAt = m.tick()
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *MemoryRepo) ListMessages(_ context.Context, consultationID int64) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.messages {
		if msg.ConsultationID == consultationID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}
