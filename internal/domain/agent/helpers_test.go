package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/documents"
	"github.com/aura/aura/internal/domain/identity"
	"github.com/aura/aura/internal/domain/scheduling"
	"github.com/aura/aura/internal/platform/lock"
	"github.com/aura/aura/internal/platform/llm"
)

var testNow = time.Date(2025, 11, 29, 8, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

type fakeDirectory struct {
	users map[int64]*identity.User
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[int64]*identity.User{
		3: {ID: 3, FullName: "Dr. Asha Rao", Email: "asha@aura.test", Role: identity.RoleDoctor, HospitalID: int64p(1)},
		4: {ID: 4, FullName: "Vikram Shah", Email: "vikram@aura.test", Role: identity.RoleDoctor, HospitalID: int64p(2)},
		5: {ID: 5, FullName: "Meera Patient", Email: "meera@aura.test", Role: identity.RolePatient, HospitalID: int64p(1)},
		6: {ID: 6, FullName: "Ravi Patient", Email: "ravi@aura.test", Role: identity.RolePatient},
	}}
}

func (f *fakeDirectory) GetUser(_ context.Context, id int64) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) ListDoctors(_ context.Context, hospitalID *int64) ([]*identity.User, error) {
	var out []*identity.User
	for _, u := range f.users {
		if u.Role != identity.RoleDoctor {
			continue
		}
		if hospitalID != nil && (u.HospitalID == nil || *u.HospitalID != *hospitalID) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDirectory) FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*identity.User, error) {
	docs, _ := f.ListDoctors(ctx, &hospitalID)
	if len(docs) == 0 {
		return nil, identity.ErrNotFound
	}
	return docs[0], nil
}

type fakeHistory struct {
	docs []*documents.Document
}

func (f *fakeHistory) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]*documents.Document, int, error) {
	var out []*documents.Document
	for _, d := range f.docs {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

// scriptedPolicy answers with steps in order and records every request.
// Once the script runs out it replies "Done.".
type scriptedPolicy struct {
	mu       sync.Mutex
	steps    []func(req llm.Request) (*llm.Response, error)
	requests []llm.Request
}

func (p *scriptedPolicy) Decide(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if i >= len(p.steps) {
		return &llm.Response{Text: "Done."}, nil
	}
	return p.steps[i](req)
}

func (p *scriptedPolicy) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func callTool(name, args string) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}}}, nil
	}
}

func reply(text string) func(llm.Request) (*llm.Response, error) {
	return func(llm.Request) (*llm.Response, error) { return &llm.Response{Text: text}, nil }
}

type testEnv struct {
	svc    *Service
	cons   *consultation.MemoryRepo
	appts  *scheduling.MemoryRepo
	engine *scheduling.Engine
	dir    *fakeDirectory
}

func newTestEnv(t *testing.T, policy llm.Policy, maxRounds int) *testEnv {
	t.Helper()
	cons := consultation.NewMemoryRepo()
	appts := scheduling.NewMemoryRepo()
	engine := scheduling.NewEngine(appts, appts, scheduling.DefaultCalendar(time.UTC), nil, zerolog.Nop()).
		WithClock(func() time.Time { return testNow })
	dir := newFakeDirectory()
	history := &fakeHistory{docs: []*documents.Document{{ID: 1, PatientID: 5, Name: "ecg.pdf", CreatedAt: testNow}}}

	svc := NewService(
		Config{MaxToolRounds: maxRounds, PolicyTimeout: time.Second, Location: time.UTC},
		policy,
		ToolDeps{Consultations: cons, Directory: dir, Scheduler: engine, History: history, Logger: zerolog.Nop()},
		cons,
		lock.NewLocalLocker(),
		zerolog.Nop(),
	).WithClock(func() time.Time { return testNow })
	return &testEnv{svc: svc, cons: cons, appts: appts, engine: engine, dir: dir}
}

// consultationFor creates consultations until one with the wanted id exists.
func (e *testEnv) consultationFor(t *testing.T, patientID, wantID int64) *consultation.Consultation {
	t.Helper()
	for {
		c := &consultation.Consultation{PatientID: patientID, Status: consultation.StatusPending}
		require.NoError(t, e.cons.Create(context.Background(), c))
		if c.ID >= wantID {
			return c
		}
	}
}

func decodeResult(t *testing.T, rec consultation.ToolCallRecord) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Result, &out))
	return out
}

type failingHistory struct{}

func (failingHistory) ListByPatient(context.Context, int64, int, int) ([]*documents.Document, int, error) {
	return nil, 0, errors.New("connection reset")
}
