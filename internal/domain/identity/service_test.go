package identity

import (
	"context"
	"sort"
	"testing"
	"time"
)

// -- Mock Repository --

type mockRepo struct {
	users     map[int64]*User
	hospitals map[int64]*Hospital
	nextID    int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[int64]*User), hospitals: make(map[int64]*Hospital)}
}

func (m *mockRepo) GetUser(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *mockRepo) CreateUser(_ context.Context, u *User) error {
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	m.users[u.ID] = u
	return nil
}

func (m *mockRepo) ListDoctors(_ context.Context, hospitalID *int64) ([]*User, error) {
	var out []*User
	for _, u := range m.users {
		if u.Role != RoleDoctor {
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

func (m *mockRepo) FirstDoctorInHospital(ctx context.Context, hospitalID int64) (*User, error) {
	docs, _ := m.ListDoctors(ctx, &hospitalID)
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (m *mockRepo) CreateHospital(_ context.Context, h *Hospital) error {
	m.nextID++
	h.ID = m.nextID
	m.hospitals[h.ID] = h
	return nil
}

func (m *mockRepo) GetHospital(_ context.Context, id int64) (*Hospital, error) {
	h, ok := m.hospitals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (m *mockRepo) ListHospitals(_ context.Context, limit, offset int) ([]*Hospital, int, error) {
	var out []*Hospital
	for _, h := range m.hospitals {
		out = append(out, h)
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func TestCreateHospital_Validation(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.CreateHospital(context.Background(), &Hospital{Name: "AIIMS"}); err == nil {
		t.Error("expected error for missing city")
	}
	h := &Hospital{Name: "AIIMS", City: "Delhi"}
	if err := svc.CreateHospital(context.Background(), h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ID == 0 {
		t.Error("expected ID to be assigned")
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		user User
	}{
		{"missing email", User{FullName: "A", Role: RolePatient}},
		{"bad email", User{Email: "nope", FullName: "A", Role: RolePatient}},
		{"bad role", User{Email: "a@b.test", FullName: "A", Role: "nurse"}},
		{"unknown hospital", User{Email: "a@b.test", FullName: "A", Role: RoleDoctor, HospitalID: ptr(99)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			if err := svc.CreateUser(context.Background(), &u); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func ptr(v int64) *int64 { return &v }

func TestFirstDoctorInHospital(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	h1 := &Hospital{Name: "North", City: "Delhi"}
	h2 := &Hospital{Name: "South", City: "Delhi"}
	svc.CreateHospital(ctx, h1)
	svc.CreateHospital(ctx, h2)

	d1 := &User{Email: "d1@x.test", FullName: "Dr One", Role: RoleDoctor, HospitalID: &h1.ID}
	d2 := &User{Email: "d2@x.test", FullName: "Dr Two", Role: RoleDoctor, HospitalID: &h1.ID}
	if err := svc.CreateUser(ctx, d1); err != nil {
		t.Fatalf("create d1: %v", err)
	}
	if err := svc.CreateUser(ctx, d2); err != nil {
		t.Fatalf("create d2: %v", err)
	}

	got, err := svc.FirstDoctorInHospital(ctx, h1.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != d1.ID {
		t.Errorf("expected doctor %d, got %d", d1.ID, got.ID)
	}
	if _, err := svc.FirstDoctorInHospital(ctx, h2.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for empty hospital, got %v", err)
	}

	all, _ := svc.ListDoctors(ctx, nil)
	if len(all) != 2 {
		t.Errorf("expected 2 doctors, got %d", len(all))
	}
}

func TestCityOf(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	h := &Hospital{Name: "North", City: "Mumbai"}
	svc.CreateHospital(ctx, h)
	withHospital := &User{Email: "p1@x.test", FullName: "P One", Role: RolePatient, HospitalID: &h.ID}
	without := &User{Email: "p2@x.test", FullName: "P Two", Role: RolePatient}
	svc.CreateUser(ctx, withHospital)
	svc.CreateUser(ctx, without)

	city, err := svc.CityOf(ctx, withHospital.ID)
	if err != nil || city != "Mumbai" {
		t.Fatalf("CityOf() = %q, %v; want Mumbai", city, err)
	}
	if _, err := svc.CityOf(ctx, without.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for user without hospital, got %v", err)
	}
	if _, err := svc.CityOf(ctx, 999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}
