package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/platform/auth"
)

func withPrincipal(req *http.Request, id int64, role string) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: id, Role: role}))
}

func TestHandler_Create_PatientBooksForSelf(t *testing.T) {
	engine, repo, _ := newTestEngine()
	h, e := NewHandler(engine), echo.New()

	body := `{"patient_id":42,"doctor_id":3,"start_time":"2025-11-30T10:00:00Z","mode":"inperson"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withPrincipal(req, 7, auth.RolePatient)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	stored, err := repo.GetByID(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if stored.PatientID != 7 || stored.Mode != ModeInPerson {
		t.Errorf("unexpected stored appointment %+v", stored)
	}
}

func TestHandler_Create_Conflict(t *testing.T) {
	engine, repo, _ := newTestEngine()
	seed(t, repo, &Appointment{PatientID: 1, DoctorID: int64p(3), StartTime: at(30, 10, 0)})
	h, e := NewHandler(engine), echo.New()

	body := `{"doctor_id":3,"start_time":"2025-11-30T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withPrincipal(req, 7, auth.RolePatient)

	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Availability(t *testing.T) {
	engine, repo, _ := newTestEngine()
	seed(t, repo, &Appointment{PatientID: 1, DoctorID: int64p(3), StartTime: at(30, 10, 0)})
	h, e := NewHandler(engine), echo.New()

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/?date=2025-11-30", nil), 7, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("3")

	if err := h.Availability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Slots []Slot `json:"available_slots"`
		Total int    `json:"total_slots"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Slots) != 10 || resp.Total != 15 {
		t.Errorf("expected 10 of 15 slots, got %d of %d", len(resp.Slots), resp.Total)
	}
}

func TestHandler_Availability_BadDate(t *testing.T) {
	engine, _, _ := newTestEngine()
	h, e := NewHandler(engine), echo.New()

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/?date=tomorrow", nil), 7, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("3")
	if err := h.Availability(c); err == nil {
		t.Error("expected bad request")
	}
}

func TestHandler_Get_HidesOtherPatients(t *testing.T) {
	engine, repo, _ := newTestEngine()
	seed(t, repo, &Appointment{PatientID: 1, DoctorID: int64p(3), StartTime: at(30, 10, 0)})
	h, e := NewHandler(engine), echo.New()

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), 7, auth.RolePatient)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("1")
	err := h.Get(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another patient's appointment, got %v", err)
	}
}

func TestHandler_List_ScopedToDoctor(t *testing.T) {
	engine, repo, _ := newTestEngine()
	seed(t, repo, &Appointment{PatientID: 1, DoctorID: int64p(3), StartTime: at(30, 10, 0)})
	seed(t, repo, &Appointment{PatientID: 2, DoctorID: int64p(4), StartTime: at(30, 10, 0)})
	h, e := NewHandler(engine), echo.New()

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), 3, auth.RoleDoctor)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 appointment for doctor 3, got %d", resp.Total)
	}
}
