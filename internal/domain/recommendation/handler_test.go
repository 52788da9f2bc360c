package recommendation

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

func adminContext(e *echo.Echo, method, target, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: 1, Role: auth.RoleAdmin}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func httpCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestHandler_Create_UsesPathHospital(t *testing.T) {
	svc, repo, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	c, rec := adminContext(e, http.MethodPost, "/", `{"hospital_id":99,"title":"Extra OPD counter","description":"Festival week","priority":"high"}`, "2")
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Recommendation
	json.Unmarshal(rec.Body.Bytes(), &got)
	stored, err := repo.Get(context.Background(), got.ID)
	if err != nil || stored.HospitalID != 2 {
		t.Errorf("expected hospital 2 from the path, got %+v (%v)", stored, err)
	}

	c, _ = adminContext(e, http.MethodPost, "/", `{"title":"no description"}`, "2")
	if code := httpCode(h.Create(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_List_SeedsAndFilters(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	c, rec := adminContext(e, http.MethodGet, "/?priority=critical", "", "1")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Recommendation
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 2 {
		t.Fatalf("expected 2 critical recommendations, got %d", len(items))
	}
	for _, it := range items {
		if it.Priority != PriorityCritical {
			t.Errorf("unexpected priority %s", it.Priority)
		}
	}
}

func TestHandler_NotFoundAndDelete(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	c, _ := adminContext(e, http.MethodGet, "/", "", "42")
	if code := httpCode(h.Get(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	c, _ = adminContext(e, http.MethodGet, "/", "", "abc")
	if code := httpCode(h.Get(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	r := &Recommendation{HospitalID: 2, Title: "t", Description: "d"}
	svc.Create(context.Background(), r)
	c, rec := adminContext(e, http.MethodDelete, "/", "", "1")
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	c, _ = adminContext(e, http.MethodDelete, "/", "", "1")
	if code := httpCode(h.Delete(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", code)
	}
}

func TestHandler_Stats(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	c, rec := adminContext(echo.New(), http.MethodGet, "/", "", "2")
	if err := h.Stats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s Stats
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.Total != 0 {
		t.Errorf("expected empty stats, got %+v", s)
	}
}
