package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name   string
		target string
		limit  int
		offset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"over max", "/?limit=500", MaxLimit, 0},
		{"negative", "/?limit=-3&offset=-7", DefaultLimit, 0},
		{"garbage", "/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FromContext(newContext(tt.target))
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.limit, tt.offset)
			}
		})
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse([]int{}, 25, 10, 10); !r.HasMore {
		t.Error("expected more results after offset 10 of 25")
	}
	if r := NewResponse([]int{}, 25, 10, 20); r.HasMore {
		t.Error("expected last page at offset 20 of 25")
	}
}

func TestPreviousOffset(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected clamp to 0, got %d", got)
	}
	if got := (Params{Limit: 10, Offset: 30}).PreviousOffset(); got != 20 {
		t.Errorf("expected 20, got %d", got)
	}
}

func TestWithLinks(t *testing.T) {
	c := newContext("/api/v1/appointments?status=pending&limit=10&offset=10")
	r := NewResponse([]int{}, 25, 10, 10).WithLinks(c)
	if r.Links == nil {
		t.Fatal("expected links")
	}
	if r.Links.Next != "/api/v1/appointments?limit=10&offset=20&status=pending" {
		t.Errorf("unexpected next link %q", r.Links.Next)
	}
	if r.Links.Previous != "/api/v1/appointments?limit=10&offset=0&status=pending" {
		t.Errorf("unexpected previous link %q", r.Links.Previous)
	}
}

func TestWithLinks_SinglePage(t *testing.T) {
	r := NewResponse([]int{}, 3, 20, 0).WithLinks(newContext("/api/v1/consultations"))
	if r.Links != nil {
		t.Errorf("expected no links for a single page, got %+v", r.Links)
	}
}
