package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	g.GET("/appointments", h.List)
	g.GET("/appointments/:id", h.Get)
	g.POST("/appointments", h.Create)
	g.GET("/doctors/:id/availability", h.Availability)
}

type createRequest struct {
	PatientID      int64     `json:"patient_id"`
	DoctorID       *int64    `json:"doctor_id"`
	ConsultationID *int64    `json:"consultation_id"`
	StartTime      time.Time `json:"start_time"`
	Mode           Mode      `json:"mode"`
	ExternalLink   *string   `json:"external_link"`
}

// scope restricts listings to the caller's own appointments unless admin.
func scope(p auth.Principal) Filter {
	id := p.UserID
	switch p.Role {
	case auth.RolePatient:
		return Filter{PatientID: &id}
	case auth.RoleDoctor:
		return Filter{DoctorID: &id}
	}
	return Filter{}
}

func visible(p auth.Principal, a *Appointment) bool {
	switch p.Role {
	case auth.RolePatient:
		return a.PatientID == p.UserID
	case auth.RoleDoctor:
		return a.DoctorID != nil && *a.DoctorID == p.UserID
	}
	return true
}

func (h *Handler) List(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.engine.List(c.Request().Context(), scope(p), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.engine.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if !visible(p, a) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Create(c echo.Context) error {
	var body createRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if p.Role == auth.RolePatient {
		body.PatientID = p.UserID
	}
	if body.Mode == "" {
		body.Mode = ModeOnline
	}

	a, err := h.engine.Book(c.Request().Context(), BookRequest{
		PatientID:      body.PatientID,
		DoctorID:       body.DoctorID,
		ConsultationID: body.ConsultationID,
		Start:          body.StartTime,
		Mode:           body.Mode,
		ExternalLink:   body.ExternalLink,
	})
	var ce *ConflictError
	switch {
	case errors.As(err, &ce):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"error":          "scheduling_conflict",
			"conflict_count": ce.Count,
		})
	case errors.Is(err, ErrPastStart), errors.Is(err, ErrOutsideHours), errors.Is(err, ErrMisaligned):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

// Availability serves GET /doctors/:id/availability?date=YYYY-MM-DD.
func (h *Handler) Availability(c echo.Context) error {
	doctorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	cal := h.engine.Calendar()
	day, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), cal.Location)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	slots, total, err := h.engine.EnumerateSlots(c.Request().Context(), doctorID, day)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id":       doctorID,
		"date":            day.Format("2006-01-02"),
		"available_slots": slots,
		"total_slots":     total,
	})
}
