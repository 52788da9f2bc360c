package consultation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/internal/platform/middleware"
	"github.com/aura/aura/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/consultations", h.List)
	read.GET("/consultations/:id", h.Get)
	read.GET("/consultations/:id/messages", h.Messages)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/consultations", h.Create)
	patient.DELETE("/consultations/:id", h.Delete)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.PATCH("/consultations/:id", h.Update)
	doctor.POST("/consultations/:id/messages", h.PostMessage)
}

// CanAccess reports whether p may read c. Doctors see consultations assigned
// to them and unassigned ones waiting for a doctor.
func CanAccess(p auth.Principal, c *Consultation) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return c.PatientID == p.UserID
	case auth.RoleDoctor:
		return c.DoctorID == nil || *c.DoctorID == p.UserID
	}
	return false
}

// load fetches the :id consultation and checks the caller may see it.
func (h *Handler) load(c echo.Context) (*Consultation, auth.Principal, error) {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, p, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	c.Set(middleware.ConsultationIDKey, id)
	cons, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return nil, p, echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}
	if err != nil {
		return nil, p, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !CanAccess(p, cons) {
		return nil, p, echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}
	return cons, p, nil
}

func (h *Handler) Create(c echo.Context) error {
	var cons Consultation
	if err := c.Bind(&cons); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if p.Role == auth.RolePatient {
		cons.PatientID = p.UserID
	}
	cons.Status = StatusPending
	cons.RiskAssessment = nil
	if err := h.svc.Create(c.Request().Context(), &cons); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) List(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	var f Filter
	id := p.UserID
	switch p.Role {
	case auth.RolePatient:
		f.PatientID = &id
	case auth.RoleDoctor:
		f.DoctorID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Consultation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) Get(c echo.Context) error {
	cons, _, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) Update(c echo.Context) error {
	cons, _, err := h.load(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), cons.ID, patch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Delete(c echo.Context) error {
	cons, _, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), cons.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Messages(c echo.Context) error {
	cons, _, err := h.load(c)
	if err != nil {
		return err
	}
	msgs, err := h.svc.Messages(c.Request().Context(), cons.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) PostMessage(c echo.Context) error {
	cons, p, err := h.load(c)
	if err != nil {
		return err
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.PostDoctorMessage(c.Request().Context(), cons.ID, p.UserID, body.Content)
	if errors.Is(err, ErrEmptyMessage) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}
