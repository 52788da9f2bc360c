package documents

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	g.GET("/documents", h.List)
	g.POST("/documents", h.Create)
}

// resolvePatient lets patients act only on themselves; doctors and admins
// must name the patient.
func resolvePatient(c echo.Context, raw string) (int64, error) {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if p.Role == auth.RolePatient {
		return p.UserID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := resolvePatient(c, c.QueryParam("patient_id"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Create(c echo.Context) error {
	var d Document
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patientID, err := resolvePatient(c, strconv.FormatInt(d.PatientID, 10))
	if err != nil {
		return err
	}
	d.PatientID = patientID
	if err := h.svc.Create(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}
