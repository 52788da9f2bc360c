package surge

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/platform/auth"
)

// CityLookup resolves the city of a patient's hospital.
type CityLookup interface {
	CityOf(ctx context.Context, userID int64) (string, error)
}

type Handler struct {
	svc         *Service
	cities      CityLookup
	defaultCity string
}

func NewHandler(svc *Service, cities CityLookup, defaultCity string) *Handler {
	return &Handler{svc: svc, cities: cities, defaultCity: defaultCity}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/surge", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	g.GET("/today", h.Today)
	g.GET("/forecast", h.Forecast)
	g.GET("/patient/:id", h.Patient)

	admin := api.Group("/surge", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/run", h.Run)
}

func (h *Handler) city(c echo.Context) string {
	if v := c.QueryParam("city"); v != "" {
		return v
	}
	return h.defaultCity
}

func (h *Handler) Today(c echo.Context) error {
	alert, err := h.svc.TodayAlert(c.Request().Context(), h.city(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, alert)
}

func (h *Handler) Forecast(c echo.Context) error {
	days := 7
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid days")
		}
		days = n
	}
	preds, err := h.svc.Forecast(c.Request().Context(), h.city(c), days)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, preds)
}

// Patient grades today's surge for the city of the patient's hospital,
// falling back to the city query parameter.
func (h *Handler) Patient(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if p.Role == auth.RolePatient && p.UserID != id {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}

	city := h.city(c)
	if h.cities != nil {
		if resolved, err := h.cities.CityOf(c.Request().Context(), id); err == nil && resolved != "" {
			city = resolved
		}
	}
	alert, err := h.svc.TodayAlert(c.Request().Context(), city)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, alert)
}

func (h *Handler) Run(c echo.Context) error {
	summary, err := h.svc.Compute(c.Request().Context(), h.city(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func mapError(err error) error {
	var verrs validation.Errors
	var verr validation.Error
	if errors.As(err, &verrs) || errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
