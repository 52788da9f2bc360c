package recommendation

import (
	"errors"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/domain/identity"
	"github.com/aura/aura/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/hospitals/:id/recommendations", h.List)
	admin.GET("/hospitals/:id/recommendations/stats", h.Stats)
	admin.POST("/hospitals/:id/recommendations", h.Create)
	admin.GET("/recommendations/:id", h.Get)
	admin.PATCH("/recommendations/:id", h.Update)
	admin.DELETE("/recommendations/:id", h.Delete)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	hospitalID, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), hospitalID, Filter{
		Priority:   c.QueryParam("priority"),
		Category:   c.QueryParam("category"),
		Department: c.QueryParam("department"),
		Search:     c.QueryParam("search"),
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Stats(c echo.Context) error {
	hospitalID, err := pathID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), hospitalID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Create(c echo.Context) error {
	hospitalID, err := pathID(c)
	if err != nil {
		return err
	}
	var r Recommendation
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = 0
	r.HospitalID = hospitalID
	if err := h.svc.Create(c.Request().Context(), &r); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Update(c.Request().Context(), id, p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Recommendation deleted successfully"})
}

func mapError(err error) error {
	var verrs validation.Errors
	var verr validation.Error
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.As(err, &verrs), errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
