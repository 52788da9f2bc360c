package agent

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	ai := api.Group("/ai")
	ai.POST("/chat", h.Chat, auth.RequireRole(auth.RolePatient))
	ai.POST("/summary", h.Summary, auth.RequireRole(auth.RoleDoctor))
	ai.POST("/doctor-command", h.DoctorCommand, auth.RequireRole(auth.RoleDoctor))
	ai.POST("/admin-query", h.AdminQuery, auth.RequireRole(auth.RoleAdmin))
}

type chatRequest struct {
	ConsultationID int64  `json:"consultation_id"`
	Message        string `json:"message"`
}

func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConsultationID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "consultation_id is required")
	}
	c.Set(middleware.ConsultationIDKey, req.ConsultationID)
	p, _ := auth.PrincipalFromContext(c.Request().Context())

	res, err := h.svc.ProcessTurn(c.Request().Context(), req.ConsultationID, p.UserID, req.Message)
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, consultation.ErrNotFound), errors.Is(err, ErrConsultationNotOwned):
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	case errors.Is(err, ErrTurnInProgress):
		return echo.NewHTTPError(http.StatusConflict, ErrTurnInProgress.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process message")
	}
	return c.JSON(http.StatusOK, res)
}

type summaryRequest struct {
	ConsultationID int64 `json:"consultation_id"`
}

func (h *Handler) Summary(c echo.Context) error {
	var req summaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConsultationID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "consultation_id is required")
	}
	c.Set(middleware.ConsultationIDKey, req.ConsultationID)
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	sum, err := h.svc.Summarize(c.Request().Context(), req.ConsultationID, p)
	if err != nil {
		return assistantError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

type commandRequest struct {
	ConsultationID int64  `json:"consultation_id"`
	Command        string `json:"command"`
}

func (h *Handler) DoctorCommand(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConsultationID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "consultation_id is required")
	}
	c.Set(middleware.ConsultationIDKey, req.ConsultationID)
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	res, err := h.svc.DoctorCommand(c.Request().Context(), req.ConsultationID, p, req.Command)
	if err != nil {
		return assistantError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type adminQueryRequest struct {
	Query string `json:"query"`
}

func (h *Handler) AdminQuery(c echo.Context) error {
	var req adminQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	res, err := h.svc.AdminQuery(c.Request().Context(), req.Query, p.HospitalID)
	if err != nil {
		return assistantError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func assistantError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, consultation.ErrNotFound), errors.Is(err, ErrConsultationNotOwned):
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	case errors.Is(err, ErrTurnInProgress):
		return echo.NewHTTPError(http.StatusConflict, ErrTurnInProgress.Error())
	case errors.Is(err, ErrAssistantUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrAssistantUnavailable.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "request failed")
}
