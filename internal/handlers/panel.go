package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moodlens/moodlens/internal/panel"
	"github.com/moodlens/moodlens/internal/panels"
)

// PanelHandler exposes the panel state and operations to the embedding
// host.
type PanelHandler struct {
	logger  *slog.Logger
	service *panels.Service
}

func NewPanelHandler(log *slog.Logger, service *panels.Service) *PanelHandler {
	return &PanelHandler{
		logger:  log.With(slog.String("handler", "panel")),
		service: service,
	}
}

func (h *PanelHandler) Register(e *echo.Echo) {
	e.GET("/panels/:session", h.Get)
	e.GET("/panels/:session/config", h.GetConfig)
	e.PUT("/panels/:session/config", h.PutConfig)
	e.POST("/panels/:session/messages", h.PostMessage)
	e.POST("/panels/:session/simulate", h.Simulate)
	e.POST("/panels/:session/end", h.End)
	e.POST("/panels/:session/calculate", h.Calculate)
}

type messageRequest struct {
	Author string `json:"author"`
	Text   string `json:"text" validate:"required"`
}

type configRequest struct {
	CalculateEveryMessage bool `json:"calculate_every_message"`
	CalculateOnSessionEnd bool `json:"calculate_on_session_end"`
	ShowCalculateButton   bool `json:"show_calculate_button"`
}

// Get returns the panel snapshot for a session.
func (h *PanelHandler) Get(c echo.Context) error {
	snap := h.service.Snapshot(c.Request().Context(), c.Param("session"))
	return c.JSON(http.StatusOK, snap)
}

// GetConfig returns the effective trigger configuration.
func (h *PanelHandler) GetConfig(c echo.Context) error {
	snap := h.service.Snapshot(c.Request().Context(), c.Param("session"))
	return c.JSON(http.StatusOK, snap.Config)
}

// PutConfig replaces the trigger configuration wholesale.
func (h *PanelHandler) PutConfig(c echo.Context) error {
	var req configRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg := panel.Config{
		CalculateEveryMessage: req.CalculateEveryMessage,
		CalculateOnSessionEnd: req.CalculateOnSessionEnd,
		ShowCalculateButton:   req.ShowCalculateButton,
	}
	if err := h.service.UpdateConfig(c.Request().Context(), c.Param("session"), cfg); err != nil {
		h.logger.Warn("config update failed", slog.String("session_id", c.Param("session")), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "config update failed")
	}
	return c.JSON(http.StatusOK, cfg)
}

// PostMessage records a real inbound conversation message and publishes it
// to the panel.
func (h *PanelHandler) PostMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := h.service.IngestMessage(c.Request().Context(), c.Param("session"), req.Author, req.Text); err != nil {
		h.logger.Warn("message ingest failed", slog.String("session_id", c.Param("session")), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "message ingest failed")
	}
	return c.NoContent(http.StatusAccepted)
}

// Simulate injects a synthetic inbound message for manual testing.
func (h *PanelHandler) Simulate(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	h.service.SimulateMessage(c.Request().Context(), c.Param("session"), req.Text)
	return c.NoContent(http.StatusAccepted)
}

// End publishes the conversation-ended event.
func (h *PanelHandler) End(c echo.Context) error {
	h.service.EndSession(c.Request().Context(), c.Param("session"))
	return c.NoContent(http.StatusAccepted)
}

// Calculate forces analysis of the buffered conversation text.
func (h *PanelHandler) Calculate(c echo.Context) error {
	result, err := h.service.ManualCalculate(c.Request().Context(), c.Param("session"))
	if err != nil {
		if errors.Is(err, panel.ErrNoTranscript) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "calculation failed")
	}
	if result == nil {
		// The request was dropped by the single-flight guard.
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, result)
}
