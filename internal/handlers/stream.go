package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/moodlens/moodlens/internal/event"
	"github.com/moodlens/moodlens/internal/panels"
)

const streamWriteTimeout = 10 * time.Second

// StreamHandler pushes live panel snapshots to the embedding host over a
// websocket.
type StreamHandler struct {
	logger   *slog.Logger
	hub      *event.Hub
	service  *panels.Service
	upgrader websocket.Upgrader
}

func NewStreamHandler(log *slog.Logger, hub *event.Hub, service *panels.Service) *StreamHandler {
	return &StreamHandler{
		logger:  log.With(slog.String("handler", "stream")),
		hub:     hub,
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The embedding host decides its own origin policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) Register(e *echo.Echo) {
	e.GET("/panels/:session/stream", h.Stream)
}

// Stream upgrades to a websocket and forwards panel snapshots for one
// session until the client disconnects.
func (h *StreamHandler) Stream(c echo.Context) error {
	sessionID := c.Param("session")

	updates := make(chan any, 16)
	sub, err := h.hub.Subscribe(event.ChannelPanelUpdated, func(_ context.Context, ev event.Event) {
		if ev.SessionID != sessionID {
			return
		}
		select {
		case updates <- ev.Data:
		default:
			// A slow client misses intermediate snapshots; the last
			// analysis result wins anyway.
		}
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event hub not ready")
	}
	defer sub.Cancel()

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Reader goroutine: only there to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Current snapshot first, then live updates.
	if err := h.write(conn, h.service.Snapshot(c.Request().Context(), sessionID)); err != nil {
		return nil
	}
	for {
		select {
		case <-done:
			return nil
		case snap := <-updates:
			if err := h.write(conn, snap); err != nil {
				return nil
			}
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, payload any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(payload)
}
