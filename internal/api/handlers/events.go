package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/events"
)

const eventWriteTimeout = 5 * time.Second

type EventHandler struct {
	broker *events.Broker
	log    *slog.Logger
}

func NewEventHandler(broker *events.Broker, log *slog.Logger) *EventHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EventHandler{broker: broker, log: log.With("component", "events")}
}

// Stream upgrades to a WebSocket and writes every matching event as a JSON
// message until the client goes away. Optional query parameters: printer,
// and type (repeatable).
func (h *EventHandler) Stream(c *gin.Context) {
	filter := events.Filter{Printer: c.Query("printer")}
	for _, t := range c.QueryArray("type") {
		et := core.EventType(t)
		if !et.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_event", Message: "Invalid event type: " + t})
			return
		}
		filter.Types = append(filter.Types, et)
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	ch, unsubscribe := h.broker.Subscribe(filter)
	defer unsubscribe()

	ctx := conn.CloseRead(c.Request.Context())
	h.log.Debug("event subscriber connected", "remote", c.ClientIP(), "printer", filter.Printer)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				h.log.Debug("event subscriber gone", "error", err)
				return
			}
		}
	}
}

func (h *EventHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.Stream)
}
