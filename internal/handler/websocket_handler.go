package handler

import (
	"net/http"
	"strconv"
	"strings"

	ws "github.com/gorilla/websocket"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub            *websocket.Hub
	allowedOrigins map[string]bool
	upgrader       ws.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *websocket.Hub, allowedOrigins []string) *WebSocketHandler {
	// Build origin lookup map
	originMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		originMap[origin] = true
	}

	h := &WebSocketHandler{
		hub:            hub,
		allowedOrigins: originMap,
	}

	h.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the request origin against allowed origins
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Allow requests with no Origin header (e.g., same-origin or non-browser clients)
		return true
	}

	if h.allowedOrigins[origin] {
		return true
	}

	log.Warn().
		Str("origin", origin).
		Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// HandleWS handles WebSocket connection requests at GET /ws.
// billingGroupId may be repeated or comma separated to receive only those groups' events.
func (h *WebSocketHandler) HandleWS(c echo.Context) error {
	groupIDs, err := parseGroupIDs(c.QueryParams()["billingGroupId"])
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket connection rejected: invalid billing group filter")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid billingGroupId")
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return err
	}

	// Create client and register with hub
	client := websocket.NewClient(conn, h.hub, groupIDs...)
	h.hub.Register(client)

	log.Info().
		Str("client_id", client.ID()).
		Interface("billing_group_ids", groupIDs).
		Msg("WebSocket client connected")

	// Start read/write pumps in goroutines
	go client.WritePump()
	go client.ReadPump()

	return nil
}

func parseGroupIDs(values []string) ([]int32, error) {
	var ids []int32
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				return nil, err
			}
			ids = append(ids, int32(id))
		}
	}
	return ids, nil
}
