package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/custodia/cls/internal/server/websocket"
	"github.com/custodia/cls/pkg/config"
)

// WebSocketHandler upgrades status-stream connections and registers
// them with the hub. Clients only receive; inbound frames are drained
// to detect disconnects.
type WebSocketHandler struct {
	wsHub    *websocket.WsHub
	upgrader gws.Upgrader
}

func NewWebSocketHandler(wsHub *websocket.WsHub, cfg config.WebSocketConfig) *WebSocketHandler {
	readBuffer := cfg.ReadBufferSize
	if readBuffer == 0 {
		readBuffer = 1024
	}
	writeBuffer := cfg.WriteBufferSize
	if writeBuffer == 0 {
		writeBuffer = 1024
	}

	return &WebSocketHandler{
		wsHub: wsHub,
		upgrader: gws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return !cfg.CheckOrigin
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "user_id is required",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &websocket.WsClient{
		UserID: userID,
		Conn:   conn,
	}
	h.wsHub.Register <- client

	go func() {
		defer func() {
			h.wsHub.Unregister <- client
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
