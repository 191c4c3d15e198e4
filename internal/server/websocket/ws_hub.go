package websocket

import (
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
)

// WsHub fans transfer and balance updates out to connected clients,
// keyed by user id. It implements interfaces.TransferNotifier.
type WsHub struct {
	Clients    map[string]map[*websocket.Conn]bool
	Broadcast  chan WsMessage
	Register   chan *WsClient
	Unregister chan *WsClient
	Logger     zerolog.Logger
}

type WsClient struct {
	UserID string
	Conn   *websocket.Conn
}

type WsMessage struct {
	Type        string              `json:"type"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Balance     *domain.Balance     `json:"balance,omitempty"`
}

func NewWsHub(logger zerolog.Logger) *WsHub {
	return &WsHub{
		Clients:    make(map[string]map[*websocket.Conn]bool),
		Broadcast:  make(chan WsMessage, 100),
		Register:   make(chan *WsClient, 100),
		Unregister: make(chan *WsClient, 100),
		Logger:     logger,
	}
}

func (h *WsHub) Run() {
	for {
		select {
		case client := <-h.Register:
			if h.Clients[client.UserID] == nil {
				h.Clients[client.UserID] = make(map[*websocket.Conn]bool)
			}
			h.Clients[client.UserID][client.Conn] = true
			h.Logger.Info().
				Str("user_id", client.UserID).
				Int("connection_count", len(h.Clients[client.UserID])).
				Msg("WebSocket client registered")

		case client := <-h.Unregister:
			if clients, ok := h.Clients[client.UserID]; ok {
				delete(clients, client.Conn)
				if len(clients) == 0 {
					delete(h.Clients, client.UserID)
				}
				client.Conn.Close()
				h.Logger.Info().
					Str("user_id", client.UserID).
					Int("connection_count", len(clients)).
					Msg("WebSocket client unregistered")
			}

		case message := <-h.Broadcast:
			h.deliver(message)
		}
	}
}

func (h *WsHub) deliver(message WsMessage) {
	var userID string
	switch message.Type {
	case "transfer":
		if message.Transaction != nil {
			userID = message.Transaction.UserID
		}
	case "balance":
		if message.Balance != nil {
			userID = message.Balance.UserID
		}
	}
	if userID == "" {
		return
	}

	clients, ok := h.Clients[userID]
	if !ok {
		return
	}

	for conn := range clients {
		if err := conn.WriteJSON(message); err != nil {
			h.Logger.Err(err).
				Str("user_id", userID).
				Str("type", message.Type).
				Msg("Failed to send WebSocket message")
			conn.Close()
			delete(clients, conn)
		}
	}
	if len(clients) == 0 {
		delete(h.Clients, userID)
	}
}

// NotifyTransfer implements interfaces.TransferNotifier.
func (h *WsHub) NotifyTransfer(tx *domain.Transaction) {
	h.Broadcast <- WsMessage{
		Type:        "transfer",
		Transaction: tx,
	}
}

// NotifyBalance implements interfaces.TransferNotifier.
func (h *WsHub) NotifyBalance(balance *domain.Balance) {
	h.Broadcast <- WsMessage{
		Type:    "balance",
		Balance: balance,
	}
}
