package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/realtime"
)

type NotificationHandler struct {
	Hub          *realtime.Hub
	PingInterval time.Duration
}

func NewNotificationHandler(hub *realtime.Hub, ping time.Duration) *NotificationHandler {
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &NotificationHandler{Hub: hub, PingInterval: ping}
}

// Upgrade rejects plain HTTP requests; the JWT middleware runs before it.
func (h *NotificationHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// Stream pushes the user's wallet, order and payment events.
func (h *NotificationHandler) Stream(c *websocket.Conn) {
	userID, isUser := c.Locals("userId").(uuid.UUID)
	if !isUser {
		_ = c.Close()
		return
	}

	conn := realtime.NewWebSocketConn(c)
	client := &realtime.Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	h.Hub.RegisterClient(client)
	log.WithField("user_id", userID).Debug("ws: connected")
	defer func() {
		h.Hub.UnregisterClient(client)
		log.WithField("user_id", userID).Debug("ws: disconnected")
	}()

	go conn.WritePump(client.Send)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(h.PingInterval)
		defer ticker.Stop()
		ping, _ := json.Marshal(fiber.Map{"type": "ping"})
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteText(ping); err != nil {
					return
				}
			}
		}
	}()

	// Reads keep the connection alive; clients only answer pings.
	for {
		var payload map[string]interface{}
		if err := c.ReadJSON(&payload); err != nil {
			return
		}
		if t, _ := payload["type"].(string); t != "pong" {
			log.WithFields(log.Fields{"user_id": userID, "type": t}).Debug("ws: ignored client message")
		}
	}
}
