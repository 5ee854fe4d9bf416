package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the per-activity stats socket.
func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler) {
	r.Get("/ws/:activityID", authMiddleware, websocket.New(func(c *websocket.Conn) {
		activityID := c.Params("activityID")
		client := hub.Register(activityID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	}))
}
