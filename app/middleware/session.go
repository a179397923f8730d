package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	SessionHeader = "X-Session-ID"
	sessionKey    = "session_id"
)

// Session takes the session id from the X-Session-ID header, generating one
// when it is missing, and echoes it back in the response.
func Session() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(SessionHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(sessionKey, id)
		c.Set(SessionHeader, id)
		return c.Next()
	}
}

func SessionID(c *fiber.Ctx) string {
	if id, ok := c.Locals(sessionKey).(string); ok {
		return id
	}
	return ""
}
