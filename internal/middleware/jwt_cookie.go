package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Windi-Fikriyansyah/marketplace_escrow/internal/utils"
)

const CookieName = "jm_token"

// JWT accepts the session cookie, a bearer token or, for websocket
// upgrades, a token query parameter.
func JWT(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, _, err := utils.ParseJWT(secret, tokenFrom(c))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		c.Locals("user", token)
		return c.Next()
	}
}

func tokenFrom(c *fiber.Ctx) string {
	if v := c.Cookies(CookieName); v != "" {
		return v
	}
	if h := c.Get(fiber.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Query("token")
}
