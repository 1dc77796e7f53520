// middleware/gateway.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Printf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s", c.Path())
			return Abort(c, fiber.StatusUnauthorized, "unauthenticated", "gateway authentication token missing")
		}

		// "Bearer <token>" or the raw token
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		if expectedToken == "" || token != expectedToken {
			log.Printf("❌ [GATEWAY_AUTH] Invalid token for %s", c.Path())
			return Abort(c, fiber.StatusUnauthorized, "unauthenticated", "invalid gateway authentication token")
		}

		return c.Next()
	}
}

// Abort writes the error envelope and stops the chain.
func Abort(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"ok": false,
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}
