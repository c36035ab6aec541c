package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// Rate-limit categories applied as admission control in front of the core
// services. Limits are per authenticated user, falling back to client IP
// for unauthenticated requests.

func rateLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if claims, ok := c.Locals("claims").(*Claims); ok {
				return fmt.Sprintf("user:%d", claims.UserID)
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Rate limit exceeded, try again later",
			})
		},
	})
}

// CRUDRateLimit covers standard resource operations.
func CRUDRateLimit() fiber.Handler {
	return rateLimiter(100, 15*time.Minute)
}

// AIRateLimit covers generation and refinement calls.
func AIRateLimit() fiber.Handler {
	return rateLimiter(20, 15*time.Minute)
}

// ProgressRateLimit covers progress-tracking writes.
func ProgressRateLimit() fiber.Handler {
	return rateLimiter(100, 5*time.Minute)
}

// TimeTrackingRateLimit covers time-tracking writes.
func TimeTrackingRateLimit() fiber.Handler {
	return rateLimiter(60, time.Minute)
}
