// handlers/routes.go
package handlers

import (
	"time"

	"otakumori-rewards/middleware"
	"otakumori-rewards/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles what the routes need.
type Services struct {
	Quests         *services.QuestService
	Streaks        *services.StreakService
	Ledger         *services.LedgerService
	ClickPetals    int64
	ClickLimit     fiber.Handler
	StreamInterval time.Duration
}

// SetupRoutes mounts every route. The gateway check is applied by the caller.
func SetupRoutes(app *fiber.App, svc Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return ok(c, fiber.StatusOK, fiber.Map{"status": "up"})
	})

	// 🔐 Everything under these groups acts on the calling user's account.
	secured := []fiber.Handler{middleware.UserContextMiddleware(), EnsureAccountMiddleware(svc.Ledger)}
	admin := []fiber.Handler{middleware.UserContextMiddleware(), middleware.RequireRole("admin")}

	SetupQuestRoutes(app, secured, svc.Quests, svc.Streaks)
	SetupPetalRoutes(app, secured, svc.Ledger, PetalOptions{
		ClickPetals:    svc.ClickPetals,
		ClickLimit:     svc.ClickLimit,
		StreamInterval: svc.StreamInterval,
	})
	SetupAdminRoutes(app, admin, svc.Ledger)
}

// EnsureAccountMiddleware creates the caller's account row on first contact
// so ledger writes always have a balance to move.
func EnsureAccountMiddleware(ledger *services.LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := ledger.EnsureAccount(c.UserContext(), middleware.UserID(c)); err != nil {
			return respondError(c, err)
		}
		return c.Next()
	}
}
