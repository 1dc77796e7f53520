// handlers/petal_routes.go
package handlers

import (
	"log"
	"strings"
	"time"

	"otakumori-rewards/middleware"
	"otakumori-rewards/models"
	"otakumori-rewards/services"

	"github.com/gofiber/fiber/v2"
)

type spendRequest struct {
	Amount         int64  `json:"amount" validate:"required,min=1,max=1000000"`
	Reason         string `json:"reason" validate:"required,max=200"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type adjustRequest struct {
	UserID         string `json:"user_id" validate:"required,max=64"`
	Amount         int64  `json:"amount" validate:"required,min=1,max=1000000"`
	Direction      string `json:"direction" validate:"required,oneof=credit debit"`
	Reason         string `json:"reason" validate:"required,max=200"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

type grantRequest struct {
	UserID         string `json:"user_id" validate:"required,max=64"`
	Amount         int64  `json:"amount" validate:"required,min=1,max=1000000"`
	Reason         string `json:"reason" validate:"required,max=200"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
}

// PetalOptions tunes the petal routes.
type PetalOptions struct {
	ClickPetals    int64
	ClickLimit     fiber.Handler
	StreamInterval time.Duration
}

// SetupPetalRoutes mounts balance, history, click, spend, stream and the
// admin ledger routes.
func SetupPetalRoutes(app *fiber.App, secured []fiber.Handler, ledger *services.LedgerService, opts PetalOptions) {
	p := app.Group("/petals", secured...)

	p.Get("/balance", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		balance, err := ledger.Balance(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, fiber.Map{"user_id": userID, "balance": balance})
	})

	p.Get("/ledger", func(c *fiber.Ctx) error {
		page, err := ledger.History(c.UserContext(), middleware.UserID(c), c.QueryInt("page", 1), c.QueryInt("size", 20))
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, page)
	})

	clickChain := []fiber.Handler{}
	if opts.ClickLimit != nil {
		clickChain = append(clickChain, opts.ClickLimit)
	}
	clickChain = append(clickChain, func(c *fiber.Ctx) error {
		if opts.ClickPetals < 1 {
			return middleware.Abort(c, fiber.StatusNotFound, "not_found", "petal clicks are disabled")
		}
		res, err := ledger.Append(c.UserContext(), services.LedgerRequest{
			UserID:         middleware.UserID(c),
			Type:           models.LedgerTypeEarn,
			Amount:         opts.ClickPetals,
			Reason:         "petal click",
			IdempotencyKey: strings.TrimSpace(c.Get("Idempotency-Key")),
		})
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusCreated, res)
	})
	p.Post("/click", clickChain...)

	p.Post("/spend", func(c *fiber.Ctx) error {
		var req spendRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.Append(c.UserContext(), services.LedgerRequest{
			UserID:         middleware.UserID(c),
			Type:           models.LedgerTypeSpend,
			Amount:         req.Amount,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusCreated, res)
	})

	interval := opts.StreamInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	p.Get("/stream", func(c *fiber.Ctx) error {
		return streamLedger(c, ledger, middleware.UserID(c), interval)
	})
}

// SetupAdminRoutes mounts the admin ledger routes. admin must already carry
// user context and the admin role gate.
func SetupAdminRoutes(app *fiber.App, admin []fiber.Handler, ledger *services.LedgerService) {
	a := app.Group("/admin", admin...)

	a.Post("/petals/adjust", func(c *fiber.Ctx) error {
		var req adjustRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.Append(c.UserContext(), services.LedgerRequest{
			UserID:         req.UserID,
			Type:           models.LedgerTypeAdjust,
			Amount:         req.Amount,
			Negative:       req.Direction == "debit",
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return respondError(c, err)
		}
		logAdmin(c, res)
		return ok(c, fiber.StatusCreated, res)
	})

	a.Post("/petals/grant", func(c *fiber.Ctx) error {
		var req grantRequest
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}
		res, err := ledger.Append(c.UserContext(), services.LedgerRequest{
			UserID:         req.UserID,
			Type:           models.LedgerTypeEarn,
			Amount:         req.Amount,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return respondError(c, err)
		}
		logAdmin(c, res)
		return ok(c, fiber.StatusCreated, res)
	})

	a.Get("/petals/reconcile", func(c *fiber.Ctx) error {
		drift, err := ledger.Reconcile(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, fiber.Map{"drift": drift, "consistent": len(drift) == 0})
	})
}

func logAdmin(c *fiber.Ctx, res *services.LedgerResult) {
	log.Printf("🛠️ [ADMIN] %s applied %s %+d to %s (balance %d)",
		middleware.UserID(c), res.Entry.Type, res.Entry.Delta, res.Entry.UserID, res.Balance)
}
