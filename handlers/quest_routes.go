// handlers/quest_routes.go
package handlers

import (
	"otakumori-rewards/middleware"
	"otakumori-rewards/models"
	"otakumori-rewards/services"

	"github.com/gofiber/fiber/v2"
)

type catalogEntry struct {
	services.QuestDefinition
	KindLabel string `json:"kind_label"`
}

type progressRequest struct {
	Amount int `json:"amount" validate:"min=1,max=10000"`
}

type todayResponse struct {
	Day         string                   `json:"day"`
	Assignments []models.QuestAssignment `json:"assignments"`
}

// SetupQuestRoutes mounts the catalog, daily quests, backlog and streak routes.
// secured must already carry user context.
func SetupQuestRoutes(app *fiber.App, secured []fiber.Handler, quests *services.QuestService, streaks *services.StreakService) {
	app.Get("/quests/catalog", func(c *fiber.Ctx) error {
		defs := quests.Pool.Definitions()
		out := make([]catalogEntry, 0, len(defs))
		for _, d := range defs {
			out = append(out, catalogEntry{QuestDefinition: d, KindLabel: services.KindLabel(d.Kind)})
		}
		return ok(c, fiber.StatusOK, out)
	})

	q := app.Group("/quests", secured...)

	q.Get("/today", func(c *fiber.Ctx) error {
		// read the clock once so the reported day matches the rows
		day := quests.Clock.Today()
		assignments, err := quests.EnsureAssignmentsForDay(c.UserContext(), middleware.UserID(c), day)
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, todayResponse{Day: day, Assignments: assignments})
	})

	q.Get("/backlog", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		backlog, err := quests.Backlog(c.UserContext(), middleware.UserID(c), limit)
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, backlog)
	})

	q.Post("/:key/progress", func(c *fiber.Ctx) error {
		req := progressRequest{Amount: 1}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		userID := middleware.UserID(c)
		// Progress can arrive before the user has opened today's quests.
		if _, err := quests.EnsureDailyAssignments(c.UserContext(), userID); err != nil {
			return respondError(c, err)
		}
		res, err := quests.RecordProgress(c.UserContext(), userID, c.Params("key"), req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, res)
	})

	s := app.Group("/streak", secured...)

	s.Post("/claim", func(c *fiber.Ctx) error {
		award, err := streaks.AwardStreakShard(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		status := fiber.StatusOK
		if award.Awarded {
			status = fiber.StatusCreated
		}
		return ok(c, status, award)
	})

	s.Get("/", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		length, err := streaks.StreakLength(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return ok(c, fiber.StatusOK, fiber.Map{"user_id": userID, "days": length, "today": streaks.Clock.Today()})
	})
}
