package tracking

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	g := r.Group("/activities", authMiddleware)

	g.Get("/current", func(c *fiber.Ctx) error {
		cur, err := svc.Current(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if cur == nil {
			return fiber.NewError(fiber.StatusNotFound, "no activity in progress")
		}
		return c.JSON(cur)
	})

	g.Post("/", func(c *fiber.Ctx) error {
		var req activity.StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		act, err := svc.Start(c.Context(), userID(c), req)
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "activity": conflict.Activity})
		}
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(act)
	})

	g.Post("/:id/pause", func(c *fiber.Ctx) error {
		act, err := svc.Pause(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(act)
	})

	g.Post("/:id/resume", func(c *fiber.Ctx) error {
		act, err := svc.Resume(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(act)
	})

	g.Post("/:id/finish", func(c *fiber.Ctx) error {
		var req activity.FinishRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		res, err := svc.Finish(c.Context(), userID(c), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	g.Post("/:id/discard", func(c *fiber.Ctx) error {
		act, err := svc.Discard(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(act)
	})

	g.Post("/:id/points", func(c *fiber.Ctx) error {
		var req activity.PointsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := svc.AppendPoints(c.Context(), userID(c), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	g.Get("/:id/points", func(c *fiber.Ctx) error {
		points, err := svc.Points(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(points)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidStatus):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrSportRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
