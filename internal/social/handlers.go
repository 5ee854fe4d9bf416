package social

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/posts", authMiddleware, func(c *fiber.Ctx) error {
		var req Post
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Content == "" {
			return fiber.NewError(fiber.StatusBadRequest, "content required")
		}
		req.UserID = userID(c)
		post, err := svc.CreatePost(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(post)
	})

	r.Post("/follow", authMiddleware, func(c *fiber.Ctx) error {
		var req Follow
		if err := c.BodyParser(&req); err != nil || req.FollowingID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "following_id required")
		}
		if err := svc.Follow(c.Context(), userID(c), req.FollowingID); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusCreated)
	})

	r.Get("/feed", authMiddleware, func(c *fiber.Ctx) error {
		feed, err := svc.Feed(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(feed)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
