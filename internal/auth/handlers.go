package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Post("/register", func(c *fiber.Ctx) error {
		var req Credentials
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		user, tokens, err := svc.Register(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user, "tokens": tokens})
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req Credentials
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		_, tokens, err := svc.Login(c.Context(), req)
		if errors.Is(err, ErrCredentialsRequired) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(tokens)
	})

	r.Get("/jwt/verify", func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		userID, err := svc.ValidateAccessToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{"user_id": userID})
	})
}
