package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

// tokenQueryParam carries the token for websocket clients, which cannot set
// headers on the upgrade request from a browser.
const tokenQueryParam = "access_token"

// JWTMiddleware validates bearer tokens and stores user_id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseMiddlewareClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid || claims.UserID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

var parseMiddlewareClaimsFn = jwt.ParseWithClaims

// tokenFromRequest prefers the Authorization header. The query parameter is
// only consulted on websocket upgrades.
func tokenFromRequest(c *fiber.Ctx) string {
	if token := bearerFromHeader(c.Get(fiber.HeaderAuthorization)); token != "" {
		return token
	}
	if websocket.IsWebSocketUpgrade(c) {
		return strings.TrimSpace(c.Query(tokenQueryParam))
	}
	return ""
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
