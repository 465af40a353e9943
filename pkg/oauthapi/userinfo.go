package oauthapi

import (
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// userinfo implements GET /userinfo: the bearer token's subject claims
// projected to the OIDC UserInfo response shape.
func (h *Handlers) userinfo(c *fiber.Ctx) error {
	ac, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || ac.UserID == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
	}

	user, err := h.c.Users.FindByID(c.Context(), *ac.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invalid_token"})
	}

	body := fiber.Map{"sub": ac.UserID.String()}
	if ac.HasScope("profile") {
		body["preferred_username"] = user.Username
		body["name"] = user.DisplayName
	}
	if ac.HasScope("email") {
		body["email_verified"] = user.EmailVerified
		if user.Email != nil {
			body["email"] = *user.Email
		}
	}
	return c.Status(fiber.StatusOK).JSON(body)
}
