package oauthapi

import "github.com/gofiber/fiber/v2"

// discovery implements GET /.well-known/openid-configuration.
func (h *Handlers) discovery(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.c.DiscoveryService.Metadata())
}

// jwks implements GET /.well-known/jwks.json.
func (h *Handlers) jwks(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.c.DiscoveryService.JWKS())
}
