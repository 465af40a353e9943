// Package oauthapi exposes the authorization server over HTTP with Fiber,
// translating wire requests into the typed requests the *srv packages
// expect and their typed results back into RFC 6749/7662/7009 and OIDC
// Discovery response bodies. No protocol or persistence logic lives here -
// this package is deliberately thin.
package oauthapi

import (
	"github.com/Abraxas-365/manifesto/pkg/authn"
	"github.com/Abraxas-365/manifesto/pkg/oauthcontainer"
	"github.com/gofiber/fiber/v2"
)

// Handlers groups the authorization server's HTTP handlers around the
// wired container.
type Handlers struct {
	c             *oauthcontainer.Container
	sessionCookie string
}

func NewHandlers(c *oauthcontainer.Container, sessionCookieName string) *Handlers {
	return &Handlers{c: c, sessionCookie: sessionCookieName}
}

// RegisterRoutes mounts every endpoint this module exposes directly on app.
// /userinfo, the one endpoint requiring a bearer token, is mounted under its
// own group guarded by requireBearer.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	app.Get("/.well-known/openid-configuration", h.discovery)
	app.Get("/.well-known/jwks.json", h.jwks)

	app.Get("/authorize", h.authorize)
	app.Post("/token", h.token)
	app.Post("/introspect", h.introspect)
	app.Post("/revoke", h.revoke)

	userinfo := app.Group("/userinfo", h.requireBearer())
	userinfo.Get("", h.userinfo)
}

// requireBearer authenticates the request's bearer token and stores the
// resulting kernel.AuthContext in c.Locals("auth") for downstream handlers.
func (h *Handlers) requireBearer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := authn.ExtractBearer(c.Get("Authorization"))
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
		}
		ac, err := h.c.Authenticator.Authenticate(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
		}
		c.Locals("auth", ac)
		return c.Next()
	}
}
