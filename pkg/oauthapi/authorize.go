package oauthapi

import (
	"net/url"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth/authorizesrv"
	"github.com/gofiber/fiber/v2"
)

// authorize implements GET /authorize: parse query parameters into a typed
// Request, run the state machine, and render whichever Decision comes back.
func (h *Handlers) authorize(c *fiber.Ctx) error {
	req := authorizesrv.Request{
		ClientID:            kernel.NewClientID(c.Query("client_id")),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		Nonce:               c.Query("nonce"),
		SessionID:           c.Cookies(h.sessionCookie),
	}

	decision := h.c.AuthorizeService.Authorize(c.Context(), req)

	switch decision.Kind {
	case authorizesrv.DecisionRedirect:
		return c.Redirect(decision.RedirectURL, fiber.StatusFound)
	case authorizesrv.DecisionLoginRequired:
		return c.Redirect("/login?return_to="+url.QueryEscape(decision.LoginReturnURL), fiber.StatusFound)
	case authorizesrv.DecisionConsentRequired:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"consent_required": true,
			"client_id":        decision.ConsentClientID.String(),
			"scopes":           decision.ConsentScopes,
		})
	default: // DecisionError
		if decision.JSONError {
			return c.Status(decision.Err.HTTPStatus).JSON(fiber.Map{
				"error":             decision.Err.ErrorCode,
				"error_description": decision.Err.Description,
			})
		}
		return c.Redirect(decision.ErrorRedirectURL, fiber.StatusFound)
	}
}
