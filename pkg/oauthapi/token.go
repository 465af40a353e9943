package oauthapi

import (
	"github.com/Abraxas-365/manifesto/pkg/oauth/tokensrv"
	"github.com/gofiber/fiber/v2"
)

// token implements POST /token: dispatches on grant_type and returns either
// the RFC 6749 token response or an RFC 6749 error body.
func (h *Handlers) token(c *fiber.Ctx) error {
	req := tokensrv.GrantRequest{
		GrantType:    c.FormValue("grant_type"),
		ClientCreds:  extractClientCredentials(c),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
	}

	resp, oerr := h.c.TokenService.Token(c.Context(), req)
	if oerr != nil {
		return c.Status(oerr.HTTPStatus).JSON(fiber.Map{
			"error":             oerr.ErrorCode,
			"error_description": oerr.Description,
		})
	}

	body := fiber.Map{
		"access_token": resp.AccessToken,
		"token_type":   resp.TokenType,
		"expires_in":   resp.ExpiresIn,
	}
	if resp.RefreshToken != "" {
		body["refresh_token"] = resp.RefreshToken
	}
	if resp.IDToken != "" {
		body["id_token"] = resp.IDToken
	}
	if resp.Scope != "" {
		body["scope"] = resp.Scope
	}

	c.Set("Cache-Control", "no-store")
	c.Set("Pragma", "no-cache")
	return c.Status(fiber.StatusOK).JSON(body)
}

// introspect implements POST /introspect (RFC 7662).
func (h *Handlers) introspect(c *fiber.Ctx) error {
	creds := extractClientCredentials(c)
	token := c.FormValue("token")

	resp, oerr := h.c.TokenService.Introspect(c.Context(), creds, token)
	if oerr != nil {
		return c.Status(oerr.HTTPStatus).JSON(fiber.Map{
			"error":             oerr.ErrorCode,
			"error_description": oerr.Description,
		})
	}

	if !resp.Active {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"active": false})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"active":      true,
		"client_id":   resp.ClientID,
		"username":    resp.Username,
		"scope":       resp.Scope,
		"token_type":  resp.TokenType,
		"exp":         resp.Exp,
		"iat":         resp.Iat,
		"sub":         resp.Sub,
		"jti":         resp.JTI,
		"permissions": resp.Permissions,
	})
}

// revoke implements POST /revoke (RFC 7009). Per the RFC, an unknown token
// is not an error: revocation is always reported as success to the caller.
func (h *Handlers) revoke(c *fiber.Ctx) error {
	creds := extractClientCredentials(c)
	token := c.FormValue("token")

	if oerr := h.c.TokenService.Revoke(c.Context(), creds, token); oerr != nil {
		return c.Status(oerr.HTTPStatus).JSON(fiber.Map{
			"error":             oerr.ErrorCode,
			"error_description": oerr.Description,
		})
	}
	return c.SendStatus(fiber.StatusOK)
}
