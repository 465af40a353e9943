package oauthapi

import (
	"encoding/base64"
	"strings"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientsrv"
	"github.com/gofiber/fiber/v2"
)

// extractClientCredentials implements the precedence the token/introspect/
// revoke endpoints all share: HTTP Basic auth first, then client_id/
// client_secret form fields, then (for public clients) client_id alone.
func extractClientCredentials(c *fiber.Ctx) clientsrv.ClientCredentials {
	if header := c.Get("Authorization"); strings.HasPrefix(header, "Basic ") {
		if id, secret, ok := decodeBasicAuth(header); ok {
			return clientsrv.ClientCredentials{
				Source:       clientsrv.SourceBasic,
				ClientID:     kernel.NewClientID(id),
				ClientSecret: secret,
			}
		}
	}

	clientID := c.FormValue("client_id")
	clientSecret := c.FormValue("client_secret")
	if clientSecret != "" {
		return clientsrv.ClientCredentials{
			Source:       clientsrv.SourcePost,
			ClientID:     kernel.NewClientID(clientID),
			ClientSecret: clientSecret,
		}
	}

	return clientsrv.ClientCredentials{
		Source:   clientsrv.SourceNone,
		ClientID: kernel.NewClientID(clientID),
	}
}

func decodeBasicAuth(header string) (id, secret string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
