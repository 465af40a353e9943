package oauth

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

// Client is a registered OAuth client application.
type Client struct {
	ID                        string
	ClientID                  kernel.ClientID
	ClientSecretHash          string // empty iff Type == ClientPublic
	Name                      string
	Type                      ClientType
	RedirectURIs              []string
	AllowedScopes             []string
	GrantTypes                []GrantType
	ResponseTypes             []ResponseType
	TokenEndpointAuthMethod   TokenEndpointAuthMethod
	RequirePKCE               bool
	RequireConsent            bool
	AllowOfflineAccess        bool
	AccessTokenTTL            time.Duration
	RefreshTokenTTL           time.Duration
	AuthorizationCodeLifetime time.Duration
	IsActive                  bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// IsPublic reports whether this is a public (no-secret) client.
func (c *Client) IsPublic() bool { return c.Type == ClientPublic }

// SupportsGrant reports whether g is in the client's allowed grant types.
func (c *Client) SupportsGrant(g GrantType) bool {
	for _, allowed := range c.GrantTypes {
		if allowed == g {
			return true
		}
	}
	return false
}

// HasRedirectURI reports an exact string match against the registered set -
// no trailing-slash or query-normalization tolerance.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether scope is in the client's allowed scope set.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ClientFilter narrows a client listing query.
type ClientFilter struct {
	Type     *ClientType
	IsActive *bool
}

// ClientRepository is the abstract persistence contract for clients.
type ClientRepository interface {
	Save(ctx context.Context, c *Client) error
	FindByID(ctx context.Context, id string) (*Client, error)
	FindByClientID(ctx context.Context, clientID kernel.ClientID) (*Client, error)
	List(ctx context.Context, opts kernel.PaginationOptions, filter ClientFilter) (kernel.Paginated[*Client], error)
	Delete(ctx context.Context, id string) error
}
