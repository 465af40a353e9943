// Package clientinfra implements oauth.ClientRepository against PostgreSQL.
package clientinfra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresClientRepository is the PostgreSQL implementation of
// oauth.ClientRepository.
type PostgresClientRepository struct {
	db *sqlx.DB
}

func NewPostgresClientRepository(db *sqlx.DB) oauth.ClientRepository {
	return &PostgresClientRepository{db: db}
}

type clientPersistence struct {
	ID                        string         `db:"id"`
	ClientID                  string         `db:"client_id"`
	ClientSecretHash          string         `db:"client_secret_hash"`
	Name                      string         `db:"name"`
	Type                      string         `db:"type"`
	RedirectURIs              pq.StringArray `db:"redirect_uris"`
	AllowedScopes             pq.StringArray `db:"allowed_scopes"`
	GrantTypes                pq.StringArray `db:"grant_types"`
	ResponseTypes             pq.StringArray `db:"response_types"`
	TokenEndpointAuthMethod   string         `db:"token_endpoint_auth_method"`
	RequirePKCE               bool           `db:"require_pkce"`
	RequireConsent            bool           `db:"require_consent"`
	AllowOfflineAccess        bool           `db:"allow_offline_access"`
	AccessTokenTTLSeconds     int64          `db:"access_token_ttl_seconds"`
	RefreshTokenTTLSeconds    int64          `db:"refresh_token_ttl_seconds"`
	AuthCodeLifetimeSeconds   int64          `db:"auth_code_lifetime_seconds"`
	IsActive                  bool           `db:"is_active"`
	CreatedAt                 time.Time      `db:"created_at"`
	UpdatedAt                 time.Time      `db:"updated_at"`
}

func toPersistence(c *oauth.Client) clientPersistence {
	grantTypes := make([]string, len(c.GrantTypes))
	for i, g := range c.GrantTypes {
		grantTypes[i] = string(g)
	}
	responseTypes := make([]string, len(c.ResponseTypes))
	for i, rt := range c.ResponseTypes {
		responseTypes[i] = string(rt)
	}
	return clientPersistence{
		ID:                      c.ID,
		ClientID:                c.ClientID.String(),
		ClientSecretHash:        c.ClientSecretHash,
		Name:                    c.Name,
		Type:                    string(c.Type),
		RedirectURIs:            c.RedirectURIs,
		AllowedScopes:           c.AllowedScopes,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: string(c.TokenEndpointAuthMethod),
		RequirePKCE:             c.RequirePKCE,
		RequireConsent:          c.RequireConsent,
		AllowOfflineAccess:      c.AllowOfflineAccess,
		AccessTokenTTLSeconds:   int64(c.AccessTokenTTL.Seconds()),
		RefreshTokenTTLSeconds:  int64(c.RefreshTokenTTL.Seconds()),
		AuthCodeLifetimeSeconds: int64(c.AuthorizationCodeLifetime.Seconds()),
		IsActive:                c.IsActive,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
}

func toDomain(p clientPersistence) *oauth.Client {
	grantTypes := make([]oauth.GrantType, len(p.GrantTypes))
	for i, g := range p.GrantTypes {
		grantTypes[i] = oauth.GrantType(g)
	}
	responseTypes := make([]oauth.ResponseType, len(p.ResponseTypes))
	for i, rt := range p.ResponseTypes {
		responseTypes[i] = oauth.ResponseType(rt)
	}
	return &oauth.Client{
		ID:                        p.ID,
		ClientID:                  kernel.NewClientID(p.ClientID),
		ClientSecretHash:          p.ClientSecretHash,
		Name:                      p.Name,
		Type:                      oauth.ClientType(p.Type),
		RedirectURIs:              p.RedirectURIs,
		AllowedScopes:             p.AllowedScopes,
		GrantTypes:                grantTypes,
		ResponseTypes:             responseTypes,
		TokenEndpointAuthMethod:   oauth.TokenEndpointAuthMethod(p.TokenEndpointAuthMethod),
		RequirePKCE:               p.RequirePKCE,
		RequireConsent:            p.RequireConsent,
		AllowOfflineAccess:        p.AllowOfflineAccess,
		AccessTokenTTL:            time.Duration(p.AccessTokenTTLSeconds) * time.Second,
		RefreshTokenTTL:           time.Duration(p.RefreshTokenTTLSeconds) * time.Second,
		AuthorizationCodeLifetime: time.Duration(p.AuthCodeLifetimeSeconds) * time.Second,
		IsActive:                  p.IsActive,
		CreatedAt:                 p.CreatedAt,
		UpdatedAt:                 p.UpdatedAt,
	}
}

func (r *PostgresClientRepository) Save(ctx context.Context, c *oauth.Client) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM oauth_clients WHERE id = $1)`, c.ID)
	if err != nil {
		return errx.Wrap(err, "failed to check client existence", errx.TypeInternal)
	}
	p := toPersistence(c)
	if exists {
		query := `
			UPDATE oauth_clients SET
				client_secret_hash = :client_secret_hash,
				name = :name,
				type = :type,
				redirect_uris = :redirect_uris,
				allowed_scopes = :allowed_scopes,
				grant_types = :grant_types,
				response_types = :response_types,
				token_endpoint_auth_method = :token_endpoint_auth_method,
				require_pkce = :require_pkce,
				require_consent = :require_consent,
				allow_offline_access = :allow_offline_access,
				access_token_ttl_seconds = :access_token_ttl_seconds,
				refresh_token_ttl_seconds = :refresh_token_ttl_seconds,
				auth_code_lifetime_seconds = :auth_code_lifetime_seconds,
				is_active = :is_active,
				updated_at = :updated_at
			WHERE id = :id`
		_, err := r.db.NamedExecContext(ctx, query, p)
		if err != nil {
			return errx.Wrap(err, "failed to update client", errx.TypeInternal).WithDetail("client_id", c.ClientID.String())
		}
		return nil
	}

	query := `
		INSERT INTO oauth_clients (
			id, client_id, client_secret_hash, name, type, redirect_uris, allowed_scopes,
			grant_types, response_types, token_endpoint_auth_method, require_pkce,
			require_consent, allow_offline_access, access_token_ttl_seconds,
			refresh_token_ttl_seconds, auth_code_lifetime_seconds, is_active, created_at, updated_at
		) VALUES (
			:id, :client_id, :client_secret_hash, :name, :type, :redirect_uris, :allowed_scopes,
			:grant_types, :response_types, :token_endpoint_auth_method, :require_pkce,
			:require_consent, :allow_offline_access, :access_token_ttl_seconds,
			:refresh_token_ttl_seconds, :auth_code_lifetime_seconds, :is_active, :created_at, :updated_at
		)`
	_, err = r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return oauth.ErrInvalidRequest("client_id already registered")
		}
		return errx.Wrap(err, "failed to create client", errx.TypeInternal).WithDetail("client_id", c.ClientID.String())
	}
	return nil
}

func (r *PostgresClientRepository) FindByID(ctx context.Context, id string) (*oauth.Client, error) {
	var p clientPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_clients WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidClient("unknown client")
		}
		return nil, errx.Wrap(err, "failed to find client by id", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresClientRepository) FindByClientID(ctx context.Context, clientID kernel.ClientID) (*oauth.Client, error) {
	var p clientPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM oauth_clients WHERE client_id = $1`, clientID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, oauth.ErrInvalidClient("unknown client")
		}
		return nil, errx.Wrap(err, "failed to find client by client_id", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresClientRepository) List(ctx context.Context, opts kernel.PaginationOptions, filter oauth.ClientFilter) (kernel.Paginated[*oauth.Client], error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argN := 1
	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, string(*filter.Type))
		argN++
	}
	if filter.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argN)
		args = append(args, *filter.IsActive)
		argN++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM oauth_clients " + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return kernel.Paginated[*oauth.Client]{}, errx.Wrap(err, "failed to count clients", errx.TypeInternal)
	}

	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	listQuery := fmt.Sprintf("SELECT * FROM oauth_clients %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", where, argN, argN+1)
	args = append(args, size, (page-1)*size)

	var rows []clientPersistence
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return kernel.Paginated[*oauth.Client]{}, errx.Wrap(err, "failed to list clients", errx.TypeInternal)
	}
	items := make([]*oauth.Client, len(rows))
	for i, row := range rows {
		items[i] = toDomain(row)
	}
	return kernel.NewPaginated(items, page, size, total), nil
}

func (r *PostgresClientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM oauth_clients WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete client", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return oauth.ErrInvalidClient("unknown client")
	}
	return nil
}
