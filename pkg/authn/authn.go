// Package authn implements the bearer-token middleware gate and the audit
// event trail: token extraction and verification into a kernel.AuthContext,
// the permission gate handlers declare required permissions against, and
// structured audit logging with a bounded-timeout write path.
package authn

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/asyncx"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/rbac/rbacsrv"
)

var ErrRegistry = errx.NewRegistry("AUTHN")

var (
	CodeInvalidToken           = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, 401, "invalid_token")
	CodeInsufficientPermission = ErrRegistry.Register("INSUFFICIENT_PERMISSIONS", errx.TypeAuthorization, 403, "insufficient_permissions")
)

func ErrInvalidToken() *errx.Error { return ErrRegistry.New(CodeInvalidToken) }
func ErrInsufficientPermissions() *errx.Error {
	return ErrRegistry.New(CodeInsufficientPermission)
}

// ExtractBearer parses an `Authorization: Bearer <jwt>` header value. It is a
// plain string function so the HTTP-plumbing collaborator can call it
// without this package depending on net/http or any framework.
func ExtractBearer(authorizationHeader string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Authenticator verifies bearer access tokens and builds the AuthContext
// every downstream handler reads permissions and identity from.
type Authenticator struct {
	claims      *oauth.ClaimsBuilder
	blacklist   oauth.BlacklistRepository
	permissions *rbacsrv.Service
}

func NewAuthenticator(claims *oauth.ClaimsBuilder, blacklist oauth.BlacklistRepository, permissions *rbacsrv.Service) *Authenticator {
	return &Authenticator{claims: claims, blacklist: blacklist, permissions: permissions}
}

// Authenticate verifies the raw bearer token and returns the resulting
// AuthContext, re-resolving RBAC permissions fresh rather than trusting the
// token's embedded snapshot, so a revoked role takes effect immediately.
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (*kernel.AuthContext, error) {
	claims, err := a.claims.VerifyAccessToken(rawToken)
	if err != nil {
		return nil, ErrInvalidToken()
	}

	blacklisted, err := a.blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil || blacklisted {
		return nil, ErrInvalidToken()
	}

	ac := &kernel.AuthContext{
		ClientID: kernel.NewClientID(claims.ClientID),
		Username: claims.Username,
		Scopes:   oauth.ParseScope(claims.Scope),
		TokenJTI: claims.ID,
	}

	if claims.Subject != "" && claims.Subject != claims.ClientID {
		userID := kernel.NewUserID(claims.Subject)
		ac.UserID = &userID
		if a.permissions != nil {
			if names, perr := a.permissions.EffectivePermissionNames(ctx, userID); perr == nil {
				ac.Permissions = names
			}
		}
	}

	return ac, nil
}

// AuditRecorder records AuditEvents emitted by the permission gate and by
// every mutating handler.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditEvent captures who did what to what, never passwords or raw tokens.
type AuditEvent struct {
	Actor      kernel.ClientID
	ActorUser  *kernel.UserID
	Action     string
	Resource   string
	IP         string
	UserAgent  string
	Success    bool
	Metadata   map[string]string
	OccurredAt time.Time
}

// RequirePermissions implements the permission gate: it reports nil when ac
// holds every required permission, and otherwise emits an AUTHZ_DENY audit
// event (best-effort; a failure to record never masks the original denial)
// and returns ErrInsufficientPermissions.
func RequirePermissions(ctx context.Context, recorder AuditRecorder, ac *kernel.AuthContext, resource string, required ...string) error {
	if ac.HasAllPermissions(required...) {
		return nil
	}

	if recorder != nil {
		event := AuditEvent{
			Actor:      ac.ClientID,
			ActorUser:  ac.UserID,
			Action:     "AUTHZ_DENY",
			Resource:   resource,
			Success:    false,
			OccurredAt: time.Now().UTC(),
		}
		if err := recorder.Record(ctx, event); err != nil {
			logx.WithError(err).Warn("authn: failed to record AUTHZ_DENY audit event")
		}
	}

	return ErrInsufficientPermissions()
}

// LogAuditRecorder persists audit events via structured logging. It never
// returns an error: logging itself is treated as unfailable.
type LogAuditRecorder struct{}

func NewLogAuditRecorder() *LogAuditRecorder { return &LogAuditRecorder{} }

func (r *LogAuditRecorder) Record(ctx context.Context, event AuditEvent) error {
	fields := logx.Fields{
		"client_id": event.Actor.String(),
		"action":    event.Action,
		"resource":  event.Resource,
		"ip":        event.IP,
		"user_agent": event.UserAgent,
		"success":   event.Success,
	}
	if event.ActorUser != nil {
		fields["user_id"] = event.ActorUser.String()
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	logx.WithFields(fields).Info("audit event")
	return nil
}

// BoundedAuditRecorder wraps another AuditRecorder with a hard write
// deadline, so a slow audit sink can never stall the request it is
// recording. Timeouts and write failures are logged, not propagated -
// auditing is best-effort from the caller's perspective.
type BoundedAuditRecorder struct {
	inner   AuditRecorder
	timeout time.Duration
}

// DefaultAuditTimeout bounds every audit write.
const DefaultAuditTimeout = 2 * time.Second

func NewBoundedAuditRecorder(inner AuditRecorder) *BoundedAuditRecorder {
	return &BoundedAuditRecorder{inner: inner, timeout: DefaultAuditTimeout}
}

func (r *BoundedAuditRecorder) Record(ctx context.Context, event AuditEvent) error {
	_, err := asyncx.WithTimeout(ctx, r.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.Record(ctx, event)
	})
	if err != nil {
		logx.WithError(err).Warn("authn: audit write exceeded bound or failed")
	}
	return nil
}
