// Package oauthcontainer wires the authorization server's dependency graph:
// Postgres/Redis repositories, the crypto signer, the client/authorize/
// token/account/rbac/discovery services, and the background cleanup loop,
// following the same infra-then-repos-then-services-then-handlers order
// the IAM module wires its own container in.
package oauthcontainer

import (
	"os"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/account/accountsrv"
	"github.com/Abraxas-365/manifesto/pkg/account/sessioninfra"
	"github.com/Abraxas-365/manifesto/pkg/account/userinfra"
	"github.com/Abraxas-365/manifesto/pkg/authn"
	"github.com/Abraxas-365/manifesto/pkg/authn/auditinfra"
	"github.com/Abraxas-365/manifesto/pkg/config"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/oauth/authcodeinfra"
	"github.com/Abraxas-365/manifesto/pkg/oauth/authorizesrv"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientinfra"
	"github.com/Abraxas-365/manifesto/pkg/oauth/clientsrv"
	"github.com/Abraxas-365/manifesto/pkg/oauth/consentinfra"
	"github.com/Abraxas-365/manifesto/pkg/oauth/discoverysrv"
	"github.com/Abraxas-365/manifesto/pkg/oauth/scopeinfra"
	"github.com/Abraxas-365/manifesto/pkg/oauth/tokeninfra"
	"github.com/Abraxas-365/manifesto/pkg/oauth/tokensrv"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
	"github.com/Abraxas-365/manifesto/pkg/rbac/rbacinfra"
	"github.com/Abraxas-365/manifesto/pkg/rbac/rbacsrv"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// defaultScopes seeds the discovery document's scopes_supported list. Scope
// administration (adding/retiring scopes at runtime) goes through Scopes.
var defaultScopes = []string{"openid", "profile", "email", "offline_access"}

// Deps are the container's explicit external dependencies. No hidden
// globals, no ambient state - everything comes through here.
type Deps struct {
	DB    *sqlx.DB
	Redis *redis.Client
	Cfg   *config.Config

	// EmailSender is injected as an interface so this module has zero
	// knowledge of the concrete notification provider (SES, SMTP, ...).
	EmailSender notifx.EmailSender
}

// Container is the public surface of the authorization server module. Only
// what cmd/ and pkg/oauthapi actually need is exposed; infra details stay
// private to New.
type Container struct {
	// Domain services
	ClientService    *clientsrv.Service
	AuthorizeService *authorizesrv.Service
	TokenService     *tokensrv.Service
	AccountService   *accountsrv.Service
	RBACService      *rbacsrv.Service
	DiscoveryService *discoverysrv.Service

	// Cross-cutting
	Authenticator *authn.Authenticator
	AuditRecorder authn.AuditRecorder

	// Repositories exposed for admin CRUD and seed tooling
	Clients     oauth.ClientRepository
	Scopes      oauth.ScopeRepository
	Users       account.UserRepository
	Roles       rbac.RoleRepository
	Permissions rbac.PermissionRepository
	Assignments rbac.AssignmentRepository

	// Background services
	CleanupService *CleanupService

	// EmailQueue is nil when Redis is not configured; callers fall back to
	// sending email inline in that case (it is already wired as the
	// AccountService's notifier either way - see New).
	EmailQueue *EmailJobQueue
}

// New constructs the entire authorization server dependency graph in
// dependency order: repositories, the signing key, domain services, then
// the cross-cutting authenticator/audit trail and background cleanup.
func New(deps Deps) *Container {
	logx.Info("🔧 initializing oauth container...")

	c := &Container{}

	// ── Repositories ─────────────────────────────────────────────────────

	clientRepo := clientinfra.NewPostgresClientRepository(deps.DB)
	scopeRepo := scopeinfra.NewPostgresScopeRepository(deps.DB)
	codeRepo := authcodeinfra.NewPostgresAuthorizationCodeRepository(deps.DB)
	consentRepo := consentinfra.NewPostgresConsentRepository(deps.DB)
	accessTokenRepo := tokeninfra.NewPostgresAccessTokenRepository(deps.DB)
	refreshTokenRepo := tokeninfra.NewPostgresRefreshTokenRepository(deps.DB)

	var blacklistRepo oauth.BlacklistRepository = tokeninfra.NewPostgresBlacklistRepository(deps.DB)
	if deps.Redis != nil {
		blacklistRepo = tokeninfra.NewCachedBlacklistRepository(blacklistRepo, deps.Redis)
		logx.Info("  ✅ using redis-cached blacklist lookups")
	} else {
		logx.Warn("  ⚠️  no redis configured, blacklist checks always hit postgres")
	}

	userRepo := userinfra.NewPostgresUserRepository(deps.DB)
	historyRepo := userinfra.NewPostgresPasswordHistoryRepository(deps.DB)
	resetRepo := userinfra.NewPostgresPasswordResetRepository(deps.DB)
	verifyRepo := userinfra.NewPostgresEmailVerificationRepository(deps.DB)
	sessionRepo := sessioninfra.NewPostgresSessionRepository(deps.DB)

	roleRepo := rbacinfra.NewPostgresRoleRepository(deps.DB)
	permissionRepo := rbacinfra.NewPostgresPermissionRepository(deps.DB)
	assignmentRepo := rbacinfra.NewPostgresAssignmentRepository(deps.DB)

	auditRepo := auditinfra.NewPostgresAuditRecorder(deps.DB)

	// ── Crypto ───────────────────────────────────────────────────────────

	keyPair := loadKeyPair(deps.Cfg.Crypto)
	signer := crypto.NewSigner(keyPair)
	claims := oauth.NewClaimsBuilder(signer, deps.Cfg.Server.Issuer, deps.Cfg.Server.Issuer)

	// ── Domain services ──────────────────────────────────────────────────

	c.ClientService = clientsrv.New(clientRepo)
	c.AuthorizeService = authorizesrv.New(c.ClientService, sessionRepo, consentRepo, codeRepo)
	c.RBACService = rbacsrv.New(assignmentRepo)

	c.TokenService = tokensrv.New(
		c.ClientService,
		codeRepo,
		accessTokenRepo,
		refreshTokenRepo,
		blacklistRepo,
		claims,
		userRepo,
		c.RBACService,
	)

	notifier := deps.EmailSender
	if deps.Redis != nil {
		c.EmailQueue = NewEmailJobQueue(deps.Redis, deps.EmailSender, JobxOptions{
			Queues:            deps.Cfg.Jobx.Queues,
			Concurrency:       deps.Cfg.Jobx.Concurrency,
			PollInterval:      deps.Cfg.Jobx.PollInterval,
			ShutdownTimeout:   deps.Cfg.Jobx.ShutdownTimeout,
			DequeueTimeout:    deps.Cfg.Jobx.DequeueTimeout,
			DefaultRetryDelay: deps.Cfg.Jobx.DefaultRetryDelay,
		})
		notifier = c.EmailQueue
		logx.Info("  ✅ outgoing email routed through the jobx queue")
	} else {
		logx.Warn("  ⚠️  no redis configured, outgoing email is sent inline")
	}

	c.AccountService = accountsrv.New(
		userRepo,
		historyRepo,
		resetRepo,
		verifyRepo,
		notifier,
		accountsrv.DefaultPasswordPolicy(),
		deps.Cfg.Crypto.BcryptCost,
		deps.Cfg.Notifx.FromAddress,
		deps.Cfg.Server.Issuer,
	)

	c.DiscoveryService = discoverysrv.New(deps.Cfg.Server.Issuer, keyPair, defaultScopes, deps.Cfg.Server.BasePath)

	// ── Cross-cutting ────────────────────────────────────────────────────

	c.Authenticator = authn.NewAuthenticator(claims, blacklistRepo, c.RBACService)
	c.AuditRecorder = authn.NewBoundedAuditRecorder(auditRepo)

	// ── Background services ──────────────────────────────────────────────

	c.CleanupService = NewCleanupService(
		codeRepo,
		accessTokenRepo,
		refreshTokenRepo,
		blacklistRepo,
		sessionRepo,
		deps.Cfg.Session.TTL,
	)

	c.Clients = clientRepo
	c.Scopes = scopeRepo
	c.Users = userRepo
	c.Roles = roleRepo
	c.Permissions = permissionRepo
	c.Assignments = assignmentRepo

	logx.Info("✅ oauth container initialized")
	return c
}

// loadKeyPair reads the PEM-encoded signing key named by cfg and parses it
// according to the configured algorithm family.
func loadKeyPair(cfg config.CryptoConfig) *crypto.KeyPair {
	pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		logx.WithError(err).Fatal("oauthcontainer: failed to read signing key")
	}

	var kp *crypto.KeyPair
	if cfg.KeyAlg == string(crypto.AlgES256) {
		kp, err = crypto.LoadECKeyPair(pemBytes)
	} else {
		kp, err = crypto.LoadRSAKeyPair(pemBytes)
	}
	if err != nil {
		logx.WithError(err).Fatal("oauthcontainer: failed to parse signing key")
	}
	return kp
}
