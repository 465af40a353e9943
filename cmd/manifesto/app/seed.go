package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/account/userinfra"
	"github.com/Abraxas-365/manifesto/pkg/config"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/oauth"
	"github.com/Abraxas-365/manifesto/pkg/oauth/scopeinfra"
	"github.com/Abraxas-365/manifesto/pkg/ptrx"
	"github.com/Abraxas-365/manifesto/pkg/rbac"
	"github.com/Abraxas-365/manifesto/pkg/rbac/rbacinfra"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// defaultScopes mirrors the scope set wired into the discovery document by
// oauthcontainer, seeded here so a fresh database advertises the same set it
// serves.
var defaultScopes = []oauth.Scope{
	{Name: "openid", Description: "authenticate and receive an ID token", IsPublic: true, IsActive: true},
	{Name: "profile", Description: "read basic profile information", IsPublic: true, IsActive: true},
	{Name: "email", Description: "read the verified email address", IsPublic: true, IsActive: true},
	{Name: "offline_access", Description: "receive a refresh token", IsPublic: true, IsActive: true},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bootstrap the first SYSTEM_ADMIN user and default OAuth scopes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSeed(cmd.Context())
	},
}

func runSeed(ctx context.Context) error {
	cfg := config.Load()

	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	scopes := scopeinfra.NewPostgresScopeRepository(db)
	if err := seedScopes(ctx, scopes); err != nil {
		return fmt.Errorf("seed scopes: %w", err)
	}

	users := userinfra.NewPostgresUserRepository(db)
	roles := rbacinfra.NewPostgresRoleRepository(db)
	assignments := rbacinfra.NewPostgresAssignmentRepository(db)
	if err := seedAdmin(ctx, cfg.Admin, cfg.Crypto.BcryptCost, users, roles, assignments); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	logx.Info("✅ seed complete")
	return nil
}

func seedScopes(ctx context.Context, repo oauth.ScopeRepository) error {
	for i := range defaultScopes {
		s := defaultScopes[i]
		if existing, err := repo.FindByName(ctx, s.Name); err == nil && existing != nil {
			continue
		}
		if err := repo.Save(ctx, &s); err != nil {
			return err
		}
		logx.Infof("  ✅ scope %q seeded", s.Name)
	}
	return nil
}

func seedAdmin(
	ctx context.Context,
	admin config.AdminBootstrapConfig,
	bcryptCost int,
	users account.UserRepository,
	roles rbac.RoleRepository,
	assignments rbac.AssignmentRepository,
) error {
	if admin.Password == "" {
		logx.Warn("  ⚠️  ADMIN_BOOTSTRAP_PASSWORD not set, skipping admin bootstrap")
		return nil
	}

	if _, err := users.FindByUsername(ctx, admin.Username); err == nil {
		logx.Infof("  admin user %q already exists, skipping", admin.Username)
		return nil
	}

	role, err := roles.FindByName(ctx, rbac.SystemAdminRole)
	if err != nil {
		now := time.Now().UTC()
		role = &rbac.Role{
			ID:          uuid.NewString(),
			Name:        rbac.SystemAdminRole,
			DisplayName: "System Administrator",
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := roles.Save(ctx, role); err != nil {
			return fmt.Errorf("create SYSTEM_ADMIN role: %w", err)
		}
		logx.Info("  ✅ SYSTEM_ADMIN role created")
	}

	passwordHash, err := crypto.HashPassword(admin.Password, bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now().UTC()
	user := &account.User{
		ID:            kernel.NewUserID(uuid.NewString()),
		Username:      admin.Username,
		Email:         ptrx.String(admin.Email),
		PasswordHash:  passwordHash,
		IsActive:      true,
		EmailVerified: true,
		DisplayName:   admin.Username,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Save(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	if err := assignments.AssignRole(ctx, &rbac.UserRole{
		UserID:     user.ID,
		RoleID:     role.ID,
		AssignedAt: now,
	}); err != nil {
		return fmt.Errorf("assign SYSTEM_ADMIN role: %w", err)
	}

	logx.Infof("  ✅ admin user %q created with SYSTEM_ADMIN role", admin.Username)
	return nil
}
