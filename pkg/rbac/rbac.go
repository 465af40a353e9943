// Package rbac implements roles, permissions, and the effective-
// permission resolution and check operations the middleware gate consumes.
package rbac

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("RBAC")

var (
	CodeRoleNotFound       = ErrRegistry.Register("ROLE_NOT_FOUND", errx.TypeNotFound, 404, "role not found")
	CodeRoleNameTaken      = ErrRegistry.Register("ROLE_NAME_TAKEN", errx.TypeConflict, 409, "role name already exists")
	CodeRoleReserved       = ErrRegistry.Register("ROLE_RESERVED", errx.TypeBusiness, 422, "role is a reserved system role and cannot be modified this way")
	CodePermissionNotFound = ErrRegistry.Register("PERMISSION_NOT_FOUND", errx.TypeNotFound, 404, "permission not found")
	CodePermissionImmutable = ErrRegistry.Register("PERMISSION_IMMUTABLE", errx.TypeBusiness, 422, "permission name/type is immutable")
)

func ErrRoleNotFound() *errx.Error        { return ErrRegistry.New(CodeRoleNotFound) }
func ErrRoleNameTaken() *errx.Error       { return ErrRegistry.New(CodeRoleNameTaken) }
func ErrRoleReserved() *errx.Error        { return ErrRegistry.New(CodeRoleReserved) }
func ErrPermissionNotFound() *errx.Error  { return ErrRegistry.New(CodePermissionNotFound) }
func ErrPermissionImmutable() *errx.Error { return ErrRegistry.New(CodePermissionImmutable) }

// ReservedRoleNames cannot be deleted; SYSTEM_ADMIN additionally cannot be
// deactivated.
var ReservedRoleNames = map[string]bool{
	"SYSTEM_ADMIN":      true,
	"USER":              true,
	"USER_ADMIN":        true,
	"PERMISSION_ADMIN":  true,
	"CLIENT_ADMIN":      true,
	"AUDIT_ADMIN":       true,
}

const SystemAdminRole = "SYSTEM_ADMIN"

// Role groups permissions for assignment to users.
type Role struct {
	ID          string
	Name        string
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *Role) IsReserved() bool { return ReservedRoleNames[r.Name] }

// PermissionType distinguishes API-gate permissions from menu/UI-visibility
// permissions.
type PermissionType string

const (
	PermissionTypeAPI  PermissionType = "API"
	PermissionTypeMenu PermissionType = "MENU"
)

// APIDetails qualifies an API-type permission with the HTTP route it gates.
type APIDetails struct {
	HTTPMethod string
	Endpoint   string
}

// MenuDetails qualifies a MENU-type permission with the UI element it gates.
type MenuDetails struct {
	MenuID string
}

// Permission is an RBAC unit of the form "resource:action". Name and Type
// are immutable once created.
type Permission struct {
	ID          string
	Name        string
	Type        PermissionType
	APIDetails  *APIDetails
	MenuDetails *MenuDetails
	IsActive    bool
	CreatedAt   time.Time
}

// RolePermission is a many-to-many join between roles and permissions.
type RolePermission struct {
	RoleID       string
	PermissionID string
}

// UserRole is a many-to-many join between users and roles, optionally
// time-bounded.
type UserRole struct {
	UserID     kernel.UserID
	RoleID     string
	AssignedBy *kernel.UserID
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// IsActive reports whether the assignment is currently in effect (no expiry
// or expiry in the future).
func (ur *UserRole) IsActive() bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(time.Now().UTC())
}

// RoleRepository is the abstract persistence contract for roles.
type RoleRepository interface {
	Save(ctx context.Context, r *Role) error
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[*Role], error)
	Delete(ctx context.Context, id string) error
}

// PermissionRepository is the abstract persistence contract for permissions.
type PermissionRepository interface {
	Save(ctx context.Context, p *Permission) error
	FindByID(ctx context.Context, id string) (*Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	List(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[*Permission], error)
	Delete(ctx context.Context, id string) error
}

// AssignmentRepository is the abstract persistence contract for the
// RolePermission and UserRole join tables, plus the one query the
// permission engine actually needs: every active permission reachable from
// a user's active role assignments.
type AssignmentRepository interface {
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]*Permission, error)

	AssignRole(ctx context.Context, ur *UserRole) error
	UnassignRole(ctx context.Context, userID kernel.UserID, roleID string) error
	RolesForUser(ctx context.Context, userID kernel.UserID) ([]*UserRole, error)

	// EffectivePermissions returns the deduplicated union of active
	// Permissions reachable from the user's active, non-expired UserRoles
	// whose Role is itself active, pushed down to the repository so it can
	// be one join instead of N+1.
	EffectivePermissions(ctx context.Context, userID kernel.UserID) ([]*Permission, error)
}
