// Package account implements the identity store and password/account
// policy engine - password hashing and verification, lockout, password
// history, password-reset and email-verification token lifecycles.
package account

import (
	"context"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
)

var ErrRegistry = errx.NewRegistry("ACCOUNT")

var (
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, 401, "Invalid username or password")
	CodeAccountLocked      = ErrRegistry.Register("ACCOUNT_LOCKED", errx.TypeAuthorization, 401, "Invalid username or password")
	CodeAccountInactive    = ErrRegistry.Register("ACCOUNT_INACTIVE", errx.TypeAuthorization, 401, "Invalid username or password")
	CodePasswordReused     = ErrRegistry.Register("PASSWORD_REUSED", errx.TypeValidation, 400, "password was used recently and cannot be reused")
	CodeWeakPassword       = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, 400, "password does not meet complexity requirements")
	CodeInvalidResetToken  = ErrRegistry.Register("INVALID_RESET_TOKEN", errx.TypeValidation, 400, "reset token is invalid or expired")
	CodeInvalidVerifyToken = ErrRegistry.Register("INVALID_VERIFY_TOKEN", errx.TypeValidation, 400, "verification token is invalid or expired")
	CodeUsernameTaken      = ErrRegistry.Register("USERNAME_TAKEN", errx.TypeConflict, 409, "username already registered")
)

// ErrInvalidCredentials is the single user-neutral message used for every
// password-authentication failure, so a caller can never distinguish
// "no such user" from "wrong password" from "account locked".
func ErrInvalidCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidCredentials) }

func ErrPasswordReused() *errx.Error    { return ErrRegistry.New(CodePasswordReused) }
func ErrWeakPassword(reason string) *errx.Error {
	return ErrRegistry.New(CodeWeakPassword).WithDetail("reason", reason)
}
func ErrInvalidResetToken() *errx.Error  { return ErrRegistry.New(CodeInvalidResetToken) }
func ErrInvalidVerifyToken() *errx.Error { return ErrRegistry.New(CodeInvalidVerifyToken) }
func ErrUsernameTaken() *errx.Error      { return ErrRegistry.New(CodeUsernameTaken) }

// LockoutDuration is how long an account stays locked after MaxFailedLogins
// consecutive failures.
const LockoutDuration = 15 * time.Minute

// MaxFailedLogins is the default consecutive-failure threshold before lockout.
const MaxFailedLogins = 5

// PasswordHistoryDepth is the minimum number of prior password hashes kept
// and checked against on password change.
const PasswordHistoryDepth = 5

// ResetTokenTTL bounds password-reset token lifetime.
const ResetTokenTTL = time.Hour

// User is an identity in the integrated identity store.
type User struct {
	ID                   kernel.UserID
	Username             string // unique, case-folded
	Email                *string
	PasswordHash         string
	IsActive             bool
	EmailVerified        bool
	MustChangePassword   bool
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	LastLoginAt          *time.Time
	DisplayName          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsLocked reports whether the user is currently within a lockout window,
// per the invariant that a user with lockedUntil > now MUST NOT authenticate
// by password.
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && u.LockedUntil.After(time.Now().UTC())
}

// UserFilter narrows a user listing query.
type UserFilter struct {
	IsActive *bool
	Query    *string // matches against username/email
}

// UserRepository is the abstract persistence contract for users.
type UserRepository interface {
	Save(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id kernel.UserID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, opts kernel.PaginationOptions, filter UserFilter) (kernel.Paginated[*User], error)
	Delete(ctx context.Context, id kernel.UserID) error
}

// UserSession is a browser-login artifact consulted by the authorization
// code engine before it will mint a code; distinct from OAuth tokens.
type UserSession struct {
	ID         string
	UserID     kernel.UserID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

func (s *UserSession) IsValid() bool {
	return time.Now().UTC().Before(s.ExpiresAt)
}

// SessionRepository is the abstract persistence contract for user sessions.
type SessionRepository interface {
	Save(ctx context.Context, s *UserSession) error
	FindByID(ctx context.Context, id string) (*UserSession, error)
	Touch(ctx context.Context, id string, lastSeenAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PasswordHistoryEntry records a prior password hash so it cannot be reused.
type PasswordHistoryEntry struct {
	UserID       kernel.UserID
	PasswordHash string
	CreatedAt    time.Time
}

// PasswordHistoryRepository is the abstract persistence contract for
// password history. Insert MUST prune to PasswordHistoryDepth most-recent
// entries.
type PasswordHistoryRepository interface {
	Insert(ctx context.Context, entry PasswordHistoryEntry, retain int) error
	Recent(ctx context.Context, userID kernel.UserID, n int) ([]PasswordHistoryEntry, error)
}

// PasswordResetRequest is a single-use, high-entropy token issued for the
// forgot-password flow.
type PasswordResetRequest struct {
	Token     string
	UserID    kernel.UserID
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}

func (r *PasswordResetRequest) IsValid() bool {
	return !r.IsUsed && time.Now().UTC().Before(r.ExpiresAt)
}

// PasswordResetRepository is the abstract persistence contract for reset
// tokens. IssueInvalidatingPrior MUST atomically invalidate every prior
// unused token for the user before inserting the new one.
type PasswordResetRepository interface {
	IssueInvalidatingPrior(ctx context.Context, req *PasswordResetRequest) error
	FindByToken(ctx context.Context, token string) (*PasswordResetRequest, error)
	// ConsumeAtomically marks the token used and returns it, failing if
	// already used/expired, so concurrent resets cannot double-apply.
	ConsumeAtomically(ctx context.Context, token string) (*PasswordResetRequest, error)
}

// EmailVerificationRequest is the same shape as PasswordResetRequest plus the
// email address being verified, so confirm can check it still matches the
// user's current email.
type EmailVerificationRequest struct {
	Token     string
	UserID    kernel.UserID
	Email     string
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}

func (r *EmailVerificationRequest) IsValid() bool {
	return !r.IsUsed && time.Now().UTC().Before(r.ExpiresAt)
}

// EmailVerificationRepository is the abstract persistence contract for
// email-verification tokens.
type EmailVerificationRepository interface {
	IssueInvalidatingPrior(ctx context.Context, req *EmailVerificationRequest) error
	FindByToken(ctx context.Context, token string) (*EmailVerificationRequest, error)
	// ConsumeAtomically marks the token used and returns it, failing if
	// already used/expired, so concurrent confirms cannot double-apply.
	ConsumeAtomically(ctx context.Context, token string) (*EmailVerificationRequest, error)
}
