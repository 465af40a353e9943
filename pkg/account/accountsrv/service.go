// Package accountsrv implements the operations over the account package's
// domain types: credential verification with lockout, password history
// enforcement, and the reset/verification token lifecycles.
package accountsrv

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/crypto"
	"github.com/Abraxas-365/manifesto/pkg/logx"
	"github.com/Abraxas-365/manifesto/pkg/notifx"
)

// PasswordPolicy configures the complexity rules enforced on new passwords.
type PasswordPolicy struct {
	MinLength        int
	RequireUpper     bool
	RequireLower     bool
	RequireDigit     bool
	RequireSpecial   bool
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true}
}

// Service implements the password & account policy engine.
type Service struct {
	users      account.UserRepository
	history    account.PasswordHistoryRepository
	resets     account.PasswordResetRepository
	verifies   account.EmailVerificationRepository
	notifier   notifx.EmailSender
	policy     PasswordPolicy
	bcryptCost int
	fromAddr   string
	appBaseURL string
}

func New(
	users account.UserRepository,
	history account.PasswordHistoryRepository,
	resets account.PasswordResetRepository,
	verifies account.EmailVerificationRepository,
	notifier notifx.EmailSender,
	policy PasswordPolicy,
	bcryptCost int,
	fromAddr, appBaseURL string,
) *Service {
	return &Service{
		users: users, history: history, resets: resets, verifies: verifies,
		notifier: notifier, policy: policy, bcryptCost: bcryptCost,
		fromAddr: fromAddr, appBaseURL: appBaseURL,
	}
}

// Authenticate verifies a username/password pair, applying lockout rules.
// Every failure path - unknown user, inactive account, locked account, or
// wrong password - returns the same neutral error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*account.User, error) {
	user, err := s.users.FindByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, account.ErrInvalidCredentials()
	}

	if !user.IsActive {
		return nil, account.ErrInvalidCredentials()
	}
	if user.IsLocked() {
		return nil, account.ErrInvalidCredentials()
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		s.recordFailedLogin(ctx, user)
		return nil, account.ErrInvalidCredentials()
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.users.Save(ctx, user); err != nil {
		logx.WithError(err).Warn("accountsrv: failed to persist successful-login state")
	}

	return user, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, user *account.User) {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= account.MaxFailedLogins {
		locked := time.Now().UTC().Add(account.LockoutDuration)
		user.LockedUntil = &locked
	}
	if err := s.users.Save(ctx, user); err != nil {
		logx.WithError(err).Warn("accountsrv: failed to persist lockout state")
	}
}

// ValidatePasswordComplexity enforces the configured policy.
func (s *Service) ValidatePasswordComplexity(password string) error {
	if len(password) < s.policy.MinLength {
		return account.ErrWeakPassword("too short")
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}
	if s.policy.RequireUpper && !hasUpper {
		return account.ErrWeakPassword("missing uppercase letter")
	}
	if s.policy.RequireLower && !hasLower {
		return account.ErrWeakPassword("missing lowercase letter")
	}
	if s.policy.RequireDigit && !hasDigit {
		return account.ErrWeakPassword("missing digit")
	}
	if s.policy.RequireSpecial && !hasSpecial {
		return account.ErrWeakPassword("missing special character")
	}
	return nil
}

// SetPassword hashes and stores a new password after checking it against the
// complexity policy and history: rejected if equal, under hashing, to any of
// the last N or the current password.
func (s *Service) SetPassword(ctx context.Context, user *account.User, newPassword string) error {
	if err := s.ValidatePasswordComplexity(newPassword); err != nil {
		return err
	}

	if crypto.VerifyPassword(user.PasswordHash, newPassword) {
		return account.ErrPasswordReused()
	}

	recent, err := s.history.Recent(ctx, user.ID, account.PasswordHistoryDepth)
	if err != nil {
		return err
	}
	for _, entry := range recent {
		if crypto.VerifyPassword(entry.PasswordHash, newPassword) {
			return account.ErrPasswordReused()
		}
	}

	newHash, err := crypto.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	if err := s.history.Insert(ctx, account.PasswordHistoryEntry{
		UserID: user.ID, PasswordHash: user.PasswordHash, CreatedAt: time.Now().UTC(),
	}, account.PasswordHistoryDepth); err != nil {
		return err
	}

	user.PasswordHash = newHash
	user.MustChangePassword = false
	return s.users.Save(ctx, user)
}

// ForgotPassword always returns nil (the neutral response); if the email
// resolves to an active user, a reset token is issued and the prior unused
// tokens for that user are invalidated atomically.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(email))
	if err != nil || !user.IsActive {
		return nil // neutral: do not reveal whether the email exists
	}

	token, err := crypto.RandomToken(32)
	if err != nil {
		logx.WithError(err).Error("accountsrv: failed to generate reset token")
		return nil
	}

	req := &account.PasswordResetRequest{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(account.ResetTokenTTL),
	}
	if err := s.resets.IssueInvalidatingPrior(ctx, req); err != nil {
		logx.WithError(err).Error("accountsrv: failed to issue reset token")
		return nil
	}

	s.sendResetEmail(ctx, user, token)
	return nil
}

func (s *Service) sendResetEmail(ctx context.Context, user *account.User, token string) {
	if user.Email == nil || s.notifier == nil {
		return
	}
	msg := notifx.EmailMessage{
		From:    s.fromAddr,
		To:      []string{*user.Email},
		Subject: "Reset your password",
		TextBody: "Use this link to reset your password: " + s.appBaseURL + "/reset-password?token=" + token,
	}
	if err := s.notifier.SendEmail(ctx, msg); err != nil {
		logx.WithError(err).Warn("accountsrv: failed to send reset email")
	}
}

// ResetPassword consumes a reset token and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	req, err := s.resets.ConsumeAtomically(ctx, token)
	if err != nil {
		return account.ErrInvalidResetToken()
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return account.ErrInvalidResetToken()
	}

	return s.SetPassword(ctx, user, newPassword)
}

// RequestEmailVerification issues a single-use verification token for the
// user's current email and sends it.
func (s *Service) RequestEmailVerification(ctx context.Context, user *account.User) error {
	if user.Email == nil {
		return nil
	}
	token, err := crypto.RandomToken(32)
	if err != nil {
		return err
	}
	req := &account.EmailVerificationRequest{
		Token:     token,
		UserID:    user.ID,
		Email:     strings.ToLower(*user.Email),
		ExpiresAt: time.Now().UTC().Add(account.ResetTokenTTL),
	}
	if err := s.verifies.IssueInvalidatingPrior(ctx, req); err != nil {
		return err
	}

	if s.notifier != nil {
		msg := notifx.EmailMessage{
			From:     s.fromAddr,
			To:       []string{*user.Email},
			Subject:  "Verify your email",
			TextBody: "Confirm your email: " + s.appBaseURL + "/verify-email?token=" + token,
		}
		if err := s.notifier.SendEmail(ctx, msg); err != nil {
			logx.WithError(err).Warn("accountsrv: failed to send verification email")
		}
	}
	return nil
}

// ConfirmEmailVerification consumes the token atomically, only succeeding
// when the token's bound email still matches the user's current email
// (case-insensitively).
func (s *Service) ConfirmEmailVerification(ctx context.Context, token string) error {
	req, err := s.verifies.ConsumeAtomically(ctx, token)
	if err != nil {
		return account.ErrInvalidVerifyToken()
	}

	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return account.ErrInvalidVerifyToken()
	}
	if user.Email == nil || !strings.EqualFold(*user.Email, req.Email) {
		return account.ErrInvalidVerifyToken()
	}

	user.EmailVerified = true
	return s.users.Save(ctx, user)
}
