// Package userinfra implements account's identity and credential-lifecycle
// repository ports (users, password history, password reset, email
// verification) against PostgreSQL.
package userinfra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/errx"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) account.UserRepository {
	return &PostgresUserRepository{db: db}
}

type userPersistence struct {
	ID                  string         `db:"id"`
	Username            string         `db:"username"`
	Email               sql.NullString `db:"email"`
	PasswordHash        string         `db:"password_hash"`
	IsActive            bool           `db:"is_active"`
	EmailVerified       bool           `db:"email_verified"`
	MustChangePassword  bool           `db:"must_change_password"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	LockedUntil         *time.Time     `db:"locked_until"`
	LastLoginAt         *time.Time     `db:"last_login_at"`
	DisplayName         string         `db:"display_name"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toDomain(p userPersistence) *account.User {
	var email *string
	if p.Email.Valid {
		email = &p.Email.String
	}
	return &account.User{
		ID:                  kernel.NewUserID(p.ID),
		Username:            p.Username,
		Email:               email,
		PasswordHash:        p.PasswordHash,
		IsActive:            p.IsActive,
		EmailVerified:       p.EmailVerified,
		MustChangePassword:  p.MustChangePassword,
		FailedLoginAttempts: p.FailedLoginAttempts,
		LockedUntil:         p.LockedUntil,
		LastLoginAt:         p.LastLoginAt,
		DisplayName:         p.DisplayName,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func toPersistence(u *account.User) userPersistence {
	var email sql.NullString
	if u.Email != nil {
		email = sql.NullString{String: *u.Email, Valid: true}
	}
	return userPersistence{
		ID: u.ID.String(), Username: u.Username, Email: email, PasswordHash: u.PasswordHash,
		IsActive: u.IsActive, EmailVerified: u.EmailVerified, MustChangePassword: u.MustChangePassword,
		FailedLoginAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil, LastLoginAt: u.LastLoginAt,
		DisplayName: u.DisplayName, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (r *PostgresUserRepository) Save(ctx context.Context, u *account.User) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, u.ID.String()); err != nil {
		return errx.Wrap(err, "failed to check user existence", errx.TypeInternal)
	}
	p := toPersistence(u)
	if exists {
		query := `
			UPDATE users SET
				username = :username, email = :email, password_hash = :password_hash,
				is_active = :is_active, email_verified = :email_verified,
				must_change_password = :must_change_password,
				failed_login_attempts = :failed_login_attempts, locked_until = :locked_until,
				last_login_at = :last_login_at, display_name = :display_name, updated_at = :updated_at
			WHERE id = :id`
		if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return account.ErrUsernameTaken()
			}
			return errx.Wrap(err, "failed to update user", errx.TypeInternal).WithDetail("user_id", u.ID.String())
		}
		return nil
	}

	query := `
		INSERT INTO users (
			id, username, email, password_hash, is_active, email_verified,
			must_change_password, failed_login_attempts, locked_until,
			last_login_at, display_name, created_at, updated_at
		) VALUES (
			:id, :username, :email, :password_hash, :is_active, :email_verified,
			:must_change_password, :failed_login_attempts, :locked_until,
			:last_login_at, :display_name, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return account.ErrUsernameTaken()
		}
		return errx.Wrap(err, "failed to create user", errx.TypeInternal).WithDetail("user_id", u.ID.String())
	}
	return nil
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id kernel.UserID) (*account.User, error) {
	var p userPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM users WHERE id = $1`, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidCredentials()
		}
		return nil, errx.Wrap(err, "failed to find user by id", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (*account.User, error) {
	var p userPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM users WHERE lower(username) = lower($1)`, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidCredentials()
		}
		return nil, errx.Wrap(err, "failed to find user by username", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*account.User, error) {
	var p userPersistence
	err := r.db.GetContext(ctx, &p, `SELECT * FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, account.ErrInvalidCredentials()
		}
		return nil, errx.Wrap(err, "failed to find user by email", errx.TypeInternal)
	}
	return toDomain(p), nil
}

func (r *PostgresUserRepository) List(ctx context.Context, opts kernel.PaginationOptions, filter account.UserFilter) (kernel.Paginated[*account.User], error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argN := 1
	if filter.IsActive != nil {
		where += fmt.Sprintf(" AND is_active = $%d", argN)
		args = append(args, *filter.IsActive)
		argN++
	}
	if filter.Query != nil && *filter.Query != "" {
		where += fmt.Sprintf(" AND (username ILIKE $%d OR email ILIKE $%d)", argN, argN)
		args = append(args, "%"+*filter.Query+"%")
		argN++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users "+where, args...); err != nil {
		return kernel.Paginated[*account.User]{}, errx.Wrap(err, "failed to count users", errx.TypeInternal)
	}

	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	listQuery := fmt.Sprintf("SELECT * FROM users %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", where, argN, argN+1)
	args = append(args, size, (page-1)*size)

	var rows []userPersistence
	if err := r.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return kernel.Paginated[*account.User]{}, errx.Wrap(err, "failed to list users", errx.TypeInternal)
	}
	items := make([]*account.User, len(rows))
	for i, row := range rows {
		items[i] = toDomain(row)
	}
	return kernel.NewPaginated(items, page, size, total), nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id kernel.UserID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete user", errx.TypeInternal)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if n == 0 {
		return account.ErrInvalidCredentials()
	}
	return nil
}
