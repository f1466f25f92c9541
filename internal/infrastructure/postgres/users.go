package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/domain"
)

// UserRepo persists user records for the identity service.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `user_id, email, phone, password_hash, role, email_confirmed, email_confirmed_at, phone_confirmed, security_stamp, created_at, updated_at`

func (r *UserRepo) Insert(ctx context.Context, u *domain.User) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.UserID, u.Email, u.Phone, u.PasswordHash, u.Role, u.EmailConfirmed, u.EmailConfirmedAt, u.PhoneConfirmed, u.SecurityStamp, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("email already registered: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE user_id = $1
	`, userID))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = $1
	`, email))
}

func (r *UserRepo) SetEmailConfirmed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET email_confirmed = TRUE, email_confirmed_at = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("set email confirmed: %w", err)
	}
	return nil
}

func (r *UserRepo) SetPhoneConfirmed(ctx context.Context, userID string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET phone_confirmed = TRUE, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("set phone confirmed: %w", err)
	}
	return nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (r *UserRepo) UpdateSecurityStamp(ctx context.Context, userID, stamp string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET security_stamp = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, stamp)
	if err != nil {
		return fmt.Errorf("update security stamp: %w", err)
	}
	return nil
}

// DeleteUnverifiedBatch removes accounts that never confirmed their email
// within the retention window.
func (r *UserRepo) DeleteUnverifiedBatch(ctx context.Context, maxAge time.Duration, batchSize int) (int, error) {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		DELETE FROM users
		WHERE user_id IN (
			SELECT user_id FROM users
			WHERE NOT email_confirmed
			  AND created_at < NOW() - make_interval(secs => $1)
			LIMIT $2
		)
	`, maxAge.Seconds(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete unverified users: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *UserRepo) scanOne(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var phone sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&u.UserID, &u.Email, &phone, &u.PasswordHash, &u.Role, &u.EmailConfirmed, &confirmedAt, &u.PhoneConfirmed, &u.SecurityStamp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if phone.Valid {
		u.Phone = &phone.String
	}
	if confirmedAt.Valid {
		at := confirmedAt.Time.UTC()
		u.EmailConfirmedAt = &at
	}
	return &u, nil
}
