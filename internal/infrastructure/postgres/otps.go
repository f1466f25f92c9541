package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/domain"
)

// OTPRepo persists one-time codes. Request-path code never deletes rows;
// deletion is the retention sweeper's job.
type OTPRepo struct {
	db *DB
}

func NewOTPRepo(db *DB) *OTPRepo { return &OTPRepo{db: db} }

const otpColumns = `id, user_id, code_type, code_hash, token_id, attempts, last_attempt_at, used, created_at, expires_at`

func (r *OTPRepo) Insert(ctx context.Context, c *domain.OneTimeCode) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO one_time_codes (`+otpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.UserID, c.Type, c.CodeHash, c.TokenID, c.Attempts, c.LastAttemptAt, c.Used, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("active code already exists: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert one-time code: %w", err)
	}
	return nil
}

// LatestActive returns the newest unused, unexpired code for (user, type),
// or ErrNotFound.
func (r *OTPRepo) LatestActive(ctx context.Context, userID string, t domain.OTPType) (*domain.OneTimeCode, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+otpColumns+`
		FROM one_time_codes
		WHERE user_id = $1 AND code_type = $2 AND NOT used AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, t))
}

// Latest returns the newest code for (user, type) regardless of state. The
// cooldown check uses it so a just-expired code still gates resends.
func (r *OTPRepo) Latest(ctx context.Context, userID string, t domain.OTPType) (*domain.OneTimeCode, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+otpColumns+`
		FROM one_time_codes
		WHERE user_id = $1 AND code_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, t))
}

// ExpireActive retires any live code for (user, type) in a single conditional
// update, clearing the partial unique index so a fresh insert can follow
// within the same transaction.
func (r *OTPRepo) ExpireActive(ctx context.Context, userID string, t domain.OTPType) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE one_time_codes
		SET used = TRUE, expires_at = NOW()
		WHERE user_id = $1 AND code_type = $2 AND NOT used
	`, userID, t)
	if err != nil {
		return fmt.Errorf("expire active codes: %w", err)
	}
	return nil
}

// MarkAsUsed consumes a code. It fails with ErrConflict when the code was
// already used or expired, which locks a validated code against replay.
func (r *OTPRepo) MarkAsUsed(ctx context.Context, id string) error {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE one_time_codes
		SET used = TRUE
		WHERE id = $1 AND NOT used AND expires_at > NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("mark code used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("code already used or expired: %w", domain.ErrConflict)
	}
	return nil
}

// ForceExpire moves the expiry to now. Idempotent.
func (r *OTPRepo) ForceExpire(ctx context.Context, id string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE one_time_codes
		SET expires_at = NOW()
		WHERE id = $1 AND expires_at > NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("force-expire code: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the failure counter and returns the new count.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.q(ctx).QueryRowContext(ctx, `
		UPDATE one_time_codes
		SET attempts = attempts + 1, last_attempt_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// LockOut marks a code used and expired even though it was never consumed,
// after too many wrong guesses.
func (r *OTPRepo) LockOut(ctx context.Context, id string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE one_time_codes
		SET used = TRUE, expires_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("lock out code: %w", err)
	}
	return nil
}

// DeleteExpiredBatch removes up to batchSize codes past their retention
// window and returns how many were deleted.
func (r *OTPRepo) DeleteExpiredBatch(ctx context.Context, retention, maxAge time.Duration, batchSize int) (int, error) {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		DELETE FROM one_time_codes
		WHERE id IN (
			SELECT id FROM one_time_codes
			WHERE (used AND created_at < NOW() - make_interval(secs => $1))
			   OR (expires_at < NOW() - make_interval(secs => $1))
			   OR (created_at < NOW() - make_interval(secs => $2))
			LIMIT $3
		)
	`, retention.Seconds(), maxAge.Seconds(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *OTPRepo) scanOne(row *sql.Row) (*domain.OneTimeCode, error) {
	var c domain.OneTimeCode
	var tokenID sql.NullString
	var lastAttempt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.Type, &c.CodeHash, &tokenID, &c.Attempts, &lastAttempt, &c.Used, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("one-time code not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan one-time code: %w", err)
	}
	if tokenID.Valid {
		c.TokenID = &tokenID.String
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		c.LastAttemptAt = &t
	}
	return &c, nil
}
