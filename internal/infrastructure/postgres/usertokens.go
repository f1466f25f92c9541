package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetrent/authcore/internal/domain"
)

// TokenRepo persists user token records. Revocation is always a single
// conditional update so concurrent revokes of the same jti stay idempotent
// without locking.
type TokenRepo struct {
	db *DB
}

func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const tokenColumns = `id, token_type, user_id, refresh_hash, jti, used, revoked, revoked_at, created_at, expires_at`

func (r *TokenRepo) Insert(ctx context.Context, t *domain.UserToken) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		INSERT INTO user_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.Type, t.UserID, t.RefreshHash, t.JTI, t.Used, t.Revoked, t.RevokedAt, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("token already exists: %w", domain.ErrConflict)
		}
		return fmt.Errorf("insert user token: %w", err)
	}
	return nil
}

// LatestByUserAndType returns the newest token of the given type for the
// user, regardless of state, or ErrNotFound.
func (r *TokenRepo) LatestByUserAndType(ctx context.Context, userID string, t domain.TokenType) (*domain.UserToken, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM user_tokens
		WHERE user_id = $1 AND token_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, t))
}

func (r *TokenRepo) ByJTI(ctx context.Context, jti string) (*domain.UserToken, error) {
	return r.scanOne(r.db.q(ctx).QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM user_tokens
		WHERE jti = $1
	`, jti))
}

// RevokeByJTI retires a token. Idempotent: revoking an already-revoked jti
// affects zero rows and returns nil.
func (r *TokenRepo) RevokeByJTI(ctx context.Context, jti string) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE user_tokens
		SET revoked = TRUE, revoked_at = NOW(), expires_at = NOW(), used = TRUE
		WHERE jti = $1 AND NOT revoked
	`, jti)
	if err != nil {
		return fmt.Errorf("revoke token by jti: %w", err)
	}
	return nil
}

// RevokeByUserAndType retires every live token of the given type for the
// user in one statement.
func (r *TokenRepo) RevokeByUserAndType(ctx context.Context, userID string, t domain.TokenType) error {
	_, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE user_tokens
		SET revoked = TRUE, revoked_at = NOW(), expires_at = NOW(), used = TRUE
		WHERE user_id = $1 AND token_type = $2 AND NOT revoked
	`, userID, t)
	if err != nil {
		return fmt.Errorf("revoke tokens by user and type: %w", err)
	}
	return nil
}

// IsValidJTI reports whether the presented jti still backs a live record.
// Checked on every authenticated request so a stolen JWT dies with its
// server-side record even while the signature stays valid.
func (r *TokenRepo) IsValidJTI(ctx context.Context, jti string) (bool, error) {
	var valid bool
	err := r.db.q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_tokens
			WHERE jti = $1 AND NOT revoked AND NOT used AND expires_at > NOW()
		)
	`, jti).Scan(&valid)
	if err != nil {
		return false, fmt.Errorf("check jti validity: %w", err)
	}
	return valid, nil
}

// DeleteStaleAuthTokens removes finished auth tokens whose expiry is older
// than the retention window.
func (r *TokenRepo) DeleteStaleAuthTokens(ctx context.Context, retention time.Duration, batchSize int) (int, error) {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		DELETE FROM user_tokens
		WHERE id IN (
			SELECT id FROM user_tokens
			WHERE token_type = $1
			  AND (used OR revoked)
			  AND expires_at < NOW() - make_interval(secs => $2)
			LIMIT $3
		)
	`, domain.TokenAuth, retention.Seconds(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale auth tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RevokeAgedResetTokens flags reset tokens that outlived their validity
// window but were never explicitly revoked. First phase of reset-token
// retention.
func (r *TokenRepo) RevokeAgedResetTokens(ctx context.Context, batchSize int) (int, error) {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		UPDATE user_tokens
		SET revoked = TRUE, revoked_at = NOW(), used = TRUE
		WHERE id IN (
			SELECT id FROM user_tokens
			WHERE token_type = $1 AND NOT revoked AND expires_at <= NOW()
			LIMIT $2
		)
	`, domain.TokenResetPassword, batchSize)
	if err != nil {
		return 0, fmt.Errorf("revoke aged reset tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteStaleResetTokens removes revoked/used/expired reset tokens older
// than the retention window. Second phase of reset-token retention.
func (r *TokenRepo) DeleteStaleResetTokens(ctx context.Context, retention time.Duration, batchSize int) (int, error) {
	res, err := r.db.q(ctx).ExecContext(ctx, `
		DELETE FROM user_tokens
		WHERE id IN (
			SELECT id FROM user_tokens
			WHERE token_type = $1
			  AND (used OR revoked OR expires_at <= NOW())
			  AND created_at < NOW() - make_interval(secs => $2)
			LIMIT $3
		)
	`, domain.TokenResetPassword, retention.Seconds(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale reset tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *TokenRepo) scanOne(row *sql.Row) (*domain.UserToken, error) {
	var t domain.UserToken
	var userID, refreshHash sql.NullString
	var revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Type, &userID, &refreshHash, &t.JTI, &t.Used, &t.Revoked, &revokedAt, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user token not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user token: %w", err)
	}
	if userID.Valid {
		t.UserID = &userID.String
	}
	if refreshHash.Valid {
		t.RefreshHash = &refreshHash.String
	}
	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		t.RevokedAt = &at
	}
	return &t, nil
}
