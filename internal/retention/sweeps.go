package retention

import (
	"context"
	"time"

	"github.com/fleetrent/authcore/internal/config"
)

type otpsCleaner interface {
	DeleteExpiredBatch(ctx context.Context, retention, maxAge time.Duration, batchSize int) (int, error)
}

type tokensCleaner interface {
	DeleteStaleAuthTokens(ctx context.Context, retention time.Duration, batchSize int) (int, error)
	RevokeAgedResetTokens(ctx context.Context, batchSize int) (int, error)
	DeleteStaleResetTokens(ctx context.Context, retention time.Duration, batchSize int) (int, error)
}

type usersCleaner interface {
	DeleteUnverifiedBatch(ctx context.Context, maxAge time.Duration, batchSize int) (int, error)
}

// Build assembles the standard sweeper set from the storage layer and the
// retention policy.
func Build(cfg config.RetentionConfig, otps otpsCleaner, tokens tokensCleaner, users usersCleaner) []*Sweeper {
	opts := Options{
		Interval:   cfg.SweepInterval,
		At:         cfg.SweepAt,
		BatchSize:  cfg.SweepBatchSize,
		BatchDelay: cfg.SweepBatchDelay,
		Backoff:    cfg.SweepFailureBackoff,
	}
	return []*Sweeper{
		NewSweeper("one_time_codes", func(ctx context.Context, batchSize int) (int, error) {
			return otps.DeleteExpiredBatch(ctx, cfg.OTPRetention, cfg.OTPMaxAge, batchSize)
		}, opts),
		NewSweeper("auth_tokens", func(ctx context.Context, batchSize int) (int, error) {
			return tokens.DeleteStaleAuthTokens(ctx, cfg.AuthTokenRetention, batchSize)
		}, opts),
		// Reset tokens age in two steps: lapsed ones are revoked first,
		// then revoked ones past retention are deleted.
		NewSweeper("reset_tokens", func(ctx context.Context, batchSize int) (int, error) {
			revoked, err := tokens.RevokeAgedResetTokens(ctx, batchSize)
			if err != nil {
				return revoked, err
			}
			deleted, err := tokens.DeleteStaleResetTokens(ctx, cfg.ResetTokenRetention, batchSize)
			return revoked + deleted, err
		}, opts),
		NewSweeper("unverified_users", func(ctx context.Context, batchSize int) (int, error) {
			return users.DeleteUnverifiedBatch(ctx, cfg.UnverifiedUserMaxAge, batchSize)
		}, opts),
	}
}

// StartAll launches every sweeper; they stop together when ctx is canceled.
func StartAll(ctx context.Context, sweepers []*Sweeper) {
	for _, s := range sweepers {
		s.Start(ctx)
	}
}
