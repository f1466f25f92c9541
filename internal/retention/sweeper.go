// Package retention runs the background sweep loops that delete expired
// one-time codes, stale tokens, and abandoned unverified accounts.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetrent/authcore/internal/observability"
)

// SweepFunc deletes (or revokes) up to batchSize rows and reports how many
// it touched. The sweeper calls it repeatedly until a pass returns fewer
// rows than the batch size.
type SweepFunc func(ctx context.Context, batchSize int) (int, error)

// Sweeper drives one SweepFunc on a schedule: either a fixed interval or a
// daily wall-clock time ("15:04").
type Sweeper struct {
	name       string
	interval   time.Duration
	at         string
	batchSize  int
	batchDelay time.Duration
	backoff    time.Duration
	sweep      SweepFunc
	now        func() time.Time
}

type Options struct {
	// Interval between sweeps. Ignored when At is set.
	Interval time.Duration
	// At is a daily wall-clock schedule in "15:04" form. Empty means
	// interval mode.
	At         string
	BatchSize  int
	BatchDelay time.Duration
	// Backoff is how long to wait before retrying after a failed pass.
	Backoff time.Duration
}

func NewSweeper(name string, fn SweepFunc, opts Options) *Sweeper {
	return &Sweeper{
		name:       name,
		interval:   opts.Interval,
		at:         opts.At,
		batchSize:  opts.BatchSize,
		batchDelay: opts.BatchDelay,
		backoff:    opts.Backoff,
		sweep:      fn,
		now:        time.Now,
	}
}

// Start launches the sweep loop on its own goroutine and returns. The loop
// stops when ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) Name() string { return s.name }

// RunNow performs one sweep pass outside the schedule.
func (s *Sweeper) RunNow(ctx context.Context) error {
	return s.runOnce(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	slog.Info("retention sweeper started", "name", s.name, "interval", s.interval, "at", s.at)
	for {
		if !s.waitNext(ctx) {
			slog.Info("retention sweeper stopped", "name", s.name)
			return
		}
		// A failed pass retries after the backoff, not at the next
		// scheduled slot; on a daily schedule that would push the sweep
		// out a whole day.
		for {
			err := s.runOnce(ctx)
			if err == nil {
				break
			}
			slog.Error("sweep pass failed", "name", s.name, "err", err)
			observability.CaptureErr(err)
			if !sleep(ctx, s.backoff) {
				slog.Info("retention sweeper stopped", "name", s.name)
				return
			}
		}
	}
}

// runOnce drains the backlog in batches. One failed batch aborts the pass;
// the rows it missed are picked up next time.
func (s *Sweeper) runOnce(ctx context.Context) error {
	total := 0
	for {
		n, err := s.sweep(ctx, s.batchSize)
		if err != nil {
			return err
		}
		total += n
		if n < s.batchSize {
			break
		}
		if !sleep(ctx, s.batchDelay) {
			break
		}
	}
	if total > 0 {
		slog.Info("sweep pass complete", "name", s.name, "deleted", total)
	}
	return nil
}

// waitNext blocks until the next scheduled sweep, or returns false on
// cancellation.
func (s *Sweeper) waitNext(ctx context.Context) bool {
	if s.at == "" {
		return sleep(ctx, s.interval)
	}
	return sleep(ctx, s.untilWallClock())
}

func (s *Sweeper) untilWallClock() time.Duration {
	t, err := time.Parse("15:04", s.at)
	if err != nil {
		slog.Warn("bad sweep schedule, falling back to hourly", "name", s.name, "at", s.at)
		return time.Hour
	}
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
