package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	cartRetentionDays = 30
	guestCartIdleTTL  = 30 * day
)

type CartRetentionJobParams struct {
	Logger     *logger.Logger
	Repository cartRetentionRepo
	// Retention is how long merged and converted carts are kept, in days.
	Retention int
	// GuestIdle is how long an anonymous cart may sit untouched. It matches
	// the session cookie lifetime: after that the cart is unreachable.
	GuestIdle time.Duration
}

type cartRetentionRepo interface {
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteIdleGuestCartsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewCartRetentionJob removes retired carts and abandoned guest carts. Account
// carts that are still active are never touched.
func NewCartRetentionJob(params CartRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = cartRetentionDays
	}
	idle := params.GuestIdle
	if idle <= 0 {
		idle = guestCartIdleTTL
	}
	return &cartRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		guestIdle: idle,
		now:       time.Now,
	}, nil
}

type cartRetentionJob struct {
	logg      *logger.Logger
	repo      cartRetentionRepo
	retention int
	guestIdle time.Duration
	now       func() time.Time
}

func (j *cartRetentionJob) Name() string { return "cart-retention" }

// Run attempts both sweeps even if the first one fails.
func (j *cartRetentionJob) Run(ctx context.Context) error {
	now := j.now()
	retiredCutoff := now.Add(-time.Duration(j.retention) * day)
	idleCutoff := now.Add(-j.guestIdle)

	var errs error
	retired, err := j.repo.DeleteRetiredBefore(ctx, retiredCutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete retired carts: %w", err))
	}
	idle, err := j.repo.DeleteIdleGuestCartsBefore(ctx, idleCutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete idle guest carts: %w", err))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retired_cutoff":     retiredCutoff,
		"idle_cutoff":        idleCutoff,
		"retired_deleted":    retired,
		"idle_guest_deleted": idle,
	})
	if errs != nil {
		j.logg.Warn(logCtx, "cart retention cleanup finished with errors")
		return errs
	}
	j.logg.Info(logCtx, "cart retention cleanup complete")
	return nil
}
