package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	day                 = 24 * time.Hour
	outboxRetentionDays = 30
)

type outboxPurger interface {
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	Store  outboxPurger
	// RetentionDays is how long published rows stay around for debugging.
	RetentionDays int
}

type outboxRetentionJob struct {
	logg *logger.Logger
	// keep is the age past which a published row is purged.
	keep  time.Duration
	store outboxPurger
	now   func() time.Time
}

// NewOutboxRetentionJob purges outbox rows published more than RetentionDays
// ago. Rows the relay has not delivered yet are never purged.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Store == nil {
		return nil, errors.New("outbox store required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = outboxRetentionDays
	}
	return &outboxRetentionJob{
		logg:  params.Logger,
		keep:  time.Duration(days) * day,
		store: params.Store,
		now:   time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.keep)
	purged, err := j.store.PurgePublished(ctx, cutoff)
	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"rows_purged": purged,
	})
	if err != nil {
		// batches committed before the failure stay purged
		return fmt.Errorf("purge published outbox rows: %w", err)
	}
	j.logg.Info(ctx, "outbox retention cleanup complete")
	return nil
}
