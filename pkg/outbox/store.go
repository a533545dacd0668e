package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

const (
	maxErrorLen    = 1024
	purgeBatchSize = 500
)

var errTxRequired = errors.New("outbox: transaction required")

// Store owns outbox_events and outbox_dlq. Every write that belongs to a
// relay batch takes the batch transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(tx *gorm.DB, row models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&row).Error
}

// Claim locks up to limit pending rows, oldest first. Rows that used up
// maxAttempts are left alone. Concurrent relays skip rows another batch holds.
func (s *Store) Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	q := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at, id").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *Store) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("published_at", time.Now()).Error
}

// RecordFailure bumps attempt_count and keeps the latest broker error.
func (s *Store) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    clip(cause.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// DeadLetter copies the row into outbox_dlq and retires it: published_at is
// stamped and attempt_count raised to at least retireAt so Claim never
// returns it again.
func (s *Store) DeadLetter(tx *gorm.DB, entry models.OutboxDLQ, retireAt int) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now()
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}

	updates := map[string]any{"published_at": entry.FailedAt}
	if entry.ErrorMessage != nil {
		updates["last_error"] = *entry.ErrorMessage
	}
	if retireAt > 0 {
		updates["attempt_count"] = gorm.Expr("CASE WHEN attempt_count < ? THEN ? ELSE attempt_count END", retireAt, retireAt)
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", entry.EventID).Updates(updates).Error
}

// PurgePublished deletes rows published before cutoff in bounded batches so
// a large backlog never holds one long delete lock. Pending rows are kept.
func (s *Store) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
			Select("id").
			Where("published_at IS NOT NULL AND published_at < ?", cutoff).
			Limit(purgeBatchSize)
		res := s.db.WithContext(ctx).Where("id IN (?)", batch).Delete(&models.OutboxEvent{})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if res.RowsAffected < purgeBatchSize {
			return total, nil
		}
	}
}

func clip(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}
