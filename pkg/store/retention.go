package store

import (
	"context"
	"time"

	"github.com/clipforge/clipforge/pkg/store/models"
)

// ============================================
// RETENTION OPERATIONS
// ============================================

// CreateRetentionRecord records a completed download and its scheduled
// cleanup time.
func (s *GORMStore) CreateRetentionRecord(ctx context.Context, rec *models.RetentionRecord) error {
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// GetRetentionRecord returns the most recent retention record for a task.
// Returns models.ErrRetentionNotFound when none exists.
func (s *GORMStore) GetRetentionRecord(ctx context.Context, taskID string) (*models.RetentionRecord, error) {
	var rec models.RetentionRecord
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("downloaded_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrRetentionNotFound)
	}
	return &rec, nil
}

// ListDueRetentions returns un-cleaned records whose cleanup time has
// passed.
func (s *GORMStore) ListDueRetentions(ctx context.Context, now time.Time) ([]*models.RetentionRecord, error) {
	var recs []*models.RetentionRecord
	err := s.db.WithContext(ctx).
		Where("cleaned_up = ? AND cleanup_after <= ?", false, now).
		Order("cleanup_after ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListActiveRetentions returns every un-cleaned record, due or not.
// Used by the pressure-driven cleanup tiers.
func (s *GORMStore) ListActiveRetentions(ctx context.Context) ([]*models.RetentionRecord, error) {
	var recs []*models.RetentionRecord
	err := s.db.WithContext(ctx).
		Where("cleaned_up = ?", false).
		Order("cleanup_after ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// MarkRetentionCleaned flags every pending record for a task as cleaned up.
func (s *GORMStore) MarkRetentionCleaned(ctx context.Context, taskID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.RetentionRecord{}).
		Where("task_id = ? AND cleaned_up = ?", taskID, false).
		Updates(map[string]any{
			"cleaned_up":    true,
			"cleaned_up_at": at,
		}).Error
}

// ExtendRetention pushes the scheduled cleanup of a task's pending records
// forward by the given duration.
// Returns models.ErrRetentionNotFound when no pending record exists.
func (s *GORMStore) ExtendRetention(ctx context.Context, taskID string, by time.Duration) (*models.RetentionRecord, error) {
	rec, err := s.GetRetentionRecord(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec.CleanedUp {
		return nil, models.ErrRetentionNotFound
	}

	rec.CleanupAfter = rec.CleanupAfter.Add(by)
	if err := s.db.WithContext(ctx).Model(&models.RetentionRecord{}).
		Where("id = ?", rec.ID).
		Update("cleanup_after", rec.CleanupAfter).Error; err != nil {
		return nil, err
	}
	return rec, nil
}
