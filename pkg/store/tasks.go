package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clipforge/clipforge/pkg/store/models"
)

// ============================================
// TASK OPERATIONS
// ============================================

// CreateTask persists a new task. The ID is generated if empty.
func (s *GORMStore) CreateTask(ctx context.Context, task *models.Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return task.ID, nil
}

// GetTask returns a task by id.
// Returns models.ErrTaskNotFound if the task doesn't exist.
func (s *GORMStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrTaskNotFound)
	}
	return &task, nil
}

// UpdateTask saves the full task record.
func (s *GORMStore) UpdateTask(ctx context.Context, task *models.Task) error {
	result := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", task.ID).
		Select("*").Omit("id", "created_at").
		Updates(task)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// UpdateTaskFields applies a partial update to a task.
func (s *GORMStore) UpdateTaskFields(ctx context.Context, id string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task record.
// Returns models.ErrTaskNotFound if the task doesn't exist.
func (s *GORMStore) DeleteTask(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// TaskFilter narrows and pages ListTasks results.
type TaskFilter struct {
	// Status filters by exact task status when non-empty.
	Status models.TaskStatus

	// Search matches a substring of the task name or original file name.
	Search string

	// Page is 1-based. Zero means page 1.
	Page int

	// PageSize caps results per page. Zero means 20, max 200.
	PageSize int
}

func (f *TaskFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 200 {
		f.PageSize = 200
	}
}

// TaskPage is one page of task results.
type TaskPage struct {
	Tasks      []*models.Task `json:"tasks"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

// ListTasks returns a page of tasks ordered by creation time descending.
func (s *GORMStore) ListTasks(ctx context.Context, filter TaskFilter) (*TaskPage, error) {
	filter.normalize()

	q := s.db.WithContext(ctx).Model(&models.Task{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where("task_name LIKE ? OR original_file_name LIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	var tasks []*models.Task
	offset := (filter.Page - 1) * filter.PageSize
	if err := q.Order("created_at DESC").Offset(offset).Limit(filter.PageSize).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	totalPages := int((total + int64(filter.PageSize) - 1) / int64(filter.PageSize))
	return &TaskPage{
		Tasks:      tasks,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ListTasksByStatus returns all tasks in a given status, unpaged.
// Used by the scheduler to pick up Pending work after restart.
func (s *GORMStore) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasksByStatus returns task counts grouped by status.
func (s *GORMStore) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	type row struct {
		Status models.TaskStatus
		N      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[models.TaskStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// FindArtifact resolves a declared upload fingerprint to an existing
// original file. The newest matching task wins; tasks whose original was
// already reclaimed are skipped. ok is false when nothing matches.
func (s *GORMStore) FindArtifact(ctx context.Context, fp string, size int64) (string, bool, error) {
	var task models.Task
	err := s.db.WithContext(ctx).
		Where("fingerprint = ? AND original_file_size = ? AND original_path <> ''", fp, size).
		Order("created_at DESC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find artifact: %w", err)
	}
	return task.OriginalPath, true, nil
}

// TaskIDsWithArtifacts returns the set of task ids that still reference
// original or output files. Used by the cleanup engine's orphan sweep.
func (s *GORMStore) TaskIDsWithArtifacts(ctx context.Context) (map[string]struct{}, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Select("id", "original_path", "output_path").
		Find(&tasks).Error; err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = struct{}{}
	}
	return ids, nil
}

// ReferencedPaths returns every original and output path referenced by any
// task, keyed by path.
func (s *GORMStore) ReferencedPaths(ctx context.Context) (map[string]models.TaskStatus, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Select("id", "status", "original_path", "output_path").
		Find(&tasks).Error; err != nil {
		return nil, err
	}

	paths := make(map[string]models.TaskStatus, len(tasks)*2)
	for _, t := range tasks {
		if t.OriginalPath != "" {
			paths[t.OriginalPath] = t.Status
		}
		if t.OutputPath != "" {
			paths[t.OutputPath] = t.Status
		}
	}
	return paths, nil
}
