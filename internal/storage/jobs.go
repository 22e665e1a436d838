package storage

import (
	"context"
	"fmt"
	"time"

	"listing-desk/internal/model"

	"gorm.io/gorm"
)

// JobLookup 定位任务跟踪行，优先按 JobID 查找，其次按任务类型与关联实体查找。
type JobLookup struct {
	JobID      string
	JobClass   string
	EntityType string
	EntityID   *uint
	Statuses   []model.JobStatus
}

// JobQuery 描述任务跟踪列表筛选条件。
type JobQuery struct {
	Status     model.JobStatus
	JobClass   string
	EntityType string
	EntityID   *uint
	Page       int
	PerPage    int
}

// CreateJobTracking 写入新的跟踪行。
func (s *Store) CreateJobTracking(ctx context.Context, row *model.JobTracking) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create job tracking: %w", err)
	}
	return nil
}

// FindJobTracking 返回最新的匹配行，允许存在重复行。
func (s *Store) FindJobTracking(ctx context.Context, lookup JobLookup) (*model.JobTracking, error) {
	if lookup.JobID != "" {
		row, err := s.firstJob(ctx, s.db.WithContext(ctx).Where("job_id = ?", lookup.JobID), lookup.Statuses)
		if err == nil {
			return row, nil
		}
		if lookup.JobClass == "" {
			return nil, err
		}
	}
	if lookup.JobClass == "" {
		return nil, wrapNotFound("find job tracking", gorm.ErrRecordNotFound)
	}

	query := s.db.WithContext(ctx).Where("job_class = ?", lookup.JobClass)
	if lookup.EntityType != "" {
		query = query.Where("related_entity_type = ?", lookup.EntityType)
	}
	if lookup.EntityID != nil {
		query = query.Where("related_entity_id = ?", *lookup.EntityID)
	}
	if lookup.JobID != "" {
		// 尚未绑定 job_id 的行，或已经绑定到同一任务的行
		query = query.Where("(job_id IS NULL OR job_id = ?)", lookup.JobID)
	}
	return s.firstJob(ctx, query, lookup.Statuses)
}

func (s *Store) firstJob(_ context.Context, query *gorm.DB, statuses []model.JobStatus) (*model.JobTracking, error) {
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var row model.JobTracking
	if err := query.Order("created_at DESC").Order("id DESC").First(&row).Error; err != nil {
		return nil, wrapNotFound("find job tracking", err)
	}
	return &row, nil
}

// UpdateJobTracking 按 ID 更新指定列。
func (s *Store) UpdateJobTracking(ctx context.Context, id uint, values map[string]any) error {
	tx := s.db.WithContext(ctx).Model(&model.JobTracking{}).Where("id = ?", id).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("update job tracking: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return wrapNotFound(fmt.Sprintf("update job tracking %d", id), gorm.ErrRecordNotFound)
	}
	return nil
}

// HasActiveJob 判断实体是否已有 pending 或 processing 的任务。
func (s *Store) HasActiveJob(ctx context.Context, jobClass, entityType string, entityID uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.JobTracking{}).
		Where("job_class = ? AND related_entity_type = ? AND related_entity_id = ?", jobClass, entityType, entityID).
		Where("status IN ?", model.ActiveJobStatuses).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return count > 0, nil
}

// FailedSince 判断实体在 since 之后是否有失败的任务。
func (s *Store) FailedSince(ctx context.Context, jobClass, entityType string, entityID uint, since time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.JobTracking{}).
		Where("job_class = ? AND related_entity_type = ? AND related_entity_id = ?", jobClass, entityType, entityID).
		Where("status = ? AND failed_at >= ?", model.JobStatusFailed, since).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count failed jobs: %w", err)
	}
	return count > 0, nil
}

// ListJobTracking 返回按创建时间倒序的跟踪行与总数。
func (s *Store) ListJobTracking(ctx context.Context, q JobQuery) ([]model.JobTracking, int64, error) {
	page, perPage := normalizePage(q.Page, q.PerPage, DefaultDraftPerPage)

	base := s.db.WithContext(ctx).Model(&model.JobTracking{})
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	if q.JobClass != "" {
		base = base.Where("job_class = ?", q.JobClass)
	}
	if q.EntityType != "" {
		base = base.Where("related_entity_type = ?", q.EntityType)
	}
	if q.EntityID != nil {
		base = base.Where("related_entity_id = ?", *q.EntityID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count job tracking: %w", err)
	}
	var rows []model.JobTracking
	if err := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list job tracking: %w", err)
	}
	return rows, total, nil
}
