package model

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus 异步任务状态。
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ActiveJobStatuses 表示仍在队列或执行中的状态。
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// CanTransition 校验状态迁移，completed 为终态。
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusProcessing || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusFailed:
		// 重试重新进入 processing
		return to == JobStatusProcessing || to == JobStatusFailed
	default:
		return false
	}
}

// JobTracking 记录一次异步任务执行的生命周期，仅追加与更新，不删除
// - JobID: 队列中的任务标识，开始执行前可能为空
// - RelatedEntityType/RelatedEntityID: 关联实体，例如 property
// - Attempts: 进入 processing 的次数
// - Metadata: 构造任务时的识别字段
type JobTracking struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	JobID             *string           `gorm:"size:64;index" json:"job_id"`
	JobClass          string            `gorm:"size:128;not null;index" json:"job_class"`
	Status            JobStatus         `gorm:"size:20;not null;index" json:"status"`
	RelatedEntityType string            `gorm:"size:64;index:idx_job_tracking_entity,priority:1" json:"related_entity_type"`
	RelatedEntityID   *uint             `gorm:"index:idx_job_tracking_entity,priority:2" json:"related_entity_id"`
	Attempts          int               `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage      string            `gorm:"type:text" json:"error_message"`
	ErrorTrace        string            `gorm:"type:text" json:"error_trace"`
	StartedAt         *time.Time        `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at"`
	FailedAt          *time.Time        `json:"failed_at"`
	Metadata          datatypes.JSONMap `json:"metadata"`
	CreatedAt         time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TableName 固定表名。
func (JobTracking) TableName() string { return "job_tracking" }
