package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"listing-desk/internal/apperr"
	"listing-desk/internal/model"
	"listing-desk/internal/queue"
	"listing-desk/internal/storage"

	"gorm.io/datatypes"
)

// Store 抽象任务跟踪存储。
type Store interface {
	CreateJobTracking(ctx context.Context, row *model.JobTracking) error
	FindJobTracking(ctx context.Context, lookup storage.JobLookup) (*model.JobTracking, error)
	UpdateJobTracking(ctx context.Context, id uint, values map[string]any) error
}

// Tracker 将队列生命周期事件写入 job_tracking，所有写入都是尽力而为：
// 失败时记录日志并返回错误，调用方可以忽略。
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker 创建 Tracker。
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

var _ queue.Lifecycle = (*Tracker)(nil)

// Queued 在任务构造时写入 pending 行，此时 job_id 为空。
func (t *Tracker) Queued(ctx context.Context, env queue.Envelope) error {
	row := &model.JobTracking{
		JobClass:          env.Class,
		Status:            model.JobStatusPending,
		RelatedEntityType: env.EntityType,
		RelatedEntityID:   env.EntityID,
		Metadata:          metadataOf(env),
	}
	if err := t.store.CreateJobTracking(ctx, row); err != nil {
		return t.report(ctx, "queued", env, err)
	}
	return nil
}

// Started 进入 processing，attempts 加一；找不到行时直接创建。
func (t *Tracker) Started(ctx context.Context, env queue.Envelope) error {
	now := t.now()
	row, err := t.find(ctx, env)
	if errors.Is(err, apperr.ErrNotFound) {
		jobID := env.ID
		created := &model.JobTracking{
			JobID:             &jobID,
			JobClass:          env.Class,
			Status:            model.JobStatusProcessing,
			RelatedEntityType: env.EntityType,
			RelatedEntityID:   env.EntityID,
			Attempts:          1,
			StartedAt:         &now,
			Metadata:          metadataOf(env),
		}
		if err := t.store.CreateJobTracking(ctx, created); err != nil {
			return t.report(ctx, "started", env, err)
		}
		return nil
	}
	if err != nil {
		return t.report(ctx, "started", env, err)
	}
	if !row.Status.CanTransition(model.JobStatusProcessing) {
		return t.report(ctx, "started", env, fmt.Errorf("illegal transition %s -> %s", row.Status, model.JobStatusProcessing))
	}
	if err := t.store.UpdateJobTracking(ctx, row.ID, map[string]any{
		"job_id":     env.ID,
		"status":     model.JobStatusProcessing,
		"attempts":   row.Attempts + 1,
		"started_at": now,
	}); err != nil {
		return t.report(ctx, "started", env, err)
	}
	return nil
}

// Succeeded 标记 completed。
func (t *Tracker) Succeeded(ctx context.Context, env queue.Envelope) error {
	row, err := t.find(ctx, env)
	if err != nil {
		return t.report(ctx, "completed", env, err)
	}
	if !row.Status.CanTransition(model.JobStatusCompleted) {
		return t.report(ctx, "completed", env, fmt.Errorf("illegal transition %s -> %s", row.Status, model.JobStatusCompleted))
	}
	if err := t.store.UpdateJobTracking(ctx, row.ID, map[string]any{
		"status":       model.JobStatusCompleted,
		"completed_at": t.now(),
	}); err != nil {
		return t.report(ctx, "completed", env, err)
	}
	return nil
}

// Retrying 只记录异常信息，状态保持不变。
func (t *Tracker) Retrying(ctx context.Context, env queue.Envelope, cause error) error {
	row, err := t.find(ctx, env)
	if err != nil {
		return t.report(ctx, "exception", env, err)
	}
	if err := t.store.UpdateJobTracking(ctx, row.ID, map[string]any{
		"error_message": errorMessage(cause),
		"error_trace":   errorTrace(cause),
	}); err != nil {
		return t.report(ctx, "exception", env, err)
	}
	return nil
}

// Failed 标记 failed；找不到行时直接创建 failed 行。
func (t *Tracker) Failed(ctx context.Context, env queue.Envelope, cause error) error {
	now := t.now()
	row, err := t.find(ctx, env)
	if errors.Is(err, apperr.ErrNotFound) {
		jobID := env.ID
		created := &model.JobTracking{
			JobID:             &jobID,
			JobClass:          env.Class,
			Status:            model.JobStatusFailed,
			RelatedEntityType: env.EntityType,
			RelatedEntityID:   env.EntityID,
			Attempts:          env.Attempt,
			ErrorMessage:      errorMessage(cause),
			ErrorTrace:        errorTrace(cause),
			FailedAt:          &now,
			Metadata:          metadataOf(env),
		}
		if err := t.store.CreateJobTracking(ctx, created); err != nil {
			return t.report(ctx, "failed", env, err)
		}
		return nil
	}
	if err != nil {
		return t.report(ctx, "failed", env, err)
	}
	if !row.Status.CanTransition(model.JobStatusFailed) {
		return t.report(ctx, "failed", env, fmt.Errorf("illegal transition %s -> %s", row.Status, model.JobStatusFailed))
	}
	if err := t.store.UpdateJobTracking(ctx, row.ID, map[string]any{
		"status":        model.JobStatusFailed,
		"failed_at":     now,
		"error_message": errorMessage(cause),
		"error_trace":   errorTrace(cause),
	}); err != nil {
		return t.report(ctx, "failed", env, err)
	}
	return nil
}

func (t *Tracker) find(ctx context.Context, env queue.Envelope) (*model.JobTracking, error) {
	return t.store.FindJobTracking(ctx, storage.JobLookup{
		JobID:      env.ID,
		JobClass:   env.Class,
		EntityType: env.EntityType,
		EntityID:   env.EntityID,
	})
}

func (t *Tracker) report(ctx context.Context, event string, env queue.Envelope, err error) error {
	t.logger.WarnContext(ctx, "job tracking write failed",
		"event", event,
		"job_id", env.ID,
		"job_class", env.Class,
		"error", err,
	)
	return fmt.Errorf("track %s for job %s: %w", event, env.ID, err)
}

func metadataOf(env queue.Envelope) datatypes.JSONMap {
	meta := datatypes.JSONMap{}
	for k, v := range env.Metadata {
		meta[k] = v
	}
	if env.EntityType != "" {
		meta["related_entity_type"] = env.EntityType
	}
	if env.EntityID != nil {
		meta["related_entity_id"] = *env.EntityID
	}
	return meta
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errorTrace 优先使用 panic 堆栈，否则展开错误链。
func errorTrace(err error) string {
	if err == nil {
		return ""
	}
	var st interface{ StackTrace() string }
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %s", e, e.Error()))
	}
	return strings.Join(chain, "\n")
}
