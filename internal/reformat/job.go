package reformat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"listing-desk/internal/model"
	"listing-desk/internal/processor"
	"listing-desk/internal/queue"
)

// 任务标识，与任务跟踪表中的 job_class / entity_type 对应。
const (
	JobClass   = "reformat_property_description"
	EntityType = "property"
)

// Payload 是队列中携带的任务参数。
type Payload struct {
	PropertyID uint `json:"property_id"`
}

// NewEnvelope 为指定房源构造改写任务。
func NewEnvelope(propertyID uint) queue.Envelope {
	id := propertyID
	payload, _ := json.Marshal(Payload{PropertyID: propertyID})
	return queue.Envelope{
		Class:      JobClass,
		EntityType: EntityType,
		EntityID:   &id,
		Payload:    payload,
		Metadata: map[string]any{
			"property_id": propertyID,
		},
	}
}

// Store 是任务需要的持久化能力。
type Store interface {
	GetProperty(ctx context.Context, id uint) (*model.Property, error)
	SaveReformatted(ctx context.Context, p *model.Property) error
}

// AI 改写并翻译描述。
type AI interface {
	Reformat(ctx context.Context, req processor.ReformatRequest) (processor.ReformatResult, error)
}

// LinkBuilder 构造前台链接。
type LinkBuilder interface {
	PropertyURL(id uint, slug, city string) string
}

// SitemapTrigger 通知前台重建站点地图。
type SitemapTrigger interface {
	Trigger(ctx context.Context, reason string) error
}

// Job 执行房源描述的改写、翻译、slug 与链接重建。
type Job struct {
	store   Store
	ai      AI
	links   LinkBuilder
	sitemap SitemapTrigger
	locales []string
	logger  *slog.Logger
}

// NewJob 创建任务，locales 会强制包含 en；sitemap 可为 nil。
func NewJob(store Store, ai AI, links LinkBuilder, sitemap SitemapTrigger, locales []string, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:   store,
		ai:      ai,
		links:   links,
		sitemap: sitemap,
		locales: model.EnsureLocales(locales),
		logger:  logger,
	}
}

// Handler 返回可注册到 Dispatcher 的处理函数。
func (j *Job) Handler() queue.Handler { return j.Run }

// Run 执行一次改写。返回错误时由队列决定是否重试。
func (j *Job) Run(ctx context.Context, env queue.Envelope) error {
	var payload Payload
	if err := env.Decode(&payload); err != nil {
		return err
	}
	log := j.logger.With(
		"job_id", env.ID,
		"job_class", env.Class,
		"attempt", env.Attempt,
		"property_id", payload.PropertyID,
	)

	property, err := j.store.GetProperty(ctx, payload.PropertyID)
	if err != nil {
		return fmt.Errorf("load property %d: %w", payload.PropertyID, err)
	}
	data := property.PropertyData
	if data == nil {
		return fmt.Errorf("load property %d: property data missing", payload.PropertyID)
	}

	description := data.Description.English()
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("property %d has no description", payload.PropertyID)
	}

	result, err := j.ai.Reformat(ctx, processor.ReformatRequest{
		Description: description,
		Title:       data.Title.English(),
		Flatmates:   data.Flatmates.English(),
		Period:      data.Period.English(),
		City:        data.City,
		Locales:     j.locales,
	})
	if err != nil {
		return fmt.Errorf("reformat property %d: %w", payload.PropertyID, err)
	}

	data.Description = model.Localized(result.Description)
	if result.Title != nil {
		data.Title = model.Localized(result.Title)
	}
	if result.Flatmates != nil {
		data.Flatmates = model.Localized(result.Flatmates)
	}
	if result.Period != nil {
		data.Period = model.Localized(result.Period)
	}

	property.Slug = Slug(property.ID, result.Slug, data.City)
	if j.links != nil {
		property.Link = j.links.PropertyURL(property.ID, property.Slug, data.City)
	}

	if err := j.store.SaveReformatted(ctx, property); err != nil {
		return fmt.Errorf("save property %d: %w", payload.PropertyID, err)
	}
	log.Info("property description reformatted", "slug", property.Slug, "locales", len(result.Description))

	if j.sitemap != nil {
		if err := j.sitemap.Trigger(ctx, "property "+strconv.FormatUint(uint64(property.ID), 10)+" reformatted"); err != nil {
			log.Warn("sitemap rebuild failed", "err", err)
		}
	}
	return nil
}

// NeedsReformat 判断房源是否缺少翻译或 slug。没有描述的房源不需要处理。
func NeedsReformat(p model.Property, locales []string) bool {
	if p.PropertyData == nil {
		return false
	}
	desc := p.PropertyData.Description
	if strings.TrimSpace(desc.English()) == "" {
		return false
	}
	if strings.TrimSpace(p.Slug) == "" || !desc.IsLocalized() {
		return true
	}
	for _, l := range model.EnsureLocales(locales) {
		if strings.TrimSpace(desc.Get(l)) == "" {
			return true
		}
	}
	return false
}
