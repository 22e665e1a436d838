package storage

import (
	"context"
	"fmt"
	"strings"

	"listing-desk/internal/apperr"
	"listing-desk/internal/model"

	"gorm.io/gorm"
)

// DraftLookup 定位单个草稿
// - ID 或 Reference 二选一
// - OwnerID 非空时按所有者过滤
// - AllowUnowned 允许同时命中匿名草稿，用于登录后认领
type DraftLookup struct {
	ID           uint
	Reference    string
	OwnerID      *uint
	AllowUnowned bool
}

// DraftQuery 描述草稿列表筛选条件。
type DraftQuery struct {
	OwnerID   *uint
	City      string
	Search    string
	Reference string
	Page      int
	PerPage   int
}

// DefaultDraftPerPage 列表默认分页大小。
const DefaultDraftPerPage = 15

// CreateDraft 新建草稿。
func (s *Store) CreateDraft(ctx context.Context, app *model.ListingApplication) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

// SaveDraft 覆盖写入草稿的全部字段，调用方负责先加载再合并。
func (s *Store) SaveDraft(ctx context.Context, app *model.ListingApplication) error {
	if app.ID == 0 {
		return fmt.Errorf("save draft: missing id")
	}
	if err := s.db.WithContext(ctx).Save(app).Error; err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// FindDraft 按 ID 或引用标识查找草稿，找不到返回 apperr.ErrNotFound。
func (s *Store) FindDraft(ctx context.Context, lookup DraftLookup) (*model.ListingApplication, error) {
	query := s.db.WithContext(ctx).Model(&model.ListingApplication{})
	switch {
	case lookup.ID != 0:
		query = query.Where("id = ?", lookup.ID)
	case lookup.Reference != "":
		query = query.Where("reference_id = ?", lookup.Reference)
	default:
		return nil, fmt.Errorf("find draft: %w", apperr.ErrNotFound)
	}
	query = applyOwner(query, lookup.OwnerID, lookup.AllowUnowned)

	var app model.ListingApplication
	if err := query.First(&app).Error; err != nil {
		return nil, wrapNotFound("find draft", err)
	}
	return &app, nil
}

// DeleteDraft 硬删除草稿，必须恰好影响一行，否则视为已被并发删除。
func (s *Store) DeleteDraft(ctx context.Context, id uint) error {
	tx := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.ListingApplication{})
	if tx.Error != nil {
		return fmt.Errorf("delete draft: %w", tx.Error)
	}
	if tx.RowsAffected != 1 {
		return fmt.Errorf("delete draft %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListDrafts 返回按创建时间倒序的草稿与总数。
func (s *Store) ListDrafts(ctx context.Context, q DraftQuery) ([]model.ListingApplication, int64, error) {
	page, perPage := normalizePage(q.Page, q.PerPage, DefaultDraftPerPage)

	base := applyDraftFilters(s.db.WithContext(ctx).Model(&model.ListingApplication{}), q)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count drafts: %w", err)
	}

	var apps []model.ListingApplication
	if err := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&apps).Error; err != nil {
		return nil, 0, fmt.Errorf("list drafts: %w", err)
	}
	return apps, total, nil
}

func applyOwner(db *gorm.DB, ownerID *uint, allowUnowned bool) *gorm.DB {
	if ownerID == nil {
		if allowUnowned {
			return db.Where("user_id IS NULL")
		}
		return db
	}
	if allowUnowned {
		return db.Where("(user_id = ? OR user_id IS NULL)", *ownerID)
	}
	return db.Where("user_id = ?", *ownerID)
}

func applyDraftFilters(db *gorm.DB, q DraftQuery) *gorm.DB {
	if q.OwnerID != nil {
		db = db.Where("user_id = ?", *q.OwnerID)
	}
	if city := strings.TrimSpace(q.City); city != "" {
		db = db.Where(`LOWER(city) LIKE ? ESCAPE '\'`, likePattern(city))
	}
	if ref := strings.TrimSpace(q.Reference); ref != "" {
		db = db.Where(`reference_id LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(ref)+"%")
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		p := likePattern(search)
		db = db.Where(`(LOWER(email) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\' OR LOWER(surname) LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\')`, p, p, p, p)
	}
	return db
}

// likeEscaper 转义 LIKE 通配符，搜索词按字面匹配。
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}
