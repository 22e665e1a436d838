package storage

import (
	"context"
	"fmt"

	"listing-desk/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateProperty 只写入 properties 行，关联数据由调用方分别创建。
func (s *Store) CreateProperty(ctx context.Context, p *model.Property) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

// CreatePersonalData 写入房东联系人信息。
func (s *Store) CreatePersonalData(ctx context.Context, pd *model.PersonalData) error {
	if err := s.db.WithContext(ctx).Create(pd).Error; err != nil {
		return fmt.Errorf("create personal data: %w", err)
	}
	return nil
}

// CreatePropertyData 写入房源详情。
func (s *Store) CreatePropertyData(ctx context.Context, pd *model.PropertyData) error {
	if err := s.db.WithContext(ctx).Create(pd).Error; err != nil {
		return fmt.Errorf("create property data: %w", err)
	}
	return nil
}

// GetProperty 加载房源及其一对一关联。
func (s *Store) GetProperty(ctx context.Context, id uint) (*model.Property, error) {
	var p model.Property
	if err := s.db.WithContext(ctx).
		Preload("PersonalData").
		Preload("PropertyData").
		First(&p, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound("get property", err)
	}
	return &p, nil
}

// SaveReformatted 在同一事务中先写 PropertyData 的多语言字段，再写 Property 的 slug 与 link。
func (s *Store) SaveReformatted(ctx context.Context, p *model.Property) error {
	if p.PropertyData == nil {
		return fmt.Errorf("save reformatted property %d: missing property data", p.ID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		data := p.PropertyData
		res := tx.Model(&model.PropertyData{}).Where("id = ?", data.ID).Updates(map[string]any{
			"description": data.Description,
			"title":       data.Title,
			"flatmates":   data.Flatmates,
			"period":      data.Period,
		})
		if res.Error != nil {
			return fmt.Errorf("update property data: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return wrapNotFound("update property data", gorm.ErrRecordNotFound)
		}
		res = tx.Model(&model.Property{}).Where("id = ?", p.ID).Updates(map[string]any{
			"slug": p.Slug,
			"link": p.Link,
		})
		if res.Error != nil {
			return fmt.Errorf("update property: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return wrapNotFound("update property", gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// ScanProperties 分批遍历带详情的房源，按 ID 升序，fn 返回错误时停止。
func (s *Store) ScanProperties(ctx context.Context, batch int, fn func([]model.Property) error) error {
	if batch <= 0 {
		batch = 100
	}
	var rows []model.Property
	res := s.db.WithContext(ctx).
		Preload("PropertyData").
		FindInBatches(&rows, batch, func(tx *gorm.DB, _ int) error {
			return fn(rows)
		})
	if res.Error != nil {
		return fmt.Errorf("scan properties: %w", res.Error)
	}
	return nil
}
