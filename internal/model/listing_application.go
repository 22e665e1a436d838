package model

import "time"

// 草稿步骤范围。
const (
	FirstStep = 1
	LastStep  = 5
)

// ListingApplication 表示多步骤房源申请草稿
// - ReferenceID: 对外暴露的引用标识，创建后不可修改
// - Step: 当前步骤，由服务端在校验通过后推进
// - UserID: 草稿所有者，匿名草稿为 nil
// - Bills/Flatmates/Period/Description: 草稿阶段通常为纯文本
// - Images: ", " 分隔的图片地址，顺序有意义
type ListingApplication struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ReferenceID    string         `gorm:"size:64;uniqueIndex;not null" json:"reference_id"`
	Step           int            `gorm:"not null;default:1" json:"step"`
	UserID         *uint          `gorm:"index" json:"user_id"`
	Name           string         `json:"name"`
	Surname        string         `json:"surname"`
	Email          string         `gorm:"index" json:"email"`
	Phone          string         `json:"phone"`
	City           string         `gorm:"index" json:"city"`
	Address        string         `json:"address"`
	Postcode       string         `json:"postcode"`
	Size           string         `json:"size"`
	Rent           *float64       `json:"rent"`
	Registration   *bool          `json:"registration"`
	Bills          *LocalizedText `json:"bills"`
	Flatmates      *LocalizedText `json:"flatmates"`
	Period         *LocalizedText `json:"period"`
	Description    *LocalizedText `json:"description"`
	Images         string         `gorm:"type:text" json:"images"`
	PetsAllowed    *bool          `json:"pets_allowed"`
	SmokingAllowed *bool          `json:"smoking_allowed"`
	AvailableFrom  *time.Time     `json:"available_from"`
	AvailableTo    *time.Time     `json:"available_to"`
	Type           *int           `json:"type"`
	FurnishedType  *int           `json:"furnished_type"`
	SharedSpace    string         `json:"shared_space"`
	Bathrooms      *int           `json:"bathrooms"`
	Toilets        *int           `json:"toilets"`
	Amenities      string         `gorm:"type:text" json:"amenities"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName 固定表名。
func (ListingApplication) TableName() string { return "listing_applications" }

// OwnedBy 判断草稿是否属于指定用户。
func (a ListingApplication) OwnedBy(userID uint) bool {
	return a.UserID != nil && *a.UserID == userID
}
