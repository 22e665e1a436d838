package model

import "time"

// PropertyStatus 房源状态。
type PropertyStatus int

const (
	PropertyStatusPending PropertyStatus = 1
	PropertyStatusRent    PropertyStatus = 2
	PropertyStatusTaken   PropertyStatus = 3
)

// InterfaceWeb 标记通过网页提交的房源。
const InterfaceWeb = "web"

// DefaultTitle 是未填写标题时的默认英文标题。
const DefaultTitle = "Available room"

// Property 是正式房源，与 PersonalData、PropertyData 一对一。
type Property struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CreatedBy     *uint          `gorm:"index" json:"created_by"`
	LastUpdatedBy *uint          `json:"last_updated_by"`
	Approved      bool           `gorm:"not null;default:false" json:"approved"`
	Status        PropertyStatus `gorm:"not null;default:1;index" json:"status"`
	Slug          string         `gorm:"size:120;index" json:"slug"`
	Link          string         `json:"link"`
	ReleasedAt    *time.Time     `json:"released_at"`
	ReferralCode  string         `gorm:"size:64" json:"referral_code"`
	Interface     string         `gorm:"size:16" json:"interface"`
	Folder        string         `json:"folder"`
	PersonalData  *PersonalData  `gorm:"constraint:OnDelete:CASCADE" json:"personal_data,omitempty"`
	PropertyData  *PropertyData  `gorm:"constraint:OnDelete:CASCADE" json:"property_data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PersonalData 房东联系人信息。
type PersonalData struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PropertyID uint      `gorm:"uniqueIndex;not null" json:"property_id"`
	Name       string    `json:"name"`
	Surname    string    `json:"surname"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 固定表名。
func (PersonalData) TableName() string { return "personal_data" }

// PropertyData 房源详情，多语言字段以 JSON 映射保存。
type PropertyData struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	PropertyID     uint          `gorm:"uniqueIndex;not null" json:"property_id"`
	City           string        `gorm:"index" json:"city"`
	Address        string        `json:"address"`
	Postcode       string        `json:"postcode"`
	Size           string        `json:"size"`
	Rent           float64       `json:"rent"`
	Bills          LocalizedText `json:"bills"`
	Flatmates      LocalizedText `json:"flatmates"`
	Period         LocalizedText `json:"period"`
	Description    LocalizedText `json:"description"`
	Title          LocalizedText `json:"title"`
	Images         string        `gorm:"type:text" json:"images"`
	PaymentLink    *string       `json:"payment_link"`
	Registration   *bool         `json:"registration"`
	PetsAllowed    *bool         `json:"pets_allowed"`
	SmokingAllowed *bool         `json:"smoking_allowed"`
	Type           *int          `json:"type"`
	FurnishedType  *int          `json:"furnished_type"`
	SharedSpace    string        `json:"shared_space"`
	Bathrooms      *int          `json:"bathrooms"`
	Toilets        *int          `json:"toilets"`
	Amenities      string        `gorm:"type:text" json:"amenities"`
	AvailableFrom  *time.Time    `json:"available_from"`
	AvailableTo    *time.Time    `json:"available_to"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TableName 固定表名。
func (PropertyData) TableName() string { return "property_data" }
