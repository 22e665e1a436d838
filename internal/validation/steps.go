package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"listing-desk/internal/apperr"
	"listing-desk/internal/model"

	"github.com/go-playground/validator/v10"
)

// StepInput 描述一次步骤校验的输入
// - Fields: 已规范化为 snake_case 的字段
// - Uploads: 本次上传的文件名，仅用于第 5 步计数
// - Origin: 调用方来源主机，决定第 2 步条款是否必填
type StepInput struct {
	Step    int
	Fields  map[string]any
	Uploads []string
	Origin  string
}

// Validator 按步骤校验草稿字段。
type Validator struct {
	validate     *validator.Validate
	termsDomains []string
}

// New 创建 Validator，termsDomains 为需要强制勾选条款的域名列表。
func New(termsDomains []string) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v, termsDomains: termsDomains}
}

type stepTwo struct {
	Name    string `json:"name" validate:"required"`
	Surname string `json:"surname" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,min=6"`
}

type stepThree struct {
	Type          *int       `json:"type" validate:"required"`
	Address       string     `json:"address" validate:"required"`
	Postcode      string     `json:"postcode" validate:"required"`
	Registration  *bool      `json:"registration" validate:"required"`
	AvailableFrom *time.Time `json:"available_from" validate:"required"`
	AvailableTo   *time.Time `json:"available_to"`
}

type stepFour struct {
	Size           string   `json:"size" validate:"required"`
	Rent           *float64 `json:"rent" validate:"required,gte=1"`
	Bills          any      `json:"bills" validate:"required"`
	Description    any      `json:"description" validate:"required"`
	FurnishedType  *int     `json:"furnished_type" validate:"required"`
	Bathrooms      *int     `json:"bathrooms" validate:"required"`
	Toilets        *int     `json:"toilets" validate:"required"`
	PetsAllowed    *bool    `json:"pets_allowed"`
	SmokingAllowed *bool    `json:"smoking_allowed"`
	SharedSpace    string   `json:"shared_space"`
	Amenities      string   `json:"amenities"`
}

type stepFive struct {
	Images []string `json:"images" validate:"required,min=1"`
}

// Validate 校验指定步骤，失败时返回 *apperr.ValidationError，不修改输入。
func (v *Validator) Validate(in StepInput) error {
	c := &coercion{fields: in.Fields, errs: map[string]string{}}

	var target any
	switch in.Step {
	case 1:
		return nil
	case 2:
		s := stepTwo{
			Name:    c.str("name"),
			Surname: c.str("surname"),
			Email:   strings.TrimSpace(c.str("email")),
			Phone:   strings.TrimSpace(c.str("phone")),
		}
		v.checkTerms(c, in.Origin)
		target = &s
	case 3:
		s := stepThree{
			Type:          c.integer("type"),
			Address:       c.str("address"),
			Postcode:      c.str("postcode"),
			Registration:  c.boolean("registration"),
			AvailableFrom: c.date("available_from"),
			AvailableTo:   c.date("available_to"),
		}
		if s.AvailableFrom != nil && s.AvailableTo != nil && s.AvailableTo.Before(*s.AvailableFrom) {
			c.fail("available_to", "The available_to field must be a date after or equal to available_from.")
		}
		target = &s
	case 4:
		s := stepFour{
			Size:           c.str("size"),
			Rent:           c.number("rent"),
			Bills:          c.present("bills"),
			Description:    c.present("description"),
			FurnishedType:  c.integer("furnished_type"),
			Bathrooms:      c.integer("bathrooms"),
			Toilets:        c.integer("toilets"),
			PetsAllowed:    c.boolean("pets_allowed"),
			SmokingAllowed: c.boolean("smoking_allowed"),
			SharedSpace:    c.str("shared_space"),
			Amenities:      c.str("amenities"),
		}
		target = &s
	case 5:
		images := c.list("images")
		s := stepFive{Images: append(images, in.Uploads...)}
		if len(s.Images) == 0 {
			s.Images = nil
		}
		target = &s
	default:
		return apperr.NewValidationError(map[string]string{"step": fmt.Sprintf("Unknown step %d.", in.Step)})
	}

	if err := v.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate step %d: %w", in.Step, err)
		}
		for _, fe := range verrs {
			c.fail(fe.Field(), message(fe))
		}
	}

	if len(c.errs) > 0 {
		return apperr.NewValidationError(c.errs)
	}
	return nil
}

// TermsRequired 判断来源主机是否需要强制勾选条款。
func (v *Validator) TermsRequired(origin string) bool {
	return MatchesDomain(origin, v.termsDomains)
}

func (v *Validator) checkTerms(c *coercion, origin string) {
	required := v.TermsRequired(origin)
	raw, ok := c.fields["terms"]
	if !ok || raw == nil {
		if required {
			c.fail("terms", "The terms field is required.")
		}
		return
	}
	terms, isMap := raw.(map[string]any)
	if !isMap {
		c.fail("terms", "The terms field must be an object.")
		return
	}
	for _, key := range []string{"contact", "legals"} {
		field := "terms." + key
		val, present := terms[key]
		if !present || val == nil {
			if required {
				c.fail(field, fmt.Sprintf("The %s field is required.", field))
			}
			continue
		}
		b, err := ToBool(val)
		if err != nil {
			c.fail(field, fmt.Sprintf("The %s field %s.", field, err))
			continue
		}
		if required && !b {
			c.fail(field, fmt.Sprintf("The %s field must be accepted.", field))
		}
	}
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s field must have at least %s item(s).", field, fe.Param())
		}
		return fmt.Sprintf("The %s field must be at least %s characters.", field, fe.Param())
	case "gte":
		return fmt.Sprintf("The %s field must be at least %s.", field, fe.Param())
	default:
		return fmt.Sprintf("The %s field is invalid.", field)
	}
}

// coercion 将原始字段转换为强类型，记录类型错误。
type coercion struct {
	fields map[string]any
	errs   map[string]string
}

func (c *coercion) fail(field, msg string) {
	if _, exists := c.errs[field]; exists {
		return
	}
	c.errs[field] = msg
}

func (c *coercion) raw(key string) (any, bool) {
	v, ok := c.fields[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (c *coercion) str(key string) string {
	v, ok := c.raw(key)
	if !ok {
		return ""
	}
	s, err := ToString(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return ""
	}
	return strings.TrimSpace(s)
}

func (c *coercion) integer(key string) *int {
	v, ok := c.raw(key)
	if !ok || IsBlank(v) {
		return nil
	}
	n, err := ToInt(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return nil
	}
	return &n
}

func (c *coercion) number(key string) *float64 {
	v, ok := c.raw(key)
	if !ok || IsBlank(v) {
		return nil
	}
	f, err := ToFloat(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return nil
	}
	return &f
}

func (c *coercion) boolean(key string) *bool {
	v, ok := c.raw(key)
	if !ok || IsBlank(v) {
		return nil
	}
	b, err := ToBool(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return nil
	}
	return &b
}

func (c *coercion) date(key string) *time.Time {
	v, ok := c.raw(key)
	if !ok || IsBlank(v) {
		return nil
	}
	d, err := ToDate(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return nil
	}
	return &d
}

// present 接受任意形状（纯文本或多语言对象），空值视为缺失。
func (c *coercion) present(key string) any {
	v, ok := c.raw(key)
	if !ok || IsBlank(v) {
		return nil
	}
	if text, isText := v.(model.LocalizedText); isText && text.IsZero() {
		return nil
	}
	return v
}

func (c *coercion) list(key string) []string {
	v, ok := c.raw(key)
	if !ok {
		return nil
	}
	items, err := ToStringList(v)
	if err != nil {
		c.fail(key, fmt.Sprintf("The %s field %s.", key, err))
		return nil
	}
	return items
}
