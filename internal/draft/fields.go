package draft

import (
	"fmt"
	"strings"
	"unicode"

	"listing-desk/internal/model"
	"listing-desk/internal/validation"
)

// fieldAliases 前端常用的非标准写法，其余 camelCase 按规则转换。
var fieldAliases = map[string]string{
	"postCode":      "postcode",
	"referenceID":   "reference_id",
	"reference":     "reference_id",
	"bath":          "bathrooms",
	"furnished":     "furnished_type",
	"propertyType":  "type",
	"property_type": "type",
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindText
	kindInt
	kindFloat
	kindBool
	kindDate
	kindLocalized
	kindControl
)

// knownFields 所有入口共享的字段表，键为 snake_case。
var knownFields = map[string]fieldKind{
	"reference_id":    kindControl,
	"step":            kindControl,
	"terms":           kindControl,
	"images":          kindControl,
	"name":            kindString,
	"surname":         kindString,
	"email":           kindString,
	"phone":           kindString,
	"city":            kindString,
	"address":         kindString,
	"postcode":        kindString,
	"size":            kindString,
	"shared_space":    kindText,
	"amenities":       kindText,
	"rent":            kindFloat,
	"registration":    kindBool,
	"pets_allowed":    kindBool,
	"smoking_allowed": kindBool,
	"available_from":  kindDate,
	"available_to":    kindDate,
	"type":            kindInt,
	"furnished_type":  kindInt,
	"bathrooms":       kindInt,
	"toilets":         kindInt,
	"bills":           kindLocalized,
	"flatmates":       kindLocalized,
	"period":          kindLocalized,
	"description":     kindLocalized,
}

// NormalizeKeys 将请求字段统一为 snake_case，丢弃未知字段，保留 null 以便校验区分缺失。
func NormalizeKeys(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for key, val := range payload {
		snake := CanonicalKey(key)
		if _, ok := knownFields[snake]; !ok {
			continue
		}
		// snake_case 原始写法优先于别名
		if _, exists := out[snake]; exists && key != snake {
			continue
		}
		out[snake] = val
	}
	return out
}

// CanonicalKey 返回字段的 snake_case 名称。
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	if alias, ok := fieldAliases[key]; ok {
		return alias
	}
	return camelToSnake(key)
}

func camelToSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// applyFields 将非 null 字段写入草稿，类型错误汇总返回。
func applyFields(app *model.ListingApplication, fields map[string]any) map[string]string {
	errs := map[string]string{}
	for key, val := range fields {
		if val == nil {
			continue
		}
		if err := assign(app, key, val); err != nil {
			errs[key] = fmt.Sprintf("The %s field %s.", key, err)
		}
	}
	return errs
}

func assign(app *model.ListingApplication, key string, val any) error {
	switch knownFields[key] {
	case kindString:
		s, err := validation.ToString(val)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		switch key {
		case "name":
			app.Name = s
		case "surname":
			app.Surname = s
		case "email":
			app.Email = s
		case "phone":
			app.Phone = s
		case "city":
			app.City = s
		case "address":
			app.Address = s
		case "postcode":
			app.Postcode = s
		case "size":
			app.Size = s
		}
	case kindText:
		s, err := toText(val)
		if err != nil {
			return err
		}
		switch key {
		case "shared_space":
			app.SharedSpace = s
		case "amenities":
			app.Amenities = s
		}
	case kindFloat:
		f, err := validation.ToFloat(val)
		if err != nil {
			return err
		}
		app.Rent = &f
	case kindInt:
		n, err := validation.ToInt(val)
		if err != nil {
			return err
		}
		switch key {
		case "type":
			app.Type = &n
		case "furnished_type":
			app.FurnishedType = &n
		case "bathrooms":
			app.Bathrooms = &n
		case "toilets":
			app.Toilets = &n
		}
	case kindBool:
		b, err := validation.ToBool(val)
		if err != nil {
			return err
		}
		switch key {
		case "registration":
			app.Registration = &b
		case "pets_allowed":
			app.PetsAllowed = &b
		case "smoking_allowed":
			app.SmokingAllowed = &b
		}
	case kindDate:
		d, err := validation.ToDate(val)
		if err != nil {
			return err
		}
		switch key {
		case "available_from":
			app.AvailableFrom = &d
		case "available_to":
			app.AvailableTo = &d
		}
	case kindLocalized:
		t, err := toLocalized(val)
		if err != nil {
			return err
		}
		switch key {
		case "bills":
			app.Bills = &t
		case "flatmates":
			app.Flatmates = &t
		case "period":
			app.Period = &t
		case "description":
			app.Description = &t
		}
	}
	return nil
}

// toText 接受字符串、数字或字符串列表（以 ", " 拼接）。
func toText(val any) (string, error) {
	if s, err := validation.ToString(val); err == nil {
		return strings.TrimSpace(s), nil
	}
	if list, ok := val.([]any); ok {
		items, err := validation.ToStringList(list)
		if err != nil {
			return "", err
		}
		return strings.Join(items, ", "), nil
	}
	return "", validation.ErrNotString
}

func toLocalized(val any) (model.LocalizedText, error) {
	switch v := val.(type) {
	case model.LocalizedText:
		return v, nil
	case string:
		return model.PlainText(v), nil
	case map[string]string:
		return model.Localized(v), nil
	case map[string]any:
		m := make(map[string]string, len(v))
		for k, item := range v {
			if item == nil {
				m[k] = ""
				continue
			}
			s, err := validation.ToString(item)
			if err != nil {
				return model.LocalizedText{}, fmt.Errorf("locale %s %w", k, err)
			}
			m[k] = s
		}
		return model.Localized(m), nil
	default:
		if s, err := validation.ToString(val); err == nil {
			return model.PlainText(s), nil
		}
		return model.LocalizedText{}, fmt.Errorf("must be text or a locale map")
	}
}

// clientStep 读取请求中的步骤，超出范围时忽略。
func clientStep(fields map[string]any) (int, bool) {
	raw, ok := fields["step"]
	if !ok || raw == nil {
		return 0, false
	}
	n, err := validation.ToInt(raw)
	if err != nil || n < model.FirstStep || n > model.LastStep {
		return 0, false
	}
	return n, true
}

func referenceOf(fields map[string]any) string {
	raw, ok := fields["reference_id"]
	if !ok || raw == nil {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

// imagesOf 读取请求中的已有图片列表。
func imagesOf(fields map[string]any) ([]string, bool, error) {
	raw, ok := fields["images"]
	if !ok || raw == nil {
		return nil, false, nil
	}
	items, err := validation.ToStringList(raw)
	if err != nil {
		return nil, false, err
	}
	return items, true, nil
}
