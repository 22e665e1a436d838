package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultLocale 是所有多语言字段必须包含的语言。
const DefaultLocale = "en"

// LocalizedText 表示草稿中的纯文本或正式数据中的多语言映射。
// Locales 为 nil 时表示纯文本 Plain。
type LocalizedText struct {
	Plain   string
	Locales map[string]string
}

// PlainText 构造纯文本值。
func PlainText(s string) LocalizedText {
	return LocalizedText{Plain: s}
}

// Localized 构造多语言映射值。
func Localized(m map[string]string) LocalizedText {
	if m == nil {
		m = map[string]string{}
	}
	return LocalizedText{Locales: m}
}

// IsLocalized 判断是否为多语言映射。
func (t LocalizedText) IsLocalized() bool { return t.Locales != nil }

// IsZero 在没有任何非空内容时返回 true。
func (t LocalizedText) IsZero() bool {
	if !t.IsLocalized() {
		return strings.TrimSpace(t.Plain) == ""
	}
	for _, v := range t.Locales {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// English 返回英文内容：映射优先取非空的 en，其次取空 key，纯文本直接视为英文。
func (t LocalizedText) English() string {
	if !t.IsLocalized() {
		return t.Plain
	}
	if v := t.Locales[DefaultLocale]; strings.TrimSpace(v) != "" {
		return v
	}
	return t.Locales[""]
}

// Get 返回指定语言的内容。
func (t LocalizedText) Get(locale string) string {
	if !t.IsLocalized() {
		if locale == DefaultLocale {
			return t.Plain
		}
		return ""
	}
	return t.Locales[locale]
}

// Wrap 将值展开为包含全部 locales 的映射，未提供的语言为空字符串，en 一定存在。
func (t LocalizedText) Wrap(locales []string) LocalizedText {
	out := make(map[string]string, len(locales)+1)
	for _, l := range locales {
		out[l] = ""
	}
	out[DefaultLocale] = ""
	if !t.IsLocalized() {
		out[DefaultLocale] = t.Plain
		return Localized(out)
	}
	for k, v := range t.Locales {
		if k == "" {
			continue
		}
		out[k] = v
	}
	out[DefaultLocale] = t.English()
	return Localized(out)
}

// EnsureLocales 强制列表包含 en 并去重，保持原有顺序。
func EnsureLocales(locales []string) []string {
	seen := make(map[string]struct{}, len(locales)+1)
	out := []string{DefaultLocale}
	seen[DefaultLocale] = struct{}{}
	for _, l := range locales {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// MarshalJSON 纯文本输出字符串，映射输出对象（key 排序）。
func (t LocalizedText) MarshalJSON() ([]byte, error) {
	var v any = t.Plain
	if t.IsLocalized() {
		v = t.Locales
	}
	return encodeJSON(v)
}

// UnmarshalJSON 接受字符串、对象或 null。
func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	parsed, err := ParseLocalizedText(data)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseLocalizedText 解析存储值：JSON 对象为映射，JSON 字符串或其他原始文本为纯文本。
func ParseLocalizedText(data []byte) (LocalizedText, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return LocalizedText{}, nil
	}
	switch trimmed[0] {
	case '{':
		raw := map[string]any{}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return LocalizedText{Plain: string(data)}, nil
		}
		m := make(map[string]string, len(raw))
		for k, v := range raw {
			m[k] = stringify(v)
		}
		return Localized(m), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return LocalizedText{}, fmt.Errorf("decode localized text: %w", err)
		}
		return PlainText(s), nil
	default:
		return PlainText(string(data)), nil
	}
}

// Value 实现 driver.Valuer，以 JSON 文本保存。
func (t LocalizedText) Value() (driver.Value, error) {
	b, err := t.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner。
func (t *LocalizedText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = LocalizedText{}
		return nil
	case []byte:
		parsed, err := ParseLocalizedText(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case string:
		parsed, err := ParseLocalizedText([]byte(v))
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	default:
		return fmt.Errorf("unsupported localized text source %T", src)
	}
}

// GormDataType 所有驱动都以文本列保存。
func (LocalizedText) GormDataType() string { return "text" }

// Keys 返回排序后的语言 key，便于日志输出。
func (t LocalizedText) Keys() []string {
	keys := make([]string, 0, len(t.Locales))
	for k := range t.Locales {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeJSON 不转义 HTML 字符，保留 unicode 原文。
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	default:
		return fmt.Sprintf("%v", val)
	}
}
