package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout 日期字段的标准格式。
const DateLayout = "2006-01-02"

// 类型转换错误。
var (
	ErrNotString = errors.New("must be a string")
	ErrNotInt    = errors.New("must be an integer")
	ErrNotNumber = errors.New("must be a number")
	ErrNotBool   = errors.New("must be true or false")
	ErrNotDate   = errors.New("must be a valid date")
)

// ToString 接受字符串与数字，表单提交的数字按十进制输出。
func ToString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", ErrNotString
	}
}

// ToInt 接受整数值、整数形式的浮点数与数字字符串。
func ToInt(v any) (int, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, ErrNotInt
		}
		return int(val), nil
	case json.Number:
		n, err := strconv.Atoi(val.String())
		if err != nil {
			return 0, ErrNotInt
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, ErrNotInt
		}
		return n, nil
	default:
		return 0, ErrNotInt
	}
}

// ToFloat 接受数字与数字字符串。
func ToFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, ErrNotNumber
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, ErrNotNumber
		}
		return f, nil
	default:
		return 0, ErrNotNumber
	}
}

// ToBool 接受布尔值、0/1 以及表单常见的字符串写法。
func ToBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		if val == 0 || val == 1 {
			return val == 1, nil
		}
	case int:
		if val == 0 || val == 1 {
			return val == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true", "on", "yes":
			return true, nil
		case "0", "false", "off", "no":
			return false, nil
		}
	}
	return false, ErrNotBool
}

// ToDate 接受 YYYY-MM-DD 或 RFC3339，结果截断到 UTC 日期。
func ToDate(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, ErrNotDate
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, ErrNotDate
}

// ToStringList 接受字符串切片、任意切片或逗号分隔的字符串。
func ToStringList(v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return compact(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: %w", i, ErrNotString)
			}
			out = append(out, s)
		}
		return compact(out), nil
	case string:
		return compact(strings.Split(val, ",")), nil
	default:
		return nil, ErrNotString
	}
}

// IsBlank 判断值是否为空：nil、空白字符串、空切片或空映射。
func IsBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case map[string]string:
		return len(val) == 0
	default:
		return false
	}
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
