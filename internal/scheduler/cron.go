package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 未配置或无法解析时的默认间隔。
const defaultInterval = time.Hour

// parseSchedule 接受 Go duration（如 "30m"）或 5 段 cron 表达式。
func parseSchedule(value string) (time.Duration, *cronSchedule) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultInterval, nil
	}
	if d, err := time.ParseDuration(trimmed); err == nil && d > 0 {
		return d, nil
	}
	if schedule, err := parseCronSpec(trimmed); err == nil {
		return 0, schedule
	}
	return defaultInterval, nil
}

type cronSchedule struct {
	spec    string
	minutes map[int]struct{}
	hours   map[int]struct{}
	doms    map[int]struct{}
	months  map[int]struct{}
	dows    map[int]struct{}
}

func parseCronSpec(spec string) (*cronSchedule, error) {
	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron spec must have 5 fields, got %d", len(parts))
	}

	fields := []struct {
		name     string
		min, max int
	}{
		{"minutes", 0, 59},
		{"hours", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 6},
	}
	sets := make([]map[int]struct{}, len(fields))
	for i, f := range fields {
		set, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		sets[i] = set
	}

	return &cronSchedule{
		spec:    spec,
		minutes: sets[0],
		hours:   sets[1],
		doms:    sets[2],
		months:  sets[3],
		dows:    sets[4],
	}, nil
}

// parseCronField 支持 "*"、"*/n"、"a-b"、"a-b/n" 以及逗号列表。
func parseCronField(expr string, min, max int) (map[int]struct{}, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty field")
	}
	result := make(map[int]struct{})
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		rangePart, step := part, 1
		if base, stepText, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepText)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %s", part)
			}
			rangePart, step = base, n
		}

		lo, hi := min, max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var errA, errB error
			lo, errA = strconv.Atoi(a)
			hi, errB = strconv.Atoi(b)
			if errA != nil || errB != nil || lo < min || hi > max || lo > hi {
				return nil, fmt.Errorf("invalid range %s", part)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil || v < min || v > max {
				return nil, fmt.Errorf("invalid value %s", part)
			}
			lo, hi = v, v
		}
		for i := lo; i <= hi; i += step {
			result[i] = struct{}{}
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no values parsed")
	}
	return result, nil
}

func (c *cronSchedule) matches(t time.Time) bool {
	checks := []struct {
		set map[int]struct{}
		v   int
	}{
		{c.minutes, t.Minute()},
		{c.hours, t.Hour()},
		{c.doms, t.Day()},
		{c.months, int(t.Month())},
		{c.dows, int(t.Weekday())},
	}
	for _, chk := range checks {
		if _, ok := chk.set[chk.v]; !ok {
			return false
		}
	}
	return true
}

// next 返回 after 之后第一个匹配的整分钟，最多向后查找一年。
func (c *cronSchedule) next(after time.Time) (time.Time, error) {
	start := after.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < 366*24*60; i++ {
		candidate := start.Add(time.Duration(i) * time.Minute)
		if c.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no time matches cron spec %q", c.spec)
}
