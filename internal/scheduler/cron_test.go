package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	if d, c := parseSchedule("30m"); d != 30*time.Minute || c != nil {
		t.Fatalf("expected interval schedule, got %v %v", d, c)
	}
	if d, c := parseSchedule(""); d != defaultInterval || c != nil {
		t.Fatalf("expected default interval, got %v %v", d, c)
	}
	if d, c := parseSchedule("not a schedule"); d != defaultInterval || c != nil {
		t.Fatalf("expected fallback interval, got %v %v", d, c)
	}
	if _, c := parseSchedule("15 3 * * 1-5"); c == nil {
		t.Fatalf("expected cron schedule")
	}
}

func TestCronNext(t *testing.T) {
	t.Parallel()

	c, err := parseCronSpec("15 3 * * 1-5")
	if err != nil {
		t.Fatalf("parseCronSpec error: %v", err)
	}
	// 2024-07-05 是周五，下一次工作日执行是周一 07-08 03:15。
	after := time.Date(2024, 7, 5, 3, 15, 0, 0, time.UTC)
	next, err := c.next(after)
	if err != nil {
		t.Fatalf("next error: %v", err)
	}
	want := time.Date(2024, 7, 8, 3, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	every, err := parseCronSpec("*/20 * * * *")
	if err != nil {
		t.Fatalf("parseCronSpec error: %v", err)
	}
	next, _ = every.next(time.Date(2024, 7, 5, 10, 41, 30, 0, time.UTC))
	if !next.Equal(time.Date(2024, 7, 5, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected step match %v", next)
	}
}

func TestParseCronSpecRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"* * * *", "60 * * * *", "*/0 * * * *", "5-2 * * * *", "* * 0 * *"} {
		if _, err := parseCronSpec(spec); err == nil {
			t.Fatalf("expected error for %q", spec)
		}
	}
}
