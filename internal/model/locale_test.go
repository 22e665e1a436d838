package model

import (
	"encoding/json"
	"testing"
)

func TestWrapSeedsAllLocales(t *testing.T) {
	t.Parallel()

	wrapped := PlainText("Nice room").Wrap([]string{"en", "nl", "fr"})
	if !wrapped.IsLocalized() {
		t.Fatalf("expected localized value")
	}
	want := map[string]string{"en": "Nice room", "nl": "", "fr": ""}
	if len(wrapped.Locales) != len(want) {
		t.Fatalf("expected %d locales, got %#v", len(want), wrapped.Locales)
	}
	for k, v := range want {
		if got, ok := wrapped.Locales[k]; !ok || got != v {
			t.Fatalf("locale %s: expected %q, got %q (present=%v)", k, v, got, ok)
		}
	}
}

func TestWrapAddsEnglishWhenMissingFromList(t *testing.T) {
	t.Parallel()

	wrapped := PlainText("Room").Wrap([]string{"nl"})
	if wrapped.Locales["en"] != "Room" {
		t.Fatalf("expected en populated, got %#v", wrapped.Locales)
	}
	if _, ok := wrapped.Locales["nl"]; !ok {
		t.Fatalf("expected nl key present")
	}
}

func TestWrapOverlaysLocalizedValue(t *testing.T) {
	t.Parallel()

	wrapped := Localized(map[string]string{"": "Kamer", "nl": "Kamer NL"}).Wrap([]string{"en", "nl", "fr"})
	if wrapped.Locales["en"] != "Kamer" {
		t.Fatalf("expected empty key promoted to en, got %#v", wrapped.Locales)
	}
	if wrapped.Locales["nl"] != "Kamer NL" {
		t.Fatalf("expected nl preserved, got %#v", wrapped.Locales)
	}
	if _, ok := wrapped.Locales[""]; ok {
		t.Fatalf("expected empty key dropped, got %#v", wrapped.Locales)
	}
}

func TestParseLocalizedTextVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw       string
		localized bool
		english   string
	}{
		{raw: `{"en":"Hello","nl":"Hallo"}`, localized: true, english: "Hello"},
		{raw: `{"":"Legacy"}`, localized: true, english: "Legacy"},
		{raw: `{"en":"","":"Legacy","nl":"Oud"}`, localized: true, english: "Legacy"},
		{raw: `{"en":"Hello","":"Legacy"}`, localized: true, english: "Hello"},
		{raw: `"Quoted"`, localized: false, english: "Quoted"},
		{raw: `Plain <b>text</b>`, localized: false, english: "Plain <b>text</b>"},
		{raw: `{broken`, localized: false, english: "{broken"},
	}
	for _, tc := range cases {
		got, err := ParseLocalizedText([]byte(tc.raw))
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got.IsLocalized() != tc.localized {
			t.Fatalf("parse %q: expected localized=%v", tc.raw, tc.localized)
		}
		if got.English() != tc.english {
			t.Fatalf("parse %q: expected english %q, got %q", tc.raw, tc.english, got.English())
		}
	}
}

func TestLocalizedTextValueKeepsUnicode(t *testing.T) {
	t.Parallel()

	v, err := Localized(map[string]string{"en": "Café & bar", "ru": "Комната"}).Value()
	if err != nil {
		t.Fatalf("Value error: %v", err)
	}
	s, _ := v.(string)
	if s != `{"en":"Café & bar","ru":"Комната"}` {
		t.Fatalf("unexpected encoded value: %s", s)
	}

	var back LocalizedText
	if err := back.Scan([]byte(s)); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if back.Get("ru") != "Комната" {
		t.Fatalf("expected ru preserved, got %#v", back.Locales)
	}
}

func TestLocalizedTextJSONRoundTripInStruct(t *testing.T) {
	t.Parallel()

	var payload struct {
		Description LocalizedText `json:"description"`
	}
	if err := json.Unmarshal([]byte(`{"description":"Sunny"}`), &payload); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if payload.Description.IsLocalized() || payload.Description.Plain != "Sunny" {
		t.Fatalf("expected plain text, got %#v", payload.Description)
	}
}

func TestEnsureLocales(t *testing.T) {
	t.Parallel()

	got := EnsureLocales([]string{"NL", "fr", "en", " ", "nl"})
	want := []string{"en", "nl", "fr"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	if JobStatusCompleted.CanTransition(JobStatusProcessing) {
		t.Fatalf("completed must be terminal")
	}
	if !JobStatusFailed.CanTransition(JobStatusProcessing) {
		t.Fatalf("failed must allow retry into processing")
	}
	if JobStatusPending.CanTransition(JobStatusCompleted) {
		t.Fatalf("pending must pass through processing before completed")
	}
}
