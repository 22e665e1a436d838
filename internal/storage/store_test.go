package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"listing-desk/internal/apperr"
	"listing-desk/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "listings.db"), LogLevel: "silent"})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func uintPtr(v uint) *uint { return &v }

func TestDraftCreateFindAndDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	owner := uintPtr(7)
	app := &model.ListingApplication{ReferenceID: "ref-1", Step: 2, UserID: owner, City: "Amsterdam"}
	if err := store.CreateDraft(ctx, app); err != nil {
		t.Fatalf("CreateDraft error: %v", err)
	}
	if app.ID == 0 {
		t.Fatalf("expected id assigned")
	}

	got, err := store.FindDraft(ctx, DraftLookup{Reference: "ref-1", OwnerID: owner})
	if err != nil {
		t.Fatalf("FindDraft error: %v", err)
	}
	if got.City != "Amsterdam" || got.Step != 2 {
		t.Fatalf("unexpected draft: %#v", got)
	}

	if _, err := store.FindDraft(ctx, DraftLookup{Reference: "ref-1", OwnerID: uintPtr(8)}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for other owner, got %v", err)
	}

	if err := store.DeleteDraft(ctx, app.ID); err != nil {
		t.Fatalf("DeleteDraft error: %v", err)
	}
	if err := store.DeleteDraft(ctx, app.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestFindDraftAllowUnowned(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	anon := &model.ListingApplication{ReferenceID: "anon"}
	if err := store.CreateDraft(ctx, anon); err != nil {
		t.Fatalf("CreateDraft error: %v", err)
	}

	if _, err := store.FindDraft(ctx, DraftLookup{Reference: "anon", OwnerID: uintPtr(3)}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected strict owner lookup to miss anonymous draft, got %v", err)
	}
	if _, err := store.FindDraft(ctx, DraftLookup{Reference: "anon", OwnerID: uintPtr(3), AllowUnowned: true}); err != nil {
		t.Fatalf("expected claimable lookup to find anonymous draft: %v", err)
	}
}

func TestSaveDraftKeepsUntouchedColumns(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	desc := model.PlainText("Bright room")
	app := &model.ListingApplication{ReferenceID: "ref", Description: &desc, Images: "a, b"}
	if err := store.CreateDraft(ctx, app); err != nil {
		t.Fatalf("CreateDraft error: %v", err)
	}

	loaded, err := store.FindDraft(ctx, DraftLookup{ID: app.ID})
	if err != nil {
		t.Fatalf("FindDraft error: %v", err)
	}
	loaded.City = "Utrecht"
	if err := store.SaveDraft(ctx, loaded); err != nil {
		t.Fatalf("SaveDraft error: %v", err)
	}

	again, err := store.FindDraft(ctx, DraftLookup{ID: app.ID})
	if err != nil {
		t.Fatalf("FindDraft error: %v", err)
	}
	if again.City != "Utrecht" || again.Images != "a, b" {
		t.Fatalf("unexpected draft after save: %#v", again)
	}
	if again.Description == nil || again.Description.English() != "Bright room" {
		t.Fatalf("expected description preserved, got %#v", again.Description)
	}
}

func TestListDraftsFiltersAndPagination(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	owner := uintPtr(1)
	for i := 0; i < 5; i++ {
		app := &model.ListingApplication{
			ReferenceID: fmt.Sprintf("ref-%d", i),
			UserID:      owner,
			City:        "Rotterdam",
			Email:       fmt.Sprintf("user%d@example.com", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}
		if i == 4 {
			app.City = "The Hague"
			app.Surname = "Van Dijk"
			app.UserID = uintPtr(2)
		}
		if err := store.CreateDraft(ctx, app); err != nil {
			t.Fatalf("CreateDraft error: %v", err)
		}
	}

	apps, total, err := store.ListDrafts(ctx, DraftQuery{OwnerID: owner, City: "rotter", PerPage: 2})
	if err != nil {
		t.Fatalf("ListDrafts error: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected total 4, got %d", total)
	}
	if len(apps) != 2 || apps[0].ReferenceID != "ref-3" {
		t.Fatalf("expected newest first page, got %#v", apps)
	}

	apps, total, err = store.ListDrafts(ctx, DraftQuery{Search: "DIJK"})
	if err != nil {
		t.Fatalf("ListDrafts error: %v", err)
	}
	if total != 1 || apps[0].ReferenceID != "ref-4" {
		t.Fatalf("expected surname search hit, got total=%d apps=%#v", total, apps)
	}

	_, total, err = store.ListDrafts(ctx, DraftQuery{Reference: "ref-2"})
	if err != nil {
		t.Fatalf("ListDrafts error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected reference filter hit, got %d", total)
	}
}

func TestListDraftsTreatsWildcardsLiterally(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, app := range []*model.ListingApplication{
		{ReferenceID: "ref_a", Name: "Anna", Email: "anna@example.com"},
		{ReferenceID: "refxb", Name: "100% Bram", Email: "bram@example.com"},
	} {
		if err := store.CreateDraft(ctx, app); err != nil {
			t.Fatalf("CreateDraft error: %v", err)
		}
	}

	cases := []struct {
		q    DraftQuery
		want string
	}{
		{DraftQuery{Search: "%"}, "refxb"},
		{DraftQuery{Search: "0% b"}, "refxb"},
		{DraftQuery{Reference: "ref_"}, "ref_a"},
	}
	for _, tc := range cases {
		apps, total, err := store.ListDrafts(ctx, tc.q)
		if err != nil {
			t.Fatalf("ListDrafts error: %v", err)
		}
		if total != 1 || apps[0].ReferenceID != tc.want {
			t.Fatalf("query %#v: expected only %s, got total=%d", tc.q, tc.want, total)
		}
	}

	if _, total, _ := store.ListDrafts(ctx, DraftQuery{Search: "_"}); total != 0 {
		t.Fatalf("expected underscore to match literally, got %d", total)
	}
}

func TestPropertyCreateAndReformatSave(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	prop := &model.Property{Status: model.PropertyStatusPending, Interface: model.InterfaceWeb}
	if err := store.CreateProperty(ctx, prop); err != nil {
		t.Fatalf("CreateProperty error: %v", err)
	}
	if err := store.CreatePersonalData(ctx, &model.PersonalData{PropertyID: prop.ID, Name: "Ana"}); err != nil {
		t.Fatalf("CreatePersonalData error: %v", err)
	}
	data := &model.PropertyData{
		PropertyID:  prop.ID,
		City:        "Delft",
		Description: model.Localized(map[string]string{"en": "Room", "nl": ""}),
		Title:       model.Localized(map[string]string{"en": model.DefaultTitle}),
	}
	if err := store.CreatePropertyData(ctx, data); err != nil {
		t.Fatalf("CreatePropertyData error: %v", err)
	}

	loaded, err := store.GetProperty(ctx, prop.ID)
	if err != nil {
		t.Fatalf("GetProperty error: %v", err)
	}
	if loaded.PersonalData == nil || loaded.PropertyData == nil {
		t.Fatalf("expected associations preloaded, got %#v", loaded)
	}

	loaded.PropertyData.Description = model.Localized(map[string]string{"en": "Room", "nl": "Kamer"})
	loaded.Slug = "1001-room-delft"
	loaded.Link = "https://example.com/delft/1001-room-delft"
	if err := store.SaveReformatted(ctx, loaded); err != nil {
		t.Fatalf("SaveReformatted error: %v", err)
	}

	again, err := store.GetProperty(ctx, prop.ID)
	if err != nil {
		t.Fatalf("GetProperty error: %v", err)
	}
	if again.Slug != "1001-room-delft" || again.PropertyData.Description.Get("nl") != "Kamer" {
		t.Fatalf("unexpected property after reformat: %#v %#v", again, again.PropertyData)
	}

	if _, err := store.GetProperty(ctx, 999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransactionRollsBack(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx *Store) error {
		if err := tx.CreateDraft(ctx, &model.ListingApplication{ReferenceID: "tx"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.FindDraft(ctx, DraftLookup{Reference: "tx"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected rollback, got %v", err)
	}
}

func TestFailedSince(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	failedAt := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	if err := store.CreateJobTracking(ctx, &model.JobTracking{
		JobClass:          "reformat",
		Status:            model.JobStatusFailed,
		RelatedEntityType: "property",
		RelatedEntityID:   uintPtr(3),
		FailedAt:          &failedAt,
	}); err != nil {
		t.Fatalf("CreateJobTracking error: %v", err)
	}

	cases := []struct {
		id    uint
		since time.Time
		want  bool
	}{
		{3, failedAt.Add(-time.Hour), true},
		{3, failedAt.Add(time.Hour), false},
		{4, failedAt.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		got, err := store.FailedSince(ctx, "reformat", "property", tc.id, tc.since)
		if err != nil {
			t.Fatalf("FailedSince error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("FailedSince(%d, %s) = %v, want %v", tc.id, tc.since, got, tc.want)
		}
	}
}

func TestJobTrackingLookupAndList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	entity := uintPtr(42)
	older := &model.JobTracking{
		JobClass:          "reformat",
		Status:            model.JobStatusPending,
		RelatedEntityType: "property",
		RelatedEntityID:   entity,
		Metadata:          datatypes.JSONMap{"property_id": 42},
		CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &model.JobTracking{
		JobClass:          "reformat",
		Status:            model.JobStatusPending,
		RelatedEntityType: "property",
		RelatedEntityID:   entity,
		CreatedAt:         time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for _, row := range []*model.JobTracking{older, newer} {
		if err := store.CreateJobTracking(ctx, row); err != nil {
			t.Fatalf("CreateJobTracking error: %v", err)
		}
	}

	got, err := store.FindJobTracking(ctx, JobLookup{JobID: "job-1", JobClass: "reformat", EntityType: "property", EntityID: entity})
	if err != nil {
		t.Fatalf("FindJobTracking error: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected newest row %d, got %d", newer.ID, got.ID)
	}

	if err := store.UpdateJobTracking(ctx, got.ID, map[string]any{"job_id": "job-1", "status": model.JobStatusProcessing}); err != nil {
		t.Fatalf("UpdateJobTracking error: %v", err)
	}
	byID, err := store.FindJobTracking(ctx, JobLookup{JobID: "job-1"})
	if err != nil {
		t.Fatalf("FindJobTracking by id error: %v", err)
	}
	if byID.ID != newer.ID || byID.Status != model.JobStatusProcessing {
		t.Fatalf("unexpected row by job id: %#v", byID)
	}

	active, err := store.HasActiveJob(ctx, "reformat", "property", 42)
	if err != nil {
		t.Fatalf("HasActiveJob error: %v", err)
	}
	if !active {
		t.Fatalf("expected active job")
	}

	rows, total, err := store.ListJobTracking(ctx, JobQuery{Status: model.JobStatusPending})
	if err != nil {
		t.Fatalf("ListJobTracking error: %v", err)
	}
	if total != 1 || rows[0].ID != older.ID {
		t.Fatalf("expected only the older pending row, got total=%d rows=%#v", total, rows)
	}

	if err := store.UpdateJobTracking(ctx, 999, map[string]any{"status": model.JobStatusFailed}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on missing row, got %v", err)
	}
}

func TestIsAbortedTransaction(t *testing.T) {
	t.Parallel()

	if !IsAbortedTransaction(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "25P02"})) {
		t.Fatalf("expected SQLSTATE 25P02 detected")
	}
	if !IsAbortedTransaction(errors.New("ERROR: current transaction is aborted, commands ignored")) {
		t.Fatalf("expected message match")
	}
	if IsAbortedTransaction(errors.New("unique violation")) {
		t.Fatalf("unexpected match")
	}
	if IsAbortedTransaction(nil) {
		t.Fatalf("nil must not match")
	}
}
