package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"listing-desk/internal/draft"
	"listing-desk/internal/middleware"
	"listing-desk/internal/model"
	"listing-desk/internal/queue"
	"listing-desk/internal/reformat"
	"listing-desk/internal/scheduler"
	"listing-desk/internal/storage"
	"listing-desk/internal/submission"
	"listing-desk/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "api-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	jobs    *stubDispatcher
	sweeper *stubSweeper
}

func newTestEnv(t *testing.T, whitelist []string) *testEnv {
	t.Helper()
	store, err := storage.NewStore(storage.Config{Path: filepath.Join(t.TempDir(), "api.db"), LogLevel: "silent"})
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := &stubDispatcher{}
	sweeper := &stubSweeper{}
	h := NewHandler(Deps{
		Drafts:      draft.NewService(store, nil, validation.New([]string{"partner.example.com"}), log),
		Submissions: submission.NewService(store, nil, jobs, []string{"nl"}, log),
		Store:       store,
		Jobs:        jobs,
		Sweeper:     sweeper,
		Auth:        middleware.NewAuthenticator(testSecret, log),
		Whitelist:   whitelist,
		Logger:      log,
	})
	return &testEnv{handler: h, store: store, jobs: jobs, sweeper: sweeper}
}

func token(t *testing.T, sub uint, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": strconv.FormatUint(uint64(sub), 10)}
	if role != "" {
		claims["role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type call struct {
	method string
	path   string
	body   any
	token  string
	header map[string]string
}

func (e *testEnv) do(t *testing.T, c call) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func dataMap(t *testing.T, env envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %#v", env.Data)
	}
	return m
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, []string{"rooms.example.com"})
	w, env := e.do(t, call{method: http.MethodGet, path: "/health"})
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestWhitelistGuardsAPI(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, []string{"rooms.example.com"})
	w, _ := e.do(t, call{method: http.MethodPost, path: "/api/listing-applications", body: map[string]any{}, header: map[string]string{"Origin": "https://evil.test"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	w, _ = e.do(t, call{method: http.MethodPost, path: "/api/listing-applications", body: map[string]any{}, header: map[string]string{"Origin": "https://rooms.example.com"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for whitelisted origin, got %d %s", w.Code, w.Body.String())
	}
}

func TestValidateStepReturnsFieldErrors(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	w, env := e.do(t, call{
		method: http.MethodPost,
		path:   "/api/listing-applications/steps/2",
		body:   map[string]any{"name": "Ana", "email": "not-an-email"},
	})
	if w.Code != http.StatusUnprocessableEntity || env.Success {
		t.Fatalf("expected 422, got %d %s", w.Code, w.Body.String())
	}
	for _, field := range []string{"surname", "email", "phone"} {
		if env.Errors[field] == "" {
			t.Fatalf("expected error for %s, got %#v", field, env.Errors)
		}
	}

	w, env = e.do(t, call{
		method: http.MethodPost,
		path:   "/api/listing-applications/steps/2",
		body:   map[string]any{"name": "Ana", "surname": "Silva", "email": "ana@example.com", "phone": "0612345678"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if step := dataMap(t, env)["step"]; step != float64(3) {
		t.Fatalf("expected step advanced to 3, got %v", step)
	}

	w, _ = e.do(t, call{method: http.MethodPost, path: "/api/listing-applications/steps/abc", body: map[string]any{}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non numeric step, got %d", w.Code)
	}
}

func TestDraftLifecycleAndSubmit(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	userToken := token(t, 5, "")

	w, env := e.do(t, call{
		method: http.MethodPost,
		path:   "/api/listing-applications",
		token:  userToken,
		body: map[string]any{
			"name":        "Ana",
			"city":        "Utrecht",
			"rent":        "640.5",
			"description": "Quiet room near the park",
			"images":      []string{"https://cdn/a.jpg"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save failed %d %s", w.Code, w.Body.String())
	}
	saved := dataMap(t, env)
	ref, _ := saved["reference_id"].(string)
	if ref == "" {
		t.Fatalf("expected reference id, got %#v", saved)
	}

	w, env = e.do(t, call{method: http.MethodGet, path: "/api/listing-applications/" + ref})
	if w.Code != http.StatusOK || dataMap(t, env)["reference_id"] != ref {
		t.Fatalf("anonymous caller should find the draft by reference, got %d %s", w.Code, w.Body.String())
	}
	w, env = e.do(t, call{method: http.MethodGet, path: "/api/listing-applications/" + ref, token: userToken})
	if w.Code != http.StatusOK || dataMap(t, env)["city"] != "Utrecht" {
		t.Fatalf("unexpected show response %d %s", w.Code, w.Body.String())
	}

	w, env = e.do(t, call{method: http.MethodGet, path: "/api/listing-applications?city=utr", token: userToken})
	if w.Code != http.StatusOK || dataMap(t, env)["total"] != float64(1) {
		t.Fatalf("unexpected list response %d %s", w.Code, w.Body.String())
	}
	if w, _ := e.do(t, call{method: http.MethodGet, path: "/api/listing-applications"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous list, got %d", w.Code)
	}

	if w, _ := e.do(t, call{method: http.MethodPost, path: "/api/listing-applications/submit", body: map[string]any{"referenceId": ref}}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous submit, got %d", w.Code)
	}
	if w, _ := e.do(t, call{method: http.MethodPost, path: "/api/listing-applications/submit", body: map[string]any{}, token: userToken}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without reference, got %d", w.Code)
	}

	w, env = e.do(t, call{method: http.MethodPost, path: "/api/listing-applications/submit", body: map[string]any{"referenceId": ref}, token: userToken})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit failed %d %s", w.Code, w.Body.String())
	}
	property := dataMap(t, env)
	data, _ := property["property_data"].(map[string]any)
	desc, _ := data["description"].(map[string]any)
	if desc["en"] != "Quiet room near the park" || desc["nl"] != "" {
		t.Fatalf("unexpected submitted description %#v", data["description"])
	}
	if len(e.jobs.envs) != 1 || e.jobs.envs[0].Class != reformat.JobClass {
		t.Fatalf("expected reformat job dispatched, got %#v", e.jobs.envs)
	}

	w, _ = e.do(t, call{method: http.MethodPost, path: "/api/listing-applications/submit", body: map[string]any{"referenceId": ref}, token: userToken})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second submit, got %d", w.Code)
	}
}

func TestEditAndDestroyAreOwnerScoped(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	owner := uint(5)
	app := &model.ListingApplication{ReferenceID: "ref-edit", Step: 1, UserID: &owner, City: "Delft"}
	if err := e.store.CreateDraft(context.Background(), app); err != nil {
		t.Fatalf("CreateDraft error: %v", err)
	}
	path := "/api/listing-applications/" + strconv.FormatUint(uint64(app.ID), 10)

	if w, _ := e.do(t, call{method: http.MethodPut, path: path, body: map[string]any{"city": "Leiden"}, token: token(t, 6, "")}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", w.Code)
	}
	w, env := e.do(t, call{method: http.MethodPut, path: path, body: map[string]any{"postCode": "2511 AB", "city": nil}, token: token(t, 5, "")})
	if w.Code != http.StatusOK {
		t.Fatalf("edit failed %d %s", w.Code, w.Body.String())
	}
	if got := dataMap(t, env); got["postcode"] != "2511 AB" || got["city"] != "Delft" {
		t.Fatalf("unexpected edit result %#v", got)
	}

	if w, _ := e.do(t, call{method: http.MethodDelete, path: path, token: token(t, 5, "")}); w.Code != http.StatusOK {
		t.Fatalf("delete failed %d", w.Code)
	}
	if w, _ := e.do(t, call{method: http.MethodDelete, path: path, token: token(t, 5, "")}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeated delete, got %d", w.Code)
	}
	if w, _ := e.do(t, call{method: http.MethodDelete, path: "/api/listing-applications/x", token: token(t, 5, "")}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for invalid id, got %d", w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, nil)
	admin := token(t, 1, "admin")

	if w, _ := e.do(t, call{method: http.MethodGet, path: "/api/admin/jobs", token: token(t, 5, "")}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non admin, got %d", w.Code)
	}

	if w, _ := e.do(t, call{method: http.MethodPost, path: "/api/admin/properties/99/reformat", token: admin}); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown property, got %d", w.Code)
	}

	p := &model.Property{Status: model.PropertyStatusPending, Interface: model.InterfaceWeb}
	if err := e.store.CreateProperty(context.Background(), p); err != nil {
		t.Fatalf("CreateProperty error: %v", err)
	}
	w, env := e.do(t, call{method: http.MethodPost, path: "/api/admin/properties/" + strconv.FormatUint(uint64(p.ID), 10) + "/reformat", token: admin})
	if w.Code != http.StatusAccepted || dataMap(t, env)["job_id"] != "job-1" {
		t.Fatalf("unexpected reformat response %d %s", w.Code, w.Body.String())
	}

	e.sweeper.result = scheduler.Result{Scanned: 3, Dispatched: 1}
	w, env = e.do(t, call{method: http.MethodPost, path: "/api/admin/reformat/sweep", token: admin})
	if w.Code != http.StatusOK || dataMap(t, env)["dispatched"] != float64(1) {
		t.Fatalf("unexpected sweep response %d %s", w.Code, w.Body.String())
	}
	e.sweeper.result = scheduler.Result{Busy: true}
	if w, _ := e.do(t, call{method: http.MethodPost, path: "/api/admin/reformat/sweep", token: admin}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for busy sweep, got %d", w.Code)
	}

	pid := p.ID
	if err := e.store.CreateJobTracking(context.Background(), &model.JobTracking{
		JobClass:          reformat.JobClass,
		RelatedEntityType: reformat.EntityType,
		RelatedEntityID:   &pid,
		Status:            model.JobStatusFailed,
	}); err != nil {
		t.Fatalf("CreateJobTracking error: %v", err)
	}
	w, env = e.do(t, call{method: http.MethodGet, path: "/api/admin/jobs?status=failed", token: admin})
	if w.Code != http.StatusOK || dataMap(t, env)["total"] != float64(1) {
		t.Fatalf("unexpected jobs response %d %s", w.Code, w.Body.String())
	}

	w, env = e.do(t, call{method: http.MethodGet, path: "/api/admin/listing-applications", token: admin})
	if w.Code != http.StatusOK || dataMap(t, env)["total"] != float64(0) {
		t.Fatalf("unexpected admin list response %d %s", w.Code, w.Body.String())
	}
}

func TestFormFieldsShapesMultipartValues(t *testing.T) {
	t.Parallel()

	fields := formFields(map[string][]string{
		"name":            {"Ana"},
		"images[]":        {"a.jpg", "b.jpg"},
		"terms[contact]":  {"1"},
		"terms[legals]":   {"true"},
		"rent":            {"null"},
		"available_from":  {"2024-09-01", "2024-10-01"},
		"ignored_empty[]": {},
	})
	if fields["name"] != "Ana" || fields["rent"] != nil {
		t.Fatalf("unexpected scalar fields %#v", fields)
	}
	if imgs, ok := fields["images"].([]any); !ok || len(imgs) != 2 {
		t.Fatalf("expected image list, got %#v", fields["images"])
	}
	terms, ok := fields["terms"].(map[string]any)
	if !ok || terms["contact"] != "1" || terms["legals"] != "true" {
		t.Fatalf("expected nested terms, got %#v", fields["terms"])
	}
	if _, ok := fields["available_from"].([]any); !ok {
		t.Fatalf("expected repeated field as list, got %#v", fields["available_from"])
	}
	if _, ok := fields["ignored_empty"]; ok {
		t.Fatalf("empty field must be dropped")
	}
}

func TestMultipartSaveCollectsUploads(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("city", "Delft")
	fw, err := mw.CreateFormFile("images[]", "room.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile error: %v", err)
	}
	_, _ = fw.Write([]byte("jpeg-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/listing-applications", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	payload, files, err := parsePayload(c)
	if err != nil {
		t.Fatalf("parsePayload error: %v", err)
	}
	if payload["city"] != "Delft" || len(files) != 1 || files[0].Name != "room.jpg" {
		t.Fatalf("unexpected multipart parse %#v %#v", payload, files)
	}
	rc, err := files[0].Open()
	if err != nil {
		t.Fatalf("open upload: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected upload content %q", data)
	}
}

// --- stubs ---

type stubDispatcher struct {
	envs []queue.Envelope
}

func (s *stubDispatcher) Dispatch(_ context.Context, env queue.Envelope) (string, error) {
	s.envs = append(s.envs, env)
	return "job-" + strconv.Itoa(len(s.envs)), nil
}

type stubSweeper struct {
	result scheduler.Result
}

func (s *stubSweeper) RunOnce(context.Context) (scheduler.Result, error) {
	return s.result, nil
}
