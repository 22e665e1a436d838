package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGitHubTriggerSendsDispatch(t *testing.T) {
	t.Parallel()

	var got dispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/site/dispatches" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ghp_test" {
			t.Errorf("missing token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewGitHubTrigger(GitHubConfig{APIBase: srv.URL, Token: "ghp_test", Repo: "acme/site"}, srv.Client())
	if err := g.Trigger(context.Background(), "property 3"); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	if got.EventType != "rebuild-sitemap" || got.ClientPayload["reason"] != "property 3" {
		t.Fatalf("unexpected dispatch body %#v", got)
	}
}

func TestGitHubTriggerErrors(t *testing.T) {
	t.Parallel()

	if err := NewGitHubTrigger(GitHubConfig{}, nil).Trigger(context.Background(), "x"); err == nil {
		t.Fatalf("expected not configured error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()
	g := NewGitHubTrigger(GitHubConfig{APIBase: srv.URL, Token: "t", Repo: "a/b"}, srv.Client())
	if err := g.Trigger(context.Background(), "x"); err == nil {
		t.Fatalf("expected http error")
	}
}
