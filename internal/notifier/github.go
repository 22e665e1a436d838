package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GitHubConfig 站点地图重建所用的 repository_dispatch 配置。
type GitHubConfig struct {
	APIBase   string `yaml:"api_base" json:"api_base"`
	Token     string `yaml:"token" json:"token"`
	Repo      string `yaml:"repo" json:"repo"`
	EventType string `yaml:"event_type" json:"event_type"`
	Timeout   string `yaml:"timeout" json:"timeout"`
}

// Enabled 判断是否配置了仓库与令牌。
func (c GitHubConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != "" && strings.Contains(c.Repo, "/")
}

// GitHubTrigger 通过 repository_dispatch 触发前台站点地图重建。
type GitHubTrigger struct {
	cfg    GitHubConfig
	client *http.Client
}

// NewGitHubTrigger 创建触发器，默认 15 秒超时。
func NewGitHubTrigger(cfg GitHubConfig, httpClient *http.Client) *GitHubTrigger {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.github.com"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.EventType == "" {
		cfg.EventType = "rebuild-sitemap"
	}
	if httpClient == nil {
		timeout := 15 * time.Second
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GitHubTrigger{cfg: cfg, client: httpClient}
}

// Trigger 发送 repository_dispatch 事件。
func (g *GitHubTrigger) Trigger(ctx context.Context, reason string) error {
	if !g.cfg.Enabled() {
		return fmt.Errorf("github dispatch not configured")
	}
	data, err := json.Marshal(dispatchRequest{
		EventType:     g.cfg.EventType,
		ClientPayload: map[string]string{"reason": reason},
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/dispatches", g.cfg.APIBase, g.cfg.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github dispatch http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type dispatchRequest struct {
	EventType     string            `json:"event_type"`
	ClientPayload map[string]string `json:"client_payload"`
}
