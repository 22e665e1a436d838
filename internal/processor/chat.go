package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultChatBase  = "https://api.openai.com/v1"
	defaultChatModel = "gpt-4o-mini"
)

// ChatConfig 定义 OpenAI 兼容接口配置。
type ChatConfig struct {
	APIBase string `yaml:"api_base" json:"api_base"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Model   string `yaml:"model" json:"model"`
	Timeout string `yaml:"timeout" json:"timeout"`
	// MaxTokens 为 0 时不限制输出长度
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
}

// APIError 是 chat 接口返回的非 2xx 响应。
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("ai http %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("ai http %d: %s", e.Status, e.Message)
}

// Temporary 对限流和服务端错误返回 true，任务队列会重试这类失败。
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// ErrTruncated 表示回复因长度限制被截断，JSON 不完整。
var ErrTruncated = errors.New("ai response truncated")

// ChatClient 调用 chat/completions，并要求返回 JSON 对象。
type ChatClient struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
}

// NewChatClient 创建客户端，未指定时使用 60 秒超时。
func NewChatClient(cfg ChatConfig, httpClient *http.Client) *ChatClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = defaultChatBase
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultChatModel
	}
	if httpClient == nil {
		timeout := 60 * time.Second
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &ChatClient{
		endpoint:  base + "/chat/completions",
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     model,
		maxTokens: cfg.MaxTokens,
		client:    httpClient,
	}
}

// Complete 发送 system + user 消息，返回第一条回复内容。
func (c *ChatClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("ai api key missing")
	}

	var out chatResponse
	if err := c.post(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
		MaxTokens:      c.maxTokens,
	}, &out); err != nil {
		return "", err
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai response has no choices")
	}
	choice := out.Choices[0]
	if choice.FinishReason == "length" {
		return "", ErrTruncated
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", fmt.Errorf("ai response empty")
	}
	return content, nil
}

func (c *ChatClient) post(ctx context.Context, in chatRequest, out *chatResponse) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	return nil
}

// apiError 解析 {"error":{"message","type"}}，无法解析时保留响应片段。
func apiError(status int, raw []byte) *APIError {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		return &APIError{Status: status, Type: env.Error.Type, Message: env.Error.Message}
	}
	snippet := strings.TrimSpace(string(raw))
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	return &APIError{Status: status, Message: snippet}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
