package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrClosed 表示队列已关闭。
var ErrClosed = errors.New("queue closed")

// Envelope 是队列中的一条任务
// - ID: 分发时生成，重试保持不变
// - Attempt: 已开始执行的次数
// - Metadata: 构造任务时的识别字段，写入任务跟踪
// - AvailableAt: 最早可执行时间，用于重试退避
type Envelope struct {
	ID          string          `json:"id"`
	Class       string          `json:"class"`
	EntityType  string          `json:"entity_type,omitempty"`
	EntityID    *uint           `json:"entity_id,omitempty"`
	Attempt     int             `json:"attempt"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
}

// Decode 将 Payload 解析到 v。
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", e.Class)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Class, err)
	}
	return nil
}

// Backend 队列存储，Pop 阻塞直到有可执行任务或上下文结束。
type Backend interface {
	Push(ctx context.Context, env Envelope) error
	Pop(ctx context.Context) (Envelope, error)
	Close() error
}

// Handler 执行一类任务。
type Handler func(ctx context.Context, env Envelope) error

// Lifecycle 接收任务生命周期事件，实现方应自行吞掉写入失败。
type Lifecycle interface {
	Queued(ctx context.Context, env Envelope) error
	Started(ctx context.Context, env Envelope) error
	Succeeded(ctx context.Context, env Envelope) error
	Retrying(ctx context.Context, env Envelope, cause error) error
	Failed(ctx context.Context, env Envelope, cause error) error
}

func encode(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

func decode(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
