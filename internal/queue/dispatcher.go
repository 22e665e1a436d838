package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config 任务执行配置。
type Config struct {
	Workers        int    `yaml:"workers" json:"workers"`
	MaxAttempts    int    `yaml:"max_attempts" json:"max_attempts"`
	Backoff        string `yaml:"backoff" json:"backoff"`
	AttemptTimeout string `yaml:"attempt_timeout" json:"attempt_timeout"`
}

// PanicError 记录任务执行中的 panic 及其堆栈。
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }

// StackTrace 返回 panic 发生时的堆栈。
func (e *PanicError) StackTrace() string { return e.Stack }

// Dispatcher 分发任务并以固定数量的 worker 执行，失败按退避重试。
type Dispatcher struct {
	backend        Backend
	lifecycle      Lifecycle
	logger         *slog.Logger
	workers        int
	maxAttempts    int
	backoff        time.Duration
	attemptTimeout time.Duration
	now            func() time.Time
	newID          func() string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher 创建 Dispatcher，未配置的参数使用默认值。
func NewDispatcher(backend Backend, lifecycle Lifecycle, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Dispatcher{
		backend:        backend,
		lifecycle:      lifecycle,
		logger:         logger,
		workers:        workers,
		maxAttempts:    attempts,
		backoff:        parseDuration(cfg.Backoff, 60*time.Second, true),
		attemptTimeout: parseDuration(cfg.AttemptTimeout, 2*time.Minute, false),
		now:            time.Now,
		newID:          uuid.NewString,
		handlers:       make(map[string]Handler),
	}
}

// Register 为任务类型注册处理函数。
func (d *Dispatcher) Register(class string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[class] = h
}

// Dispatch 生成任务 ID、通知生命周期并入队。
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (string, error) {
	if env.Class == "" {
		return "", fmt.Errorf("dispatch job: missing class")
	}
	d.mu.RLock()
	_, ok := d.handlers[env.Class]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("dispatch job: no handler for %s", env.Class)
	}

	env.ID = d.newID()
	env.Attempt = 0
	env.AvailableAt = time.Time{}

	if d.lifecycle != nil {
		_ = d.lifecycle.Queued(ctx, env)
	}
	if err := d.backend.Push(ctx, env); err != nil {
		err = fmt.Errorf("dispatch job %s: %w", env.Class, err)
		// 入队失败时跟踪行不能停留在 pending，否则补翻译扫描会一直跳过该实体
		if d.lifecycle != nil {
			_ = d.lifecycle.Failed(ctx, env, err)
		}
		return "", err
	}
	d.logger.InfoContext(ctx, "job dispatched", "job_id", env.ID, "job_class", env.Class)
	return env.ID, nil
}

// Run 启动 worker 直到上下文取消或队列关闭。
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	for {
		env, err := d.backend.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			d.logger.Error("pop job failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		d.Process(ctx, env)
	}
}

// Process 执行一次任务尝试，失败时决定重试或标记失败。
func (d *Dispatcher) Process(ctx context.Context, env Envelope) {
	env.Attempt++
	log := d.logger.With("job_id", env.ID, "job_class", env.Class, "attempt", env.Attempt)

	d.mu.RLock()
	h, ok := d.handlers[env.Class]
	d.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("no handler for %s", env.Class)
		log.ErrorContext(ctx, "job dropped", "error", err)
		if d.lifecycle != nil {
			_ = d.lifecycle.Failed(ctx, env, err)
		}
		return
	}

	if d.lifecycle != nil {
		_ = d.lifecycle.Started(ctx, env)
	}

	err := d.invoke(ctx, h, env)
	if err == nil {
		if d.lifecycle != nil {
			_ = d.lifecycle.Succeeded(ctx, env)
		}
		log.InfoContext(ctx, "job completed")
		return
	}

	if env.Attempt < d.maxAttempts && ctx.Err() == nil {
		if d.lifecycle != nil {
			_ = d.lifecycle.Retrying(ctx, env, err)
		}
		env.AvailableAt = d.now().Add(d.backoff)
		pushErr := d.backend.Push(ctx, env)
		if pushErr == nil {
			log.WarnContext(ctx, "job failed, retry scheduled", "error", err, "retry_at", env.AvailableAt)
			return
		}
		err = errors.Join(err, fmt.Errorf("requeue: %w", pushErr))
	}

	if d.lifecycle != nil {
		_ = d.lifecycle.Failed(ctx, env, err)
	}
	log.ErrorContext(ctx, "job failed", "error", err)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, env Envelope) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return h(ctx, env)
}

func parseDuration(value string, def time.Duration, allowZero bool) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return def
	}
	return d
}
