package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend 进程内队列，延迟任务由定时器放回就绪列表。
type MemoryBackend struct {
	mu     sync.Mutex
	ready  []Envelope
	timers map[*time.Timer]struct{}
	notify chan struct{}
	closed bool
	now    func() time.Time
}

// NewMemoryBackend 创建进程内队列。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		timers: make(map[*time.Timer]struct{}),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Push 写入任务，AvailableAt 在未来时延迟入队。
func (m *MemoryBackend) Push(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	delay := env.AvailableAt.Sub(m.now())
	if delay <= 0 {
		m.enqueueLocked(env)
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.timers, timer)
		if !m.closed {
			m.enqueueLocked(env)
		}
	})
	m.timers[timer] = struct{}{}
	return nil
}

// Pop 取出最早入队的任务。
func (m *MemoryBackend) Pop(ctx context.Context) (Envelope, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Envelope{}, ErrClosed
		}
		if len(m.ready) > 0 {
			env := m.ready[0]
			m.ready = m.ready[1:]
			if len(m.ready) > 0 {
				m.signal()
			}
			m.mu.Unlock()
			return env, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-m.notify:
		}
	}
}

// Len 返回就绪任务数量。
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// Close 停止所有延迟定时器并唤醒等待方。
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	close(m.notify)
	return nil
}

func (m *MemoryBackend) enqueueLocked(env Envelope) {
	m.ready = append(m.ready, env)
	m.signal()
}

func (m *MemoryBackend) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
