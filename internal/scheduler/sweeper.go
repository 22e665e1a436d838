package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"listing-desk/internal/model"
	"listing-desk/internal/queue"
	"listing-desk/internal/reformat"

	"golang.org/x/sync/errgroup"
)

// Config 定期补翻译的调度配置。
type Config struct {
	Interval  string `yaml:"interval" json:"interval"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	// MaxDispatch 单次最多投递的任务数，0 表示不限制
	MaxDispatch int `yaml:"max_dispatch" json:"max_dispatch"`
	// FailureCooldown 最近失败过的房源在该时间内不再投递，默认 24h，"0s" 关闭
	FailureCooldown string `yaml:"failure_cooldown" json:"failure_cooldown"`
}

// Store 抽象存储接口，便于测试替换。
type Store interface {
	ScanProperties(ctx context.Context, batch int, fn func([]model.Property) error) error
	HasActiveJob(ctx context.Context, jobClass, entityType string, entityID uint) (bool, error)
	FailedSince(ctx context.Context, jobClass, entityType string, entityID uint, since time.Time) (bool, error)
}

// Dispatcher 投递改写任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, env queue.Envelope) (string, error)
}

// Result 是一次扫描的统计。Busy 表示上一次扫描尚未结束，本次被跳过；
// Cooling 是最近失败、仍在冷却期内的房源数。
type Result struct {
	Scanned    int  `json:"scanned"`
	Dispatched int  `json:"dispatched"`
	Skipped    int  `json:"skipped"`
	Cooling    int  `json:"cooling"`
	Failed     int  `json:"failed"`
	Busy       bool `json:"busy"`
}

var errDispatchLimit = errors.New("dispatch limit reached")

// Sweeper 周期性找出缺少翻译或 slug 的房源并投递改写任务。
type Sweeper struct {
	store       Store
	jobs        Dispatcher
	locales     []string
	logger      *slog.Logger
	interval    time.Duration
	cron        *cronSchedule
	timeout     time.Duration
	batchSize   int
	maxDispatch int
	cooldown    time.Duration
	running     atomic.Bool
	newTicker   func(time.Duration) ticker
	now         func() time.Time
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewSweeper 创建 Sweeper，解析配置的间隔与超时。
func NewSweeper(store Store, jobs Dispatcher, locales []string, cfg Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	interval, cron := parseSchedule(cfg.Interval)
	timeout := 5 * time.Minute
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	cooldown := 24 * time.Hour
	if d, err := time.ParseDuration(cfg.FailureCooldown); err == nil && d >= 0 {
		cooldown = d
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	return &Sweeper{
		store:       store,
		jobs:        jobs,
		locales:     model.EnsureLocales(locales),
		logger:      logger,
		interval:    interval,
		cron:        cron,
		timeout:     timeout,
		batchSize:   batch,
		maxDispatch: cfg.MaxDispatch,
		cooldown:    cooldown,
		newTicker:   defaultTicker,
		now:         time.Now,
	}
}

// Start 启动调度循环，直到上下文取消。单次扫描失败只记录日志。
func (s *Sweeper) Start(ctx context.Context) error {
	if s.store == nil || s.jobs == nil {
		return fmt.Errorf("sweeper missing dependencies")
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.cron != nil {
		g.Go(func() error { return s.startCron(ctx) })
		return g.Wait()
	}

	tick := s.newTicker(s.interval)
	ch := tick.C()
	g.Go(func() error {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
				s.sweep(ctx)
			drain:
				for {
					select {
					case <-ch:
						continue
					default:
						break drain
					}
				}
			}
		}
	})
	return g.Wait()
}

// RunOnce 执行一次扫描，供管理接口与命令行使用。
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	return s.runOnce(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.runOnce(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reformat sweep failed", "err", err)
		return
	}
	if res.Busy {
		s.logger.DebugContext(ctx, "reformat sweep skipped, previous run still active")
		return
	}
	s.logger.InfoContext(ctx, "reformat sweep finished",
		"scanned", res.Scanned,
		"dispatched", res.Dispatched,
		"skipped", res.Skipped,
		"cooling", res.Cooling,
		"failed", res.Failed,
	)
}

func (s *Sweeper) runOnce(ctx context.Context) (Result, error) {
	if s.running.Swap(true) {
		return Result{Busy: true}, nil
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var res Result
	err := s.store.ScanProperties(ctx, s.batchSize, func(batch []model.Property) error {
		for _, p := range batch {
			res.Scanned++
			if !reformat.NeedsReformat(p, s.locales) {
				continue
			}
			active, err := s.store.HasActiveJob(ctx, reformat.JobClass, reformat.EntityType, p.ID)
			if err != nil {
				return fmt.Errorf("check active job for property %d: %w", p.ID, err)
			}
			if active {
				res.Skipped++
				continue
			}
			if s.cooldown > 0 {
				failed, err := s.store.FailedSince(ctx, reformat.JobClass, reformat.EntityType, p.ID, s.now().Add(-s.cooldown))
				if err != nil {
					return fmt.Errorf("check failed jobs for property %d: %w", p.ID, err)
				}
				if failed {
					res.Cooling++
					continue
				}
			}
			if _, err := s.jobs.Dispatch(ctx, reformat.NewEnvelope(p.ID)); err != nil {
				res.Failed++
				s.logger.WarnContext(ctx, "dispatch reformat job failed", "property_id", p.ID, "err", err)
				continue
			}
			res.Dispatched++
			if s.maxDispatch > 0 && res.Dispatched >= s.maxDispatch {
				return errDispatchLimit
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDispatchLimit) {
		return res, fmt.Errorf("sweep properties: %w", err)
	}
	return res, nil
}

func defaultTicker(d time.Duration) ticker {
	return tickerWrapper{time.NewTicker(d)}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }

func (s *Sweeper) startCron(ctx context.Context) error {
	for {
		next, err := s.cron.next(s.now())
		if err != nil {
			return fmt.Errorf("compute next cron time: %w", err)
		}
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}
