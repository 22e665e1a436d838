package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listing-desk/internal/api"
	"listing-desk/internal/config"
	"listing-desk/internal/draft"
	"listing-desk/internal/links"
	"listing-desk/internal/logger"
	"listing-desk/internal/media"
	"listing-desk/internal/middleware"
	"listing-desk/internal/notifier"
	"listing-desk/internal/payment"
	"listing-desk/internal/processor"
	"listing-desk/internal/queue"
	"listing-desk/internal/reformat"
	"listing-desk/internal/scheduler"
	"listing-desk/internal/storage"
	"listing-desk/internal/submission"
	"listing-desk/internal/tracking"
	"listing-desk/internal/validation"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type sweepRunner interface {
	RunOnce(ctx context.Context) (scheduler.Result, error)
	Start(ctx context.Context) error
}

// appDeps 是装配完成的运行时组件。
type appDeps struct {
	handler http.Handler
	sweeper sweepRunner
	// workers 消费队列，直到上下文取消
	workers func(ctx context.Context) error
	// drain 同步处理进程内队列中已就绪的任务，Redis 队列为 nil
	drain func(ctx context.Context) error
}

type depsBuilder func(config.AppConfig) (appDeps, func(), error)

func main() {
	configPath := flag.String("config", "", "config file path (defaults to $CONFIG_FILE or config.yaml)")
	sweepOnce := flag.Bool("sweep-once", false, "run one reformat sweep, process queued jobs and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log)
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *sweepOnce {
		res, err := runOnceManual(ctx, cfg, buildDeps)
		if err != nil {
			log.Error("manual sweep failed", "err", err)
			os.Exit(1)
		}
		log.Info("manual sweep finished", "scanned", res.Scanned, "dispatched", res.Dispatched, "skipped", res.Skipped, "cooling", res.Cooling, "failed", res.Failed)
		return
	}

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		log.Error("init failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	background := []func(context.Context) error{deps.workers}
	if cfg.Sweep.Enabled && deps.sweeper != nil {
		background = append(background, deps.sweeper.Start)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           deps.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("listening", "addr", cfg.Server.Addr, "queue", cfg.Queue.Driver, "database", cfg.Database.Driver)
	if err := runServer(ctx, srv, shutdownTimeout(cfg.Server.ShutdownTimeout), background...); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// buildDeps 按配置装配存储、队列、任务与 HTTP 层。
func buildDeps(cfg config.AppConfig) (appDeps, func(), error) {
	log := slog.Default()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (appDeps, func(), error) {
		cleanup()
		return appDeps{}, func() {}, err
	}

	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("init store: %w", err))
	}
	closers = append(closers, func() { _ = store.Close() })

	var images draft.ImageResolver
	if cfg.Storage.Endpoint != "" {
		uploader, err := media.NewMinioUploader(cfg.Storage)
		if err != nil {
			return fail(fmt.Errorf("init object storage: %w", err))
		}
		images = media.NewResolver(uploader)
	} else {
		log.Warn("object storage disabled: uploads are ignored, image urls are kept as sent")
	}

	var (
		backend queue.Backend
		memory  *queue.MemoryBackend
	)
	switch cfg.Queue.Driver {
	case config.QueueRedis:
		rb, err := queue.NewRedisBackend(context.Background(), cfg.Queue.Redis)
		if err != nil {
			return fail(fmt.Errorf("init redis queue: %w", err))
		}
		backend = rb
	default:
		memory = queue.NewMemoryBackend()
		backend = memory
	}
	closers = append(closers, func() { _ = backend.Close() })

	tracker := tracking.NewTracker(store, log)
	dispatcher := queue.NewDispatcher(backend, tracker, cfg.Queue.Dispatcher, log)

	var sitemap reformat.SitemapTrigger = notifier.NewLogTrigger(log)
	if cfg.Sitemap.Enabled() {
		sitemap = notifier.NewGitHubTrigger(cfg.Sitemap, nil)
	}
	ai := processor.New(cfg.AI, processor.NewChatClient(cfg.AI.Chat, nil))
	job := reformat.NewJob(store, ai, links.NewBuilder(cfg.Links), sitemap, cfg.Locales, log)
	dispatcher.Register(reformat.JobClass, job.Handler())

	var payments submission.PaymentLinker
	if cfg.Payment.SecretKey != "" {
		payments = payment.NewStripeClient(cfg.Payment, nil)
	} else {
		log.Warn("payment links disabled: missing stripe secret key")
	}

	sweeper := scheduler.NewSweeper(store, dispatcher, cfg.Locales, cfg.Sweep.Config, log)
	handler := api.NewHandler(api.Deps{
		Drafts:      draft.NewService(store, images, validation.New(cfg.Domains.Terms), log),
		Submissions: submission.NewService(store, payments, dispatcher, cfg.Locales, log),
		Store:       store,
		Jobs:        dispatcher,
		Sweeper:     sweeper,
		Auth:        middleware.NewAuthenticator(cfg.Auth.JWTSecret, log),
		Whitelist:   cfg.Domains.Whitelist,
		Logger:      log,
	})

	deps := appDeps{
		handler: handler,
		sweeper: sweeper,
		workers: dispatcher.Run,
	}
	if memory != nil {
		deps.drain = func(ctx context.Context) error {
			for memory.Len() > 0 {
				env, err := memory.Pop(ctx)
				if err != nil {
					return err
				}
				dispatcher.Process(ctx, env)
			}
			return nil
		}
	}
	return deps, cleanup, nil
}

// runServer 启动 HTTP 服务与后台任务，上下文取消时优雅关闭。
func runServer(ctx context.Context, srv httpServer, timeout time.Duration, background ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	for _, run := range background {
		if run == nil {
			continue
		}
		g.Go(func() error {
			if err := run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// runOnceManual 执行一次补翻译扫描，并在进程内队列时同步处理投递的任务。
func runOnceManual(ctx context.Context, cfg config.AppConfig, build depsBuilder) (scheduler.Result, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return scheduler.Result{}, err
	}
	defer cleanup()

	if deps.sweeper == nil {
		return scheduler.Result{}, fmt.Errorf("sweeper not configured")
	}
	res, err := deps.sweeper.RunOnce(ctx)
	if err != nil {
		return res, err
	}
	if deps.drain != nil {
		if err := deps.drain(ctx); err != nil {
			return res, fmt.Errorf("process queued jobs: %w", err)
		}
	}
	return res, nil
}

func shutdownTimeout(value string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}
