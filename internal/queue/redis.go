package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript 将到期的延迟任务移入就绪列表。
const promoteScript = `
local items = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, item in ipairs(items) do
  if redis.call("ZREM", KEYS[1], item) == 1 then
    redis.call("LPUSH", KEYS[2], item)
  end
end
return #items
`

// RedisConfig Redis 队列配置。
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// RedisBackend 基于 Redis 列表与有序集合的多进程队列。
type RedisBackend struct {
	client      redis.UniversalClient
	script      *redis.Script
	readyKey    string
	delayedKey  string
	pollTimeout time.Duration
	batch       int
	now         func() time.Time
	ownsClient  bool
}

// NewRedisBackend 连接 Redis 并校验可用性。
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	b := NewRedisBackendWithClient(client, cfg.Prefix)
	b.ownsClient = true
	return b, nil
}

// NewRedisBackendWithClient 复用已有客户端。
func NewRedisBackendWithClient(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "listing-desk:jobs"
	}
	return &RedisBackend{
		client:      client,
		script:      redis.NewScript(promoteScript),
		readyKey:    prefix + ":ready",
		delayedKey:  prefix + ":delayed",
		pollTimeout: time.Second,
		batch:       100,
		now:         time.Now,
	}
}

// Push 写入任务，AvailableAt 在未来时进入延迟集合。
func (r *RedisBackend) Push(ctx context.Context, env Envelope) error {
	raw, err := encode(env)
	if err != nil {
		return err
	}
	if env.AvailableAt.After(r.now()) {
		if err := r.client.ZAdd(ctx, r.delayedKey, redis.Z{
			Score:  float64(env.AvailableAt.UnixMilli()),
			Member: raw,
		}).Err(); err != nil {
			return fmt.Errorf("schedule job %s: %w", env.ID, err)
		}
		return nil
	}
	if err := r.client.LPush(ctx, r.readyKey, raw).Err(); err != nil {
		return fmt.Errorf("push job %s: %w", env.ID, err)
	}
	return nil
}

// Pop 先迁移到期的延迟任务，再阻塞读取就绪列表。
func (r *RedisBackend) Pop(ctx context.Context) (Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}
		if err := r.promote(ctx); err != nil {
			return Envelope{}, err
		}
		res, err := r.client.BRPop(ctx, r.pollTimeout, r.readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			return Envelope{}, fmt.Errorf("pop job: %w", err)
		}
		if len(res) != 2 {
			continue
		}
		return decode(res[1])
	}
}

func (r *RedisBackend) promote(ctx context.Context) error {
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	if err := r.script.Run(ctx, r.client, []string{r.delayedKey, r.readyKey}, now, r.batch).Err(); err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("promote delayed jobs: %w", err)
	}
	return nil
}

// Close 关闭自行创建的客户端。
func (r *RedisBackend) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}
