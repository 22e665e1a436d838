package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"listing-desk/internal/links"
	"listing-desk/internal/logger"
	"listing-desk/internal/media"
	"listing-desk/internal/model"
	"listing-desk/internal/notifier"
	"listing-desk/internal/payment"
	"listing-desk/internal/processor"
	"listing-desk/internal/queue"
	"listing-desk/internal/scheduler"
	"listing-desk/internal/storage"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 队列后端。
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// AppConfig 应用配置。
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Log      logger.Config         `yaml:"log"`
	Database storage.Config        `yaml:"database"`
	Auth     AuthConfig            `yaml:"auth"`
	Domains  DomainConfig          `yaml:"domains"`
	Locales  []string              `yaml:"locales"`
	Storage  media.MinioConfig     `yaml:"storage"`
	AI       processor.Config      `yaml:"ai"`
	Payment  payment.Config        `yaml:"payment"`
	Links    links.Config          `yaml:"links"`
	Sitemap  notifier.GitHubConfig `yaml:"sitemap"`
	Queue    QueueConfig           `yaml:"queue"`
	Sweep    SweepConfig           `yaml:"sweep"`
}

type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	Mode            string `yaml:"mode"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DomainConfig 请求来源白名单与需要勾选条款的站点域名。
type DomainConfig struct {
	Whitelist []string `yaml:"whitelist"`
	Terms     []string `yaml:"terms"`
}

type QueueConfig struct {
	Driver     string            `yaml:"driver"`
	Redis      queue.RedisConfig `yaml:"redis"`
	Dispatcher queue.Config      `yaml:"dispatcher"`
}

type SweepConfig struct {
	Enabled          bool `yaml:"enabled"`
	scheduler.Config `yaml:",inline"`
}

// Load 读取 .env 与 YAML 配置。path 为空时使用 CONFIG_FILE，默认 config.yaml；文件不存在时只使用默认值。
func Load(path string) (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}

	var cfg AppConfig
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = storage.DriverSQLite
	}
	if c.Database.Driver == storage.DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/listings.db"
	}
	c.Locales = model.EnsureLocales(c.Locales)
	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueMemory
	}
	if c.Queue.Dispatcher.Workers <= 0 {
		c.Queue.Dispatcher.Workers = 2
	}
	if c.Queue.Dispatcher.MaxAttempts <= 0 {
		c.Queue.Dispatcher.MaxAttempts = 3
	}
	if c.Queue.Dispatcher.Backoff == "" {
		c.Queue.Dispatcher.Backoff = "60s"
	}
	if c.Sweep.Interval == "" {
		c.Sweep.Interval = "1h"
	}
}

// Validate 检查互相依赖的配置项。
func (c AppConfig) Validate() error {
	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("queue.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
	if c.Database.Driver == storage.DriverPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	return nil
}
