package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"listing-desk/internal/apperr"
	"listing-desk/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 支持的数据库驱动。
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteParams 让写事务以 BEGIN IMMEDIATE 开始，并在锁冲突时等待而不是立即失败。
const sqliteParams = "_busy_timeout=5000&_txlock=immediate&_foreign_keys=1"

// Config 数据库配置。
type Config struct {
	Driver       string `yaml:"driver" json:"driver"`
	Path         string `yaml:"path" json:"path"`
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

// Store 封装草稿、正式房源与任务跟踪的数据库访问。
type Store struct {
	db     *gorm.DB
	driver string
}

// NewStore 打开数据库并自动迁移数据表。
func NewStore(cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel))}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "data/listings.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN(path)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.AutoMigrate(
		&model.ListingApplication{},
		&model.Property{},
		&model.PersonalData{},
		&model.PropertyData{},
		&model.JobTracking{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// DB 返回底层 gorm 连接，用于注册回调等场景。
func (s *Store) DB() *gorm.DB { return s.db }

// Driver 返回当前驱动名称。
func (s *Store) Driver() string { return s.driver }

// Transaction 在单个数据库事务中执行 fn，fn 返回错误时整体回滚。
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driver: s.driver})
	})
}

// IsAbortedTransaction 判断是否为 Postgres 的 "current transaction is aborted" 错误。
func IsAbortedTransaction(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "25P02" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "current transaction is aborted")
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func normalizePage(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = def
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
