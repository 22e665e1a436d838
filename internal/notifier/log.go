package notifier

import (
	"context"
	"log/slog"
)

// LogTrigger 只记录站点地图重建请求，用于未配置 GitHub 的环境。
type LogTrigger struct {
	logger *slog.Logger
}

// NewLogTrigger 创建日志触发器，未提供 logger 时使用默认 logger。
func NewLogTrigger(logger *slog.Logger) *LogTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTrigger{logger: logger}
}

// Trigger 打印一条重建请求。
func (n LogTrigger) Trigger(ctx context.Context, reason string) error {
	n.logger.InfoContext(ctx, "sitemap rebuild requested", "reason", reason, "dispatched", false)
	return nil
}
