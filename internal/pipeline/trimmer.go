package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/metrics"
)

// Trimmer 周期性清理超过 MaxDays 的缓存条目。
type Trimmer struct {
	cache    *cache.Cache
	interval time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

func NewTrimmer(c *cache.Cache, interval time.Duration, logger *logrus.Logger, m *metrics.Metrics) *Trimmer {
	return &Trimmer{
		cache:    c,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// RunOnce 执行一次清理并返回删除数量。
func (t *Trimmer) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	removed, err := t.cache.Trim(ctx)
	t.metrics.RecordTrimRemoved(removed)

	fields := logrus.Fields{
		"action":     "cache_trim",
		"backend":    t.cache.BackendKey(),
		"removed":    removed,
		"max_days":   t.cache.MaxDays(),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		if op, ok := cache.FailureContext(err)["op"].(string); ok {
			t.metrics.RecordStoreFailure(op)
		}
		t.logger.WithError(err).WithFields(fields).Warn("cache_trim_failed")
		return removed, err
	}
	t.logger.WithFields(fields).Info("cache_trim_complete")
	return removed, nil
}

// Run 按 interval 循环清理，直到 ctx 被取消。interval <= 0 时立即返回。
func (t *Trimmer) Run(ctx context.Context) {
	if t.interval <= 0 {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = t.RunOnce(ctx)
		}
	}
}
