package task

import (
	"context"
	"time"

	"github.com/blues/cfe/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// Warmer 可预热的读缓存，cache.Ledger 满足该接口
type Warmer interface {
	Warm(ctx context.Context) (int, error)
}

// CacheWarmJob 定期重新加载活动列表，使列表页命中缓存
type CacheWarmJob struct {
	cache    Warmer
	interval time.Duration
}

// NewCacheWarmJob 创建缓存预热任务
func NewCacheWarmJob(cache Warmer, interval time.Duration) *CacheWarmJob {
	return &CacheWarmJob{cache: cache, interval: interval}
}

func (j *CacheWarmJob) GetName() string {
	return "campaign_cache_warmer"
}

func (j *CacheWarmJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *CacheWarmJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.cache.Warm(ctx)
	if err != nil {
		logger.Warn("Failed to warm campaign cache: %v", err)
		return
	}
	logger.Debug("Warmed campaign cache with %d campaigns", n)
}
