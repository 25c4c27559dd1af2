package task

import (
	"context"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// ExpiredCampaigns 过期活动的查询与失败标记，logic.CampaignLogic 满足该接口
type ExpiredCampaigns interface {
	Expired(ctx context.Context) ([]*escrow.Campaign, error)
	MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error)
}

// SweepResult 一次扫描的结果
type SweepResult struct {
	Expired []int64
	Failed  []int64
	Errors  map[int64]error
}

// FailedSweepJob 过期活动扫描任务
//
// 过期不等于失败：只有开启 auto_mark_failed 时才以平台身份标记失败，否则只报告。
type FailedSweepJob struct {
	campaigns      ExpiredCampaigns
	platform       common.Address
	autoMarkFailed bool
	interval       time.Duration
	timeout        time.Duration
}

// NewFailedSweepJob 创建过期活动扫描任务，interval 单位为秒
func NewFailedSweepJob(campaigns ExpiredCampaigns, platform common.Address, autoMarkFailed bool, interval int) *FailedSweepJob {
	return &FailedSweepJob{
		campaigns:      campaigns,
		platform:       platform,
		autoMarkFailed: autoMarkFailed,
		interval:       time.Duration(interval) * time.Second,
		timeout:        5 * time.Minute,
	}
}

// GetName 获取任务名称
func (j *FailedSweepJob) GetName() string {
	return "expired_campaign_sweeper"
}

// GetSchedule 获取调度配置
func (j *FailedSweepJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *FailedSweepJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.Run(ctx); err != nil {
		logger.Error("Expired campaign sweep failed: %v", err)
	}
}

// Run 扫描一次，单个活动失败不影响其它活动
func (j *FailedSweepJob) Run(ctx context.Context) (*SweepResult, error) {
	expired, err := j.campaigns.Expired(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Errors: make(map[int64]error)}
	for _, c := range expired {
		result.Expired = append(result.Expired, c.ID)
		log := logger.With(zap.Int64("campaign_id", c.ID))

		if !j.autoMarkFailed {
			log.Info("Campaign expired at %s with %s/%s raised, waiting for mark-failed", c.Deadline.Format(time.RFC3339), c.Raised, c.Target)
			continue
		}

		if _, err := j.campaigns.MarkFailed(ctx, c.ID, j.platform); err != nil {
			log.Warn("Failed to mark expired campaign failed: %v", err)
			result.Errors[c.ID] = err
			continue
		}
		result.Failed = append(result.Failed, c.ID)
	}

	if len(expired) > 0 {
		logger.Info("Expired campaign sweep: %d expired, %d marked failed, %d errors",
			len(result.Expired), len(result.Failed), len(result.Errors))
	}
	return result, nil
}
