package logic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/metadata"
	"github.com/blues/cfe/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
)

// CampaignLogic 活动业务逻辑：编排元数据、账本与注册表
type CampaignLogic struct {
	ledger   escrow.Ledger
	queries  *QueryLogic
	store    metadata.Store
	registry registry.Registry
	pool     *ants.Pool // 元数据并发拉取
	now      func() time.Time
}

// CampaignView 活动视图
type CampaignView struct {
	Campaign    *escrow.Campaign
	Status      escrow.Status
	Progress    float64 // 百分比
	Metadata    *metadata.Campaign
	MetadataErr string
}

// Eligibility 某账户在某活动上可执行的操作
type Eligibility struct {
	CampaignId     int64
	Account        common.Address
	Status         escrow.Status
	IsCreator      bool
	CanDonate      bool
	CanMarkFailed  bool
	CanWithdraw    bool
	CanClaimRefund bool
	Donated        *big.Int
	Refunded       bool
}

// Stats 平台统计
type Stats struct {
	TotalCampaigns int64
	ByStatus       map[escrow.Status]int64
	TotalRaised    *big.Int
	TotalFees      *big.Int
	TotalDonors    int64
}

// Discovered 注册表中的一条元数据及其解析结果
type Discovered struct {
	Cid        string
	CampaignId int64
	Source     string
	Metadata   *metadata.Campaign
	Err        string
}

// CreateCampaignRequest 创建活动请求
type CreateCampaignRequest struct {
	escrow.CreateCampaignParams
	Image string
}

// NewCampaignLogic 创建活动业务逻辑，workers 为元数据并发拉取数
func NewCampaignLogic(ledger escrow.Ledger, queries *QueryLogic, store metadata.Store, reg registry.Registry, workers int) (*CampaignLogic, error) {
	if workers <= 0 {
		workers = 8
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata pool: %w", err)
	}
	return &CampaignLogic{
		ledger:   ledger,
		queries:  queries,
		store:    store,
		registry: reg,
		pool:     pool,
		now:      time.Now,
	}, nil
}

// SetClock 替换时钟，应与账本使用同一时钟
func (c *CampaignLogic) SetClock(now func() time.Time) {
	c.now = now
}

// Close 释放协程池
func (c *CampaignLogic) Close() {
	c.pool.Release()
}

// CreateCampaign 上传元数据 -> 账本创建 -> 追加注册表
//
// 元数据或注册表不可用时活动照常创建，只是缺少 ipfs cid 或无法被发现。
func (c *CampaignLogic) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*CampaignView, *escrow.Receipt, error) {
	params := req.CreateCampaignParams
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	if params.IpfsCid == "" {
		cid, err := metadata.PutCampaign(ctx, c.store, &metadata.Campaign{
			Title:       params.Title,
			Description: params.Description,
			Category:    params.Category,
			Image:       req.Image,
			Creator:     params.Creator.Hex(),
			Target:      params.Target.String(),
			Duration:    params.DurationInDays,
			CreatedAt:   c.now().UTC(),
		})
		if err != nil {
			logger.Warn("metadata upload failed, creating campaign without cid: %v", err)
		}
		params.IpfsCid = cid
	}

	receipt, err := c.ledger.CreateCampaign(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	if params.IpfsCid != "" {
		if err := c.registry.Append(ctx, params.IpfsCid, receipt.CampaignID, registry.SourceAPI); err != nil {
			logger.Warn("registry append failed for campaign %d: %v", receipt.CampaignID, err)
		}
	}

	view, err := c.GetCampaign(ctx, receipt.CampaignID)
	if err != nil {
		return nil, receipt, err
	}
	return view, receipt, nil
}

// GetCampaign 活动详情，元数据尽力而为
func (c *CampaignLogic) GetCampaign(ctx context.Context, campaignID int64) (*CampaignView, error) {
	campaign, err := c.ledger.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	view := c.view(campaign, c.now())
	c.attachMetadata(ctx, view)
	return view, nil
}

// ListCampaigns 列出活动，status 为空时不过滤
func (c *CampaignLogic) ListCampaigns(ctx context.Context, status escrow.Status, withMetadata bool) ([]*CampaignView, error) {
	campaigns, err := c.ledger.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	views := make([]*CampaignView, 0, len(campaigns))
	for _, campaign := range campaigns {
		v := c.view(campaign, now)
		if status != "" && v.Status != status {
			continue
		}
		views = append(views, v)
	}

	if withMetadata {
		var wg sync.WaitGroup
		for _, v := range views {
			v := v
			wg.Add(1)
			if err := c.pool.Submit(func() {
				defer wg.Done()
				c.attachMetadata(ctx, v)
			}); err != nil {
				wg.Done()
				v.MetadataErr = err.Error()
			}
		}
		wg.Wait()
	}
	return views, nil
}

// Expired 过期未达标且尚未标记失败的活动
func (c *CampaignLogic) Expired(ctx context.Context) ([]*escrow.Campaign, error) {
	views, err := c.ListCampaigns(ctx, escrow.StatusExpired, false)
	if err != nil {
		return nil, err
	}
	out := make([]*escrow.Campaign, 0, len(views))
	for _, v := range views {
		out = append(out, v.Campaign)
	}
	return out, nil
}

// Eligibility 计算账户在活动上的可用操作
func (c *CampaignLogic) Eligibility(ctx context.Context, campaignID int64, account common.Address) (*Eligibility, error) {
	campaign, err := c.ledger.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	snap := campaign.Snapshot()
	e := &Eligibility{
		CampaignId:    campaignID,
		Account:       account,
		Status:        escrow.DeriveStatus(snap, now),
		IsCreator:     account == campaign.Creator,
		CanDonate:     escrow.CanDonate(snap, now),
		CanMarkFailed: escrow.CanMarkFailed(snap, now),
		Donated:       new(big.Int),
	}
	e.CanWithdraw = e.IsCreator && escrow.CanWithdraw(snap, now)

	position, err := c.ledger.GetDonation(ctx, campaignID, account)
	switch {
	case errors.Is(err, escrow.ErrNoDonationFound):
	case err != nil:
		return nil, err
	default:
		e.Donated = position.Total
		e.Refunded = position.Refunded
		e.CanClaimRefund = escrow.IsRefundEligible(snap, now) && !position.Refunded && position.Total.Sign() > 0
	}
	return e, nil
}

// Donate 捐赠
func (c *CampaignLogic) Donate(ctx context.Context, campaignID int64, donor common.Address, amount *big.Int) (*escrow.Receipt, error) {
	return c.ledger.Donate(ctx, campaignID, donor, amount)
}

// MarkFailed 标记失败
func (c *CampaignLogic) MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	return c.ledger.MarkFailed(ctx, campaignID, caller)
}

// Withdraw 创建者提取
func (c *CampaignLogic) Withdraw(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	return c.ledger.Withdraw(ctx, campaignID, caller)
}

// ClaimRefund 捐赠者退款
func (c *CampaignLogic) ClaimRefund(ctx context.Context, campaignID int64, donor common.Address) (*escrow.Receipt, error) {
	return c.ledger.ClaimRefund(ctx, campaignID, donor)
}

// PreviewFee 展示用拆分，不涉及任何状态
func (c *CampaignLogic) PreviewFee(amount *big.Int) (escrow.Split, error) {
	if amount == nil || amount.Sign() < 0 {
		return escrow.Split{}, escrow.ErrInvalidAmount
	}
	return escrow.SplitFee(amount), nil
}

// GetStats 按派生状态统计活动
func (c *CampaignLogic) GetStats(ctx context.Context) (*Stats, error) {
	campaigns, err := c.ledger.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	stats := &Stats{
		TotalCampaigns: int64(len(campaigns)),
		ByStatus: map[escrow.Status]int64{
			escrow.StatusActive:    0,
			escrow.StatusCompleted: 0,
			escrow.StatusExpired:   0,
			escrow.StatusFailed:    0,
			escrow.StatusWithdrawn: 0,
		},
		TotalRaised: new(big.Int),
	}
	for _, campaign := range campaigns {
		stats.ByStatus[campaign.Status(now)]++
		stats.TotalRaised.Add(stats.TotalRaised, campaign.Raised)
	}

	if stats.TotalFees, err = c.queries.TotalPlatformFees(ctx); err != nil {
		return nil, err
	}
	if stats.TotalDonors, err = c.queries.CountDonors(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// Discover 并发解析注册表中的全部 cid，解析失败的条目带错误返回
func (c *CampaignLogic) Discover(ctx context.Context) ([]*Discovered, error) {
	entries, err := c.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Discovered, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		d := &Discovered{Cid: entry.Cid, CampaignId: entry.CampaignId, Source: entry.Source}
		out[i] = d
		wg.Add(1)
		if err := c.pool.Submit(func() {
			defer wg.Done()
			meta, err := metadata.GetCampaign(ctx, c.store, d.Cid)
			if err != nil {
				d.Err = err.Error()
				return
			}
			d.Metadata = meta
		}); err != nil {
			wg.Done()
			d.Err = err.Error()
		}
	}
	wg.Wait()
	return out, nil
}

func (c *CampaignLogic) view(campaign *escrow.Campaign, now time.Time) *CampaignView {
	return &CampaignView{
		Campaign: campaign,
		Status:   campaign.Status(now),
		Progress: progress(campaign.Raised, campaign.Target),
	}
}

func (c *CampaignLogic) attachMetadata(ctx context.Context, v *CampaignView) {
	if v.Campaign.IpfsCid == "" {
		return
	}
	meta, err := metadata.GetCampaign(ctx, c.store, v.Campaign.IpfsCid)
	if err != nil {
		logger.Debug("metadata for campaign %d unavailable: %v", v.Campaign.ID, err)
		v.MetadataErr = err.Error()
		return
	}
	v.Metadata = meta
}

// progress raised/target 百分比，保留两位小数
func progress(raised, target *big.Int) float64 {
	if target == nil || target.Sign() == 0 || raised == nil {
		return 0
	}
	bp := new(big.Int).Mul(raised, big.NewInt(10000))
	bp.Quo(bp, target)
	f, _ := new(big.Float).SetInt(bp).Float64()
	return f / 100
}
