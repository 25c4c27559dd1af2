package logic

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blues/cfe/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// QueryLogic 捐赠与结算记录查询，不加活动锁，可能读到稍旧的快照
type QueryLogic struct {
	db *gorm.DB
}

// NewQueryLogic 创建查询逻辑
func NewQueryLogic(db *gorm.DB) *QueryLogic {
	return &QueryLogic{db: db}
}

// Balance 托管余额
type Balance struct {
	CampaignId   int64
	Donated      *big.Int // 累计捐赠
	Settled      *big.Int // 已结算离开托管的总额
	Escrowed     *big.Int // 仍在托管中的金额
	PlatformFees *big.Int // 累计平台手续费
}

// GetCampaignDonations 分页获取活动捐赠记录
func (q *QueryLogic) GetCampaignDonations(ctx context.Context, campaignId int64, page, pageSize int) ([]model.DonationModel, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var donations []model.DonationModel
	var total int64

	// 获取总数
	if err := q.db.WithContext(ctx).Model(&model.DonationModel{}).
		Where("campaign_id = ?", campaignId).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count donations: %w", err)
	}

	// 获取数据
	offset := (page - 1) * pageSize
	if err := q.db.WithContext(ctx).Where("campaign_id = ?", campaignId).
		Offset(offset).
		Limit(pageSize).
		Order("id DESC").
		Find(&donations).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load donations: %w", err)
	}

	return donations, total, nil
}

// GetDonorDonations 获取某地址的全部捐赠
func (q *QueryLogic) GetDonorDonations(ctx context.Context, donor common.Address) ([]model.DonationModel, error) {
	var donations []model.DonationModel
	if err := q.db.WithContext(ctx).
		Where("donor = ?", donor.Hex()).
		Order("id DESC").
		Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("failed to load donor donations: %w", err)
	}
	return donations, nil
}

// GetSettlements 获取活动的提取与退款记录
func (q *QueryLogic) GetSettlements(ctx context.Context, campaignId int64) ([]model.SettlementRecordModel, error) {
	var records []model.SettlementRecordModel
	if err := q.db.WithContext(ctx).
		Where("campaign_id = ?", campaignId).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load settlements: %w", err)
	}
	return records, nil
}

// GetBalance 计算托管余额 = 累计捐赠 - 已结算总额
//
// 金额以字符串存储，求和在内存中完成。
func (q *QueryLogic) GetBalance(ctx context.Context, campaignId int64) (*Balance, error) {
	var donations []model.DonationModel
	if err := q.db.WithContext(ctx).Select("amount").
		Where("campaign_id = ?", campaignId).
		Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("failed to load donations: %w", err)
	}

	settlements, err := q.GetSettlements(ctx, campaignId)
	if err != nil {
		return nil, err
	}

	b := &Balance{
		CampaignId:   campaignId,
		Donated:      new(big.Int),
		Settled:      new(big.Int),
		PlatformFees: new(big.Int),
	}
	for _, d := range donations {
		b.Donated.Add(b.Donated, d.Amount.Int())
	}
	for _, s := range settlements {
		b.Settled.Add(b.Settled, s.TotalAmount.Int())
		b.PlatformFees.Add(b.PlatformFees, s.PlatformFee.Int())
	}
	b.Escrowed = new(big.Int).Sub(b.Donated, b.Settled)
	return b, nil
}

// TotalPlatformFees 平台累计手续费
func (q *QueryLogic) TotalPlatformFees(ctx context.Context) (*big.Int, error) {
	var records []model.SettlementRecordModel
	if err := q.db.WithContext(ctx).Select("platform_fee").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load settlements: %w", err)
	}
	total := new(big.Int)
	for _, r := range records {
		total.Add(total, r.PlatformFee.Int())
	}
	return total, nil
}

// CountDonors 去重捐赠者数量
func (q *QueryLogic) CountDonors(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.WithContext(ctx).Model(&model.DonationModel{}).
		Distinct("donor").
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count donors: %w", err)
	}
	return n, nil
}

// NormalizePage 页码从 1 开始，每页默认 20 条、最多 100 条
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
