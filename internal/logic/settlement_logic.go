package logic

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementLogic 基于数据库的托管账本
//
// 每个写操作在活动锁内执行一个数据库事务，Postgres 上额外 SELECT ... FOR UPDATE，
// 因此同一活动上的写操作有唯一的全局顺序。
type SettlementLogic struct {
	db       *gorm.DB
	platform common.Address
	locks    *campaignLocks
	now      func() time.Time
}

var _ escrow.Ledger = (*SettlementLogic)(nil)

// SettlementOption 账本选项
type SettlementOption func(*SettlementLogic)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) SettlementOption {
	return func(s *SettlementLogic) {
		s.now = now
	}
}

// NewSettlementLogic 创建数据库账本
func NewSettlementLogic(db *gorm.DB, platform common.Address, opts ...SettlementOption) *SettlementLogic {
	s := &SettlementLogic{
		db:       db,
		platform: platform,
		locks:    newCampaignLocks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlatformAddress 手续费收款地址
func (s *SettlementLogic) PlatformAddress() common.Address {
	return s.platform
}

// CreateCampaign 创建活动
func (s *SettlementLogic) CreateCampaign(ctx context.Context, params escrow.CreateCampaignParams) (*escrow.Receipt, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	txHash := s.txHash("create", 0, params.Creator, params.Target)
	campaign := &model.CampaignModel{
		CreatedAt:   now,
		Creator:     params.Creator.Hex(),
		Title:       params.Title,
		Description: params.Description,
		Category:    params.Category,
		IpfsCid:     params.IpfsCid,
		Target:      model.NewBigInt(params.Target),
		Raised:      model.NewBigInt(nil),
		Deadline:    params.Deadline(now),
		TxHash:      txHash.Hex(),
	}
	if err := s.db.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	logger.With(zap.Int64("campaign_id", campaign.Id)).Info("campaign created by %s, target %s", campaign.Creator, campaign.Target)
	return &escrow.Receipt{
		TxHash:          txHash,
		CampaignID:      campaign.Id,
		Gross:           new(big.Int),
		RecipientAmount: new(big.Int),
		PlatformFee:     new(big.Int),
	}, nil
}

// Donate 捐赠，raised 与 donor_count 在同一事务内更新
func (s *SettlementLogic) Donate(ctx context.Context, campaignID int64, donor common.Address, amount *big.Int) (*escrow.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrow.ErrInvalidAmount
	}
	if donor == (common.Address{}) {
		return nil, escrow.ErrInvalidAddress
	}

	unlock := s.locks.lock(campaignID)
	defer unlock()

	txHash := s.txHash("donate", campaignID, donor, amount)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}
		if err := escrow.CheckDonate(ToCampaign(campaign).Snapshot(), amount, s.now()); err != nil {
			return err
		}

		if err := tx.Create(&model.DonationModel{
			CampaignId: campaignID,
			Donor:      donor.Hex(),
			Amount:     model.NewBigInt(amount),
			TxHash:     txHash.Hex(),
		}).Error; err != nil {
			return fmt.Errorf("failed to record donation: %w", err)
		}

		raised := new(big.Int).Add(campaign.Raised.Int(), amount)
		return tx.Model(&model.CampaignModel{}).
			Where("id = ?", campaignID).
			Updates(map[string]interface{}{
				"raised":      model.NewBigInt(raised),
				"donor_count": gorm.Expr("donor_count + 1"),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	logger.With(zap.Int64("campaign_id", campaignID)).Info("donation of %s wei from %s", amount, donor.Hex())
	return &escrow.Receipt{
		TxHash:          txHash,
		CampaignID:      campaignID,
		Gross:           new(big.Int).Set(amount),
		RecipientAmount: new(big.Int),
		PlatformFee:     new(big.Int),
	}, nil
}

// MarkFailed 将过期未达标的活动标记为失败，任何人均可调用
func (s *SettlementLogic) MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	var raised *big.Int
	txHash := s.txHash("mark-failed", campaignID, caller, nil)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}
		if err := escrow.CheckMarkFailed(ToCampaign(campaign).Snapshot(), s.now()); err != nil {
			return err
		}

		result := tx.Model(&model.CampaignModel{}).
			Where("id = ? AND failed = ? AND withdrawn = ?", campaignID, false, false).
			Update("failed", true)
		if result.Error != nil {
			return fmt.Errorf("failed to mark campaign failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return escrow.ErrAlreadySettled
		}
		raised = campaign.Raised.Int()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.With(zap.Int64("campaign_id", campaignID)).Info("campaign marked failed by %s, %s wei refundable", caller.Hex(), raised)
	return &escrow.Receipt{
		TxHash:          txHash,
		CampaignID:      campaignID,
		Gross:           raised,
		RecipientAmount: new(big.Int),
		PlatformFee:     new(big.Int),
	}, nil
}

// Withdraw 创建者提取：先翻转 withdrawn 标志，再记录 95/5 拆分
func (s *SettlementLogic) Withdraw(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	var split escrow.Split
	txHash := s.txHash("withdraw", campaignID, caller, nil)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}
		c := ToCampaign(campaign)
		if err := escrow.CheckWithdraw(c.Snapshot(), c.Creator, caller, s.now()); err != nil {
			return err
		}

		result := tx.Model(&model.CampaignModel{}).
			Where("id = ? AND withdrawn = ? AND failed = ?", campaignID, false, false).
			Update("withdrawn", true)
		if result.Error != nil {
			return fmt.Errorf("failed to flip withdrawn flag: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return escrow.ErrAlreadyWithdrawn
		}

		split = escrow.SplitFee(c.Raised)
		return s.recordSettlement(tx, campaignID, model.SettlementTypeWithdrawal, caller, split, txHash, escrow.ErrAlreadyWithdrawn)
	})
	if err != nil {
		return nil, err
	}

	logger.With(zap.Int64("campaign_id", campaignID)).Info("withdrawal: creator %s receives %s wei, platform fee %s wei", caller.Hex(), split.Share, split.Fee)
	return receiptFor(txHash, campaignID, split), nil
}

// ClaimRefund 捐赠者退款，每个捐赠者每个活动至多一次
func (s *SettlementLogic) ClaimRefund(ctx context.Context, campaignID int64, donor common.Address) (*escrow.Receipt, error) {
	unlock := s.locks.lock(campaignID)
	defer unlock()

	var split escrow.Split
	txHash := s.txHash("refund", campaignID, donor, nil)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		campaign, err := loadCampaign(tx, campaignID)
		if err != nil {
			return err
		}
		if err := escrow.CheckRefund(ToCampaign(campaign).Snapshot(), s.now()); err != nil {
			return err
		}

		position, err := donorPosition(tx, campaignID, donor)
		if err != nil {
			return err
		}
		if position.Refunded || position.Total.Sign() == 0 {
			return escrow.ErrNoDonationFound
		}

		split = escrow.SplitFee(position.Total)
		return s.recordSettlement(tx, campaignID, model.SettlementTypeRefund, donor, split, txHash, escrow.ErrNoDonationFound)
	})
	if err != nil {
		return nil, err
	}

	logger.With(zap.Int64("campaign_id", campaignID)).Info("refund: donor %s receives %s wei, platform fee %s wei", donor.Hex(), split.Share, split.Fee)
	return receiptFor(txHash, campaignID, split), nil
}

// GetCampaign 查询活动
func (s *SettlementLogic) GetCampaign(ctx context.Context, campaignID int64) (*escrow.Campaign, error) {
	campaign, err := loadCampaign(s.db.WithContext(ctx), campaignID)
	if err != nil {
		return nil, err
	}
	return ToCampaign(campaign), nil
}

// ListCampaigns 按 ID 升序列出全部活动
func (s *SettlementLogic) ListCampaigns(ctx context.Context) ([]*escrow.Campaign, error) {
	var campaigns []model.CampaignModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	out := make([]*escrow.Campaign, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, ToCampaign(&campaigns[i]))
	}
	return out, nil
}

// GetDonation 查询捐赠者在活动下的累计捐赠
func (s *SettlementLogic) GetDonation(ctx context.Context, campaignID int64, donor common.Address) (*escrow.DonorPosition, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadCampaign(db, campaignID); err != nil {
		return nil, err
	}
	position, err := donorPosition(db, campaignID, donor)
	if err != nil {
		return nil, err
	}
	if position.Count == 0 {
		return nil, escrow.ErrNoDonationFound
	}
	return position, nil
}

func (s *SettlementLogic) recordSettlement(tx *gorm.DB, campaignID int64, typ model.SettlementType, recipient common.Address, split escrow.Split, txHash common.Hash, dup error) error {
	err := tx.Create(&model.SettlementRecordModel{
		CampaignId:      campaignID,
		SettlementType:  typ,
		Recipient:       recipient.Hex(),
		TotalAmount:     model.NewBigInt(split.Gross),
		RecipientAmount: model.NewBigInt(split.Share),
		PlatformFee:     model.NewBigInt(split.Fee),
		PlatformAddress: s.platform.Hex(),
		TxHash:          txHash.Hex(),
		SettlementTime:  s.now(),
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return dup
	}
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", typ, err)
	}
	return nil
}

// txHash 数据库账本的交易引用，随机 nonce 保证同参数的两次操作哈希不同
func (s *SettlementLogic) txHash(op string, campaignID int64, account common.Address, amount *big.Int) common.Hash {
	nonce := uuid.New()
	var amountBytes []byte
	if amount != nil {
		amountBytes = amount.Bytes()
	}
	return crypto.Keccak256Hash(
		[]byte(op),
		new(big.Int).SetInt64(campaignID).Bytes(),
		account.Bytes(),
		amountBytes,
		nonce[:],
	)
}

// loadCampaign 读取活动，Postgres 上加行锁
func loadCampaign(tx *gorm.DB, campaignID int64) (*model.CampaignModel, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var campaign model.CampaignModel
	if err := q.First(&campaign, campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, escrow.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}
	return &campaign, nil
}

// donorPosition 汇总捐赠者在活动下的捐赠与退款状态
func donorPosition(tx *gorm.DB, campaignID int64, donor common.Address) (*escrow.DonorPosition, error) {
	var donations []model.DonationModel
	if err := tx.Where("campaign_id = ? AND donor = ?", campaignID, donor.Hex()).
		Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("failed to load donations: %w", err)
	}

	total := new(big.Int)
	for _, d := range donations {
		total.Add(total, d.Amount.Int())
	}

	var refunds int64
	if err := tx.Model(&model.SettlementRecordModel{}).
		Where("campaign_id = ? AND settlement_type = ? AND recipient = ?", campaignID, model.SettlementTypeRefund, donor.Hex()).
		Count(&refunds).Error; err != nil {
		return nil, fmt.Errorf("failed to count refunds: %w", err)
	}

	return &escrow.DonorPosition{
		CampaignID: campaignID,
		Donor:      donor,
		Total:      total,
		Count:      int64(len(donations)),
		Refunded:   refunds > 0,
	}, nil
}

func receiptFor(txHash common.Hash, campaignID int64, split escrow.Split) *escrow.Receipt {
	return &escrow.Receipt{
		TxHash:          txHash,
		CampaignID:      campaignID,
		Gross:           split.Gross,
		RecipientAmount: split.Share,
		PlatformFee:     split.Fee,
	}
}
