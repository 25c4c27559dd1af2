package logic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logger"
	"github.com/blues/cfe/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignReader 读取链上活动快照，用于补全 CampaignCreated 事件缺少的字段
type CampaignReader interface {
	GetCampaign(ctx context.Context, campaignID int64) (*escrow.Campaign, error)
}

// EventLogic 链上事件落库，并将事件镜像到活动、捐赠、结算表
//
// 链账本模式下查询接口读取的都是这里写入的镜像数据。
type EventLogic struct {
	db       *gorm.DB
	platform common.Address
	reader   CampaignReader
	now      func() time.Time
}

// NewEventLogic 创建事件业务逻辑，reader 可为空
func NewEventLogic(db *gorm.DB, platform common.Address, reader CampaignReader) *EventLogic {
	return &EventLogic{
		db:       db,
		platform: platform,
		reader:   reader,
		now:      time.Now,
	}
}

// eventData 事件附加字段，序列化到 EventModel.Data
type eventData struct {
	Account     string `json:"account"`
	Amount      string `json:"amount,omitempty"`
	PlatformFee string `json:"platformFee,omitempty"`
	Deadline    int64  `json:"deadline,omitempty"`
	IpfsCid     string `json:"ipfsCid,omitempty"`
}

// ApplyEvent 在一个事务内记录事件并更新镜像，已处理过的事件返回 false
func (e *EventLogic) ApplyEvent(ctx context.Context, contractName string, contractAddr common.Address, ev *escrow.Event) (bool, error) {
	if ev == nil {
		return false, errors.New("nil event")
	}

	data, err := json.Marshal(eventData{
		Account:     ev.Account.Hex(),
		Amount:      bigString(ev.Amount),
		PlatformFee: bigString(ev.PlatformFee),
		Deadline:    unixOrZero(ev.Deadline),
		IpfsCid:     ev.IpfsCid,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode event data: %w", err)
	}

	// 创建事件需要链上快照，放在事务外读取
	var snapshot *escrow.Campaign
	if ev.Name == escrow.EventCampaignCreated && e.reader != nil {
		if snapshot, err = e.reader.GetCampaign(ctx, ev.CampaignID); err != nil {
			logger.Warn("failed to read campaign %d snapshot, mirroring event fields only: %v", ev.CampaignID, err)
			snapshot = nil
		}
	}

	applied := false
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &model.EventModel{
			ContractAddress: contractAddr.Hex(),
			ContractName:    contractName,
			EventName:       string(ev.Name),
			CampaignId:      ev.CampaignID,
			TxHash:          ev.TxHash.Hex(),
			LogIndex:        int64(ev.LogIndex),
			BlockNum:        int64(ev.BlockNumber),
			Data:            string(data),
			Processed:       true,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return fmt.Errorf("failed to record event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		switch ev.Name {
		case escrow.EventCampaignCreated:
			return e.mirrorCreated(tx, ev, snapshot)
		case escrow.EventDonationReceived:
			return e.mirrorDonation(tx, ev)
		case escrow.EventCampaignFailed:
			return setFlag(tx, ev.CampaignID, "failed")
		case escrow.EventFundsWithdrawn:
			if err := setFlag(tx, ev.CampaignID, "withdrawn"); err != nil {
				return err
			}
			return e.mirrorSettlement(tx, ev, model.SettlementTypeWithdrawal)
		case escrow.EventRefundClaimed:
			return e.mirrorSettlement(tx, ev, model.SettlementTypeRefund)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		logger.With(zap.Int64("campaign_id", ev.CampaignID), zap.Uint64("block", ev.BlockNumber)).
			Debug("mirrored %s from tx %s", ev.Name, ev.TxHash.Hex())
	}
	return applied, nil
}

func (e *EventLogic) mirrorCreated(tx *gorm.DB, ev *escrow.Event, snapshot *escrow.Campaign) error {
	campaign := &model.CampaignModel{
		Id:       ev.CampaignID,
		Creator:  ev.Account.Hex(),
		IpfsCid:  ev.IpfsCid,
		Target:   model.NewBigInt(ev.Amount),
		Raised:   model.NewBigInt(nil),
		Deadline: ev.Deadline,
		TxHash:   ev.TxHash.Hex(),
	}
	if snapshot != nil {
		campaign.Title = snapshot.Title
		campaign.Description = snapshot.Description
		campaign.Category = snapshot.Category
		campaign.CreatedAt = snapshot.CreatedAt
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = e.now()
	}

	// 捐赠与结算由后续事件累加，这里只写入创建时的状态
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(campaign).Error; err != nil {
		return fmt.Errorf("failed to mirror campaign %d: %w", ev.CampaignID, err)
	}
	return nil
}

func (e *EventLogic) mirrorDonation(tx *gorm.DB, ev *escrow.Event) error {
	campaign, err := loadCampaign(tx, ev.CampaignID)
	if err != nil {
		return err
	}

	if err := tx.Create(&model.DonationModel{
		CampaignId: ev.CampaignID,
		Donor:      ev.Account.Hex(),
		Amount:     model.NewBigInt(ev.Amount),
		TxHash:     ev.TxHash.Hex(),
		BlockNum:   int64(ev.BlockNumber),
	}).Error; err != nil {
		return fmt.Errorf("failed to mirror donation: %w", err)
	}

	raised := new(big.Int).Add(campaign.Raised.Int(), amountOrZero(ev.Amount))
	return tx.Model(&model.CampaignModel{}).
		Where("id = ?", ev.CampaignID).
		Updates(map[string]interface{}{
			"raised":      model.NewBigInt(raised),
			"donor_count": gorm.Expr("donor_count + 1"),
		}).Error
}

func (e *EventLogic) mirrorSettlement(tx *gorm.DB, ev *escrow.Event, typ model.SettlementType) error {
	if err := tx.Create(&model.SettlementRecordModel{
		CampaignId:      ev.CampaignID,
		SettlementType:  typ,
		Recipient:       ev.Account.Hex(),
		TotalAmount:     model.NewBigInt(ev.Gross()),
		RecipientAmount: model.NewBigInt(ev.Amount),
		PlatformFee:     model.NewBigInt(ev.PlatformFee),
		PlatformAddress: e.platform.Hex(),
		TxHash:          ev.TxHash.Hex(),
		BlockNum:        int64(ev.BlockNumber),
		SettlementTime:  e.now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to mirror %s: %w", typ, err)
	}
	return nil
}

func setFlag(tx *gorm.DB, campaignID int64, column string) error {
	res := tx.Model(&model.CampaignModel{}).Where("id = ?", campaignID).Update(column, true)
	if res.Error != nil {
		return fmt.Errorf("failed to set %s on campaign %d: %w", column, campaignID, res.Error)
	}
	if res.RowsAffected == 0 {
		return escrow.ErrCampaignNotFound
	}
	return nil
}

// GetEvents 获取事件列表
func (e *EventLogic) GetEvents(ctx context.Context, campaignId int64, eventName string, page, pageSize int) ([]model.EventModel, int64, error) {
	var events []model.EventModel
	var total int64

	page, pageSize = NormalizePage(page, pageSize)

	query := e.db.WithContext(ctx).Model(&model.EventModel{})
	if campaignId > 0 {
		query = query.Where("campaign_id = ?", campaignId)
	}
	if eventName != "" {
		query = query.Where("event_name = ?", eventName)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("block_num DESC, log_index DESC").Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}

	return events, total, nil
}

// GetLastProcessedBlock 获取最后处理的区块号，没有事件时返回 0
func (e *EventLogic) GetLastProcessedBlock(ctx context.Context, contractAddr common.Address) (int64, error) {
	var lastEvent model.EventModel
	err := e.db.WithContext(ctx).
		Where("contract_address = ?", contractAddr.Hex()).
		Order("block_num DESC").
		First(&lastEvent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load last processed block: %w", err)
	}
	return lastEvent.BlockNum, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
