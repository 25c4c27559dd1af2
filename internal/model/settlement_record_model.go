package model

import (
	"time"
)

// SettlementType 结算类型
type SettlementType string

const (
	SettlementTypeWithdrawal SettlementType = "withdrawal" // 创建者提取
	SettlementTypeRefund     SettlementType = "refund"     // 捐赠者退款
)

// SettlementRecordModel 结算记录，资金离开托管的唯一凭证
//
// (campaign_id, settlement_type, recipient) 唯一：每个活动至多一次提取，
// 每个捐赠者在每个活动至多一次退款。
type SettlementRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId      int64          `json:"campaign_id" gorm:"not null;uniqueIndex:idx_settlement_once"`
	SettlementType  SettlementType `json:"settlement_type" gorm:"not null;uniqueIndex:idx_settlement_once"`
	Recipient       string         `json:"recipient" gorm:"not null;uniqueIndex:idx_settlement_once"`
	TotalAmount     BigInt         `json:"total_amount" gorm:"type:varchar(78);not null"`     // 结算总额
	RecipientAmount BigInt         `json:"recipient_amount" gorm:"type:varchar(78);not null"` // 创建者或捐赠者实得 95%
	PlatformFee     BigInt         `json:"platform_fee" gorm:"type:varchar(78);not null"`     // 平台手续费 5%
	PlatformAddress string         `json:"platform_address" gorm:"not null"`
	TxHash          string         `json:"tx_hash" gorm:"uniqueIndex"`
	BlockNum        int64          `json:"block_num"`
	SettlementTime  time.Time      `json:"settlement_time"`
}

// TableName 自定义表名
func (SettlementRecordModel) TableName() string {
	return "settlement_record"
}
