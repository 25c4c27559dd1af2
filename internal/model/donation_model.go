package model

import (
	"time"
)

// DonationModel 捐赠记录，每笔捐赠交易一条
type DonationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId int64  `json:"campaign_id" gorm:"not null;index:idx_donation_campaign_donor"`
	Donor      string `json:"donor" gorm:"not null;index:idx_donation_campaign_donor"`
	Amount     BigInt `json:"amount" gorm:"type:varchar(78);not null"`
	TxHash     string `json:"tx_hash" gorm:"uniqueIndex"`
	BlockNum   int64  `json:"block_num"`
}

// TableName 自定义表名
func (DonationModel) TableName() string {
	return "donation"
}
