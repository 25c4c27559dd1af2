package model

import (
	"time"
)

// CampaignModel 众筹活动
//
// 状态不落库，由 Withdrawn/Failed 标志与 Raised/Target/Deadline 派生。
type CampaignModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息（创建后不可修改）
	Creator     string `json:"creator" gorm:"not null;index"`
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	Category    string `json:"category" gorm:"index"`
	IpfsCid     string `json:"ipfs_cid"`

	// 众筹信息
	Target     BigInt `json:"target" gorm:"type:varchar(78);not null"`
	Raised     BigInt `json:"raised" gorm:"type:varchar(78);not null"`
	DonorCount int64  `json:"donor_count" gorm:"not null;default:0"`

	// 时间信息
	Deadline time.Time `json:"deadline" gorm:"not null;index"`

	// 结算标志
	Withdrawn bool `json:"withdrawn" gorm:"not null;default:false"`
	Failed    bool `json:"failed" gorm:"not null;default:false"`

	TxHash string `json:"tx_hash"`
}

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}
