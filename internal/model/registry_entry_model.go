package model

import (
	"time"
)

// RegistryEntryModel 元数据 CID 注册表，只追加
type RegistryEntryModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Cid        string `json:"cid" gorm:"not null;uniqueIndex"`
	CampaignId int64  `json:"campaign_id" gorm:"index"`
	Source     string `json:"source" gorm:"not null"` // api, chain
}

// TableName 自定义表名
func (RegistryEntryModel) TableName() string {
	return "registry_entry"
}

// All 需要自动迁移的模型
func All() []interface{} {
	return []interface{}{
		&CampaignModel{},
		&DonationModel{},
		&SettlementRecordModel{},
		&EventModel{},
		&RegistryEntryModel{},
	}
}
