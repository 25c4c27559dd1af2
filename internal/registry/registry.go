package registry

import (
	"context"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SourceAPI   = "api"
	SourceChain = "chain"
)

// Registry 只追加的元数据 CID 列表，用于发现活动，不作为任何资金事实的依据
type Registry interface {
	Append(ctx context.Context, cid string, campaignID int64, source string) error
	List(ctx context.Context) ([]model.RegistryEntryModel, error)
}

// GormRegistry 数据库实现，重复追加同一 CID 为空操作
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

func (r *GormRegistry) Append(ctx context.Context, cid string, campaignID int64, source string) error {
	entry := &model.RegistryEntryModel{Cid: cid, CampaignId: campaignID, Source: source}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cid"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return escrow.Unavailable(err, "registry append %s failed", cid)
	}
	return nil
}

func (r *GormRegistry) List(ctx context.Context) ([]model.RegistryEntryModel, error) {
	var entries []model.RegistryEntryModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, escrow.Unavailable(err, "registry list failed")
	}
	return entries, nil
}
