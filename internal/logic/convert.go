package logic

import (
	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// ToCampaign 数据库模型转领域对象
func ToCampaign(m *model.CampaignModel) *escrow.Campaign {
	return &escrow.Campaign{
		ID:          m.Id,
		Creator:     common.HexToAddress(m.Creator),
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Target:      m.Target.Int(),
		Raised:      m.Raised.Int(),
		DonorCount:  m.DonorCount,
		CreatedAt:   m.CreatedAt,
		Deadline:    m.Deadline,
		Withdrawn:   m.Withdrawn,
		Failed:      m.Failed,
		IpfsCid:     m.IpfsCid,
	}
}

// FromCampaign 领域对象转数据库模型，链上镜像使用
func FromCampaign(c *escrow.Campaign) *model.CampaignModel {
	return &model.CampaignModel{
		Id:          c.ID,
		CreatedAt:   c.CreatedAt,
		Creator:     c.Creator.Hex(),
		Title:       c.Title,
		Description: c.Description,
		Category:    c.Category,
		IpfsCid:     c.IpfsCid,
		Target:      model.NewBigInt(c.Target),
		Raised:      model.NewBigInt(c.Raised),
		DonorCount:  c.DonorCount,
		Deadline:    c.Deadline,
		Withdrawn:   c.Withdrawn,
		Failed:      c.Failed,
	}
}
