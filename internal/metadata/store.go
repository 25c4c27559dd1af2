package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/escrow"
)

// Store 内容寻址的元数据存储
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
}

// Campaign 活动描述性元数据，不包含任何资金状态
type Campaign struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Image       string    `json:"image,omitempty"`
	Creator     string    `json:"creator"`
	Target      string    `json:"target"` // wei
	Duration    int       `json:"durationInDays"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PutCampaign 序列化并上传活动元数据
func PutCampaign(ctx context.Context, s Store, c *Campaign) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return s.Put(ctx, data)
}

// GetCampaign 拉取并解析活动元数据
func GetCampaign(ctx context.Context, s Store, cid string) (*Campaign, error) {
	data, err := s.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	var c Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, escrow.Unavailable(err, "metadata %s is not valid campaign json", cid)
	}
	return &c, nil
}

// New 按配置创建存储
func New(cfg config.MetadataConfig) (Store, error) {
	switch cfg.Provider {
	case "ipfs":
		return NewIPFSStore(cfg.APIURL, cfg.Gateways, cfg.Timeout), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported metadata provider %q", cfg.Provider)
	}
}
