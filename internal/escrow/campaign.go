package escrow

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxDurationDays 活动最长持续天数
	MaxDurationDays = 30
	day             = 24 * time.Hour
)

// Campaign 众筹活动
type Campaign struct {
	ID          int64
	Creator     common.Address
	Title       string
	Description string
	Category    string
	Target      *big.Int
	Raised      *big.Int
	DonorCount  int64
	CreatedAt   time.Time
	Deadline    time.Time
	Withdrawn   bool
	Failed      bool
	IpfsCid     string
}

// Snapshot 提取状态派生所需字段
func (c *Campaign) Snapshot() Snapshot {
	return Snapshot{
		Raised:    c.Raised,
		Target:    c.Target,
		Deadline:  c.Deadline,
		Withdrawn: c.Withdrawn,
		Failed:    c.Failed,
	}
}

// Status 派生当前状态
func (c *Campaign) Status(now time.Time) Status {
	return DeriveStatus(c.Snapshot(), now)
}

// Clone 深拷贝，缓存对外返回副本
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Target = copyAmount(c.Target)
	cp.Raised = copyAmount(c.Raised)
	return &cp
}

// DonorPosition 某捐赠者在某活动下的累计捐赠
type DonorPosition struct {
	CampaignID int64
	Donor      common.Address
	Total      *big.Int
	Count      int64
	Refunded   bool
}

// Receipt 状态变更操作的回执
type Receipt struct {
	TxHash          common.Hash
	CampaignID      int64
	Gross           *big.Int // 本次操作涉及的总金额
	RecipientAmount *big.Int // 创建者或捐赠者实得
	PlatformFee     *big.Int
	BlockNumber     uint64
}

// CreateCampaignParams 创建活动参数
type CreateCampaignParams struct {
	Creator        common.Address
	Title          string
	Description    string
	Category       string
	Target         *big.Int
	DurationInDays int
	IpfsCid        string
}

// Validate 校验创建参数
func (p CreateCampaignParams) Validate() error {
	if p.Target == nil || p.Target.Sign() <= 0 {
		return ErrInvalidGoal
	}
	if p.DurationInDays <= 0 || p.DurationInDays > MaxDurationDays {
		return ErrInvalidDuration
	}
	if p.Creator == (common.Address{}) {
		return ErrInvalidAddress
	}
	if strings.TrimSpace(p.Title) == "" {
		return ErrInvalidTitle
	}
	return nil
}

// Deadline 截止时间 = 创建时间 + 天数
func (p CreateCampaignParams) Deadline(createdAt time.Time) time.Time {
	return createdAt.Add(time.Duration(p.DurationInDays) * day)
}

// ParseAddress 解析十六进制地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidAddress
	}
	return addr, nil
}
