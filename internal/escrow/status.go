package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status 活动生命周期状态（派生值，不落库）
type Status string

const (
	StatusActive    Status = "active"    // 筹款中
	StatusCompleted Status = "completed" // 已达标，待提取
	StatusExpired   Status = "expired"   // 已过期未达标，尚未标记失败
	StatusFailed    Status = "failed"    // 已标记失败，可退款
	StatusWithdrawn Status = "withdrawn" // 已提取
)

// Snapshot 状态派生所需的最小事实集合
type Snapshot struct {
	Raised    *big.Int
	Target    *big.Int
	Deadline  time.Time
	Withdrawn bool
	Failed    bool
}

// DeriveStatus 按优先级派生状态，纯函数
func DeriveStatus(s Snapshot, now time.Time) Status {
	switch {
	case s.Withdrawn:
		return StatusWithdrawn
	case s.Failed:
		return StatusFailed
	case amountOrZero(s.Raised).Cmp(amountOrZero(s.Target)) >= 0:
		return StatusCompleted
	case now.After(s.Deadline):
		return StatusExpired
	default:
		return StatusActive
	}
}

func CanDonate(s Snapshot, now time.Time) bool {
	return DeriveStatus(s, now) == StatusActive
}

func CanMarkFailed(s Snapshot, now time.Time) bool {
	return DeriveStatus(s, now) == StatusExpired
}

func CanWithdraw(s Snapshot, now time.Time) bool {
	return DeriveStatus(s, now) == StatusCompleted
}

func IsRefundEligible(s Snapshot, now time.Time) bool {
	return DeriveStatus(s, now) == StatusFailed
}

// CheckDonate 捐赠前置校验
func CheckDonate(s Snapshot, amount *big.Int, now time.Time) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !CanDonate(s, now) {
		return ErrCampaignNotActive
	}
	return nil
}

// CheckMarkFailed 标记失败前置校验
//
// 达标检查先于截止时间检查，达标的活动无论是否过期都返回 GoalReached。
func CheckMarkFailed(s Snapshot, now time.Time) error {
	if s.Failed || s.Withdrawn {
		return ErrAlreadySettled
	}
	if amountOrZero(s.Raised).Cmp(amountOrZero(s.Target)) >= 0 {
		return ErrGoalReached
	}
	if !now.After(s.Deadline) {
		return ErrNotExpiredYet
	}
	return nil
}

// CheckWithdraw 提取前置校验
func CheckWithdraw(s Snapshot, creator, caller common.Address, now time.Time) error {
	if creator != caller {
		return ErrNotCreator
	}
	if s.Withdrawn {
		return ErrAlreadyWithdrawn
	}
	if !CanWithdraw(s, now) {
		return ErrGoalNotReached
	}
	return nil
}

// CheckRefund 退款前置校验（活动级），捐赠记录由账本自行检查
func CheckRefund(s Snapshot, now time.Time) error {
	if !IsRefundEligible(s, now) {
		return ErrCampaignNotFailed
	}
	return nil
}
