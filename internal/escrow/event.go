package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventName 托管合约事件名
type EventName string

const (
	EventCampaignCreated  EventName = "CampaignCreated"
	EventDonationReceived EventName = "DonationReceived"
	EventCampaignFailed   EventName = "CampaignFailed"
	EventFundsWithdrawn   EventName = "FundsWithdrawn"
	EventRefundClaimed    EventName = "RefundClaimed"
)

// Event 账本状态变更事件
//
// Amount 含义随事件不同：创建时为目标金额，捐赠时为捐赠额，提取与退款时为实得金额。
type Event struct {
	Name        EventName
	CampaignID  int64
	Account     common.Address // 创建者、捐赠者或调用者
	Amount      *big.Int
	PlatformFee *big.Int
	Deadline    time.Time
	IpfsCid     string
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// Gross 结算事件的总额 = 实得 + 手续费
func (e *Event) Gross() *big.Int {
	return new(big.Int).Add(amountOrZero(e.Amount), amountOrZero(e.PlatformFee))
}
