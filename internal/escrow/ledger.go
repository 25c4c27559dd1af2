package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger 资金与活动状态的唯一事实来源
//
// 所有写操作要么整体提交并返回回执，要么返回 *Error 且不留下任何部分状态。
// 同一活动上的写操作串行执行，不同活动之间互不影响。
type Ledger interface {
	CreateCampaign(ctx context.Context, params CreateCampaignParams) (*Receipt, error)
	Donate(ctx context.Context, campaignID int64, donor common.Address, amount *big.Int) (*Receipt, error)
	MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*Receipt, error)
	Withdraw(ctx context.Context, campaignID int64, caller common.Address) (*Receipt, error)
	ClaimRefund(ctx context.Context, campaignID int64, donor common.Address) (*Receipt, error)

	GetCampaign(ctx context.Context, campaignID int64) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]*Campaign, error)
	GetDonation(ctx context.Context, campaignID int64, donor common.Address) (*DonorPosition, error)
}
