package handler

import (
	"math/big"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logic"
	"github.com/blues/cfe/internal/metadata"
	"github.com/blues/cfe/internal/model"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

// 请求模型

// CreateCampaignRequest 创建活动请求，target 为 wei，targetEth 为 ether 小数
type CreateCampaignRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Image          string `json:"image"`
	Target         string `json:"target"`
	TargetEth      string `json:"targetEth"`
	DurationInDays int    `json:"durationInDays"`
	IpfsCid        string `json:"ipfsCid"`
}

// DonateRequest 捐赠请求
type DonateRequest struct {
	Amount    string `json:"amount"`
	AmountEth string `json:"amountEth"`
}

// 响应模型

// CampaignResponse 活动响应模型
type CampaignResponse struct {
	ID          int64              `json:"id"`
	Creator     string             `json:"creator"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Target      string             `json:"target"`
	TargetEth   string             `json:"targetEth"`
	Raised      string             `json:"raised"`
	RaisedEth   string             `json:"raisedEth"`
	DonorCount  int64              `json:"donorCount"`
	Status      escrow.Status      `json:"status"`
	Progress    float64            `json:"progress"`
	CreatedAt   time.Time          `json:"createdAt"`
	Deadline    time.Time          `json:"deadline"`
	Withdrawn   bool               `json:"withdrawn"`
	Failed      bool               `json:"failed"`
	IpfsCid     string             `json:"ipfsCid"`
	Metadata    *metadata.Campaign `json:"metadata,omitempty"`
	MetadataErr string             `json:"metadataError,omitempty"`
}

// ReceiptResponse 操作回执
type ReceiptResponse struct {
	TxHash             string `json:"txHash"`
	CampaignID         int64  `json:"campaignId"`
	Gross              string `json:"gross"`
	GrossEth           string `json:"grossEth"`
	RecipientAmount    string `json:"recipientAmount"`
	RecipientAmountEth string `json:"recipientAmountEth"`
	PlatformFee        string `json:"platformFee"`
	PlatformFeeEth     string `json:"platformFeeEth"`
	BlockNumber        uint64 `json:"blockNumber,omitempty"`
}

// CreateCampaignResponse 创建活动响应
type CreateCampaignResponse struct {
	Campaign CampaignResponse `json:"campaign"`
	Receipt  ReceiptResponse  `json:"receipt"`
}

// DonationResponse 捐赠记录
type DonationResponse struct {
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaignId"`
	Donor      string    `json:"donor"`
	Amount     string    `json:"amount"`
	AmountEth  string    `json:"amountEth"`
	TxHash     string    `json:"txHash"`
	BlockNum   int64     `json:"blockNum,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GetDonationsResponse 捐赠列表响应
type GetDonationsResponse struct {
	Donations  []DonationResponse `json:"donations"`
	Pagination *Pagination        `json:"pagination,omitempty"`
}

// SettlementResponse 结算记录
type SettlementResponse struct {
	ID                 int64                `json:"id"`
	CampaignID         int64                `json:"campaignId"`
	SettlementType     model.SettlementType `json:"settlementType"`
	Recipient          string               `json:"recipient"`
	TotalAmount        string               `json:"totalAmount"`
	RecipientAmount    string               `json:"recipientAmount"`
	RecipientAmountEth string               `json:"recipientAmountEth"`
	PlatformFee        string               `json:"platformFee"`
	PlatformFeeEth     string               `json:"platformFeeEth"`
	PlatformAddress    string               `json:"platformAddress"`
	TxHash             string               `json:"txHash"`
	SettlementTime     time.Time            `json:"settlementTime"`
}

// BalanceResponse 托管余额
type BalanceResponse struct {
	CampaignID   int64  `json:"campaignId"`
	Donated      string `json:"donated"`
	Settled      string `json:"settled"`
	Escrowed     string `json:"escrowed"`
	EscrowedEth  string `json:"escrowedEth"`
	PlatformFees string `json:"platformFees"`
}

// EligibilityResponse 账户可执行操作
type EligibilityResponse struct {
	CampaignID     int64         `json:"campaignId"`
	Account        string        `json:"account"`
	Status         escrow.Status `json:"status"`
	IsCreator      bool          `json:"isCreator"`
	CanDonate      bool          `json:"canDonate"`
	CanMarkFailed  bool          `json:"canMarkFailed"`
	CanWithdraw    bool          `json:"canWithdraw"`
	CanClaimRefund bool          `json:"canClaimRefund"`
	Donated        string        `json:"donated"`
	Refunded       bool          `json:"refunded"`
}

// StatsResponse 平台统计
type StatsResponse struct {
	TotalCampaigns int64                   `json:"totalCampaigns"`
	ByStatus       map[escrow.Status]int64 `json:"byStatus"`
	TotalRaised    string                  `json:"totalRaised"`
	TotalRaisedEth string                  `json:"totalRaisedEth"`
	TotalFees      string                  `json:"totalFees"`
	TotalFeesEth   string                  `json:"totalFeesEth"`
	TotalDonors    int64                   `json:"totalDonors"`
}

// FeePreviewResponse 手续费预览
type FeePreviewResponse struct {
	Gross          string `json:"gross"`
	Share          string `json:"share"`
	ShareEth       string `json:"shareEth"`
	PlatformFee    string `json:"platformFee"`
	PlatformFeeEth string `json:"platformFeeEth"`
	FeeBasisPoints int64  `json:"feeBasisPoints"`
}

// DiscoveredResponse 注册表发现结果
type DiscoveredResponse struct {
	Cid        string             `json:"cid"`
	CampaignID int64              `json:"campaignId"`
	Source     string             `json:"source"`
	Metadata   *metadata.Campaign `json:"metadata,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// 转换函数

func ToCampaignResponse(v *logic.CampaignView) CampaignResponse {
	c := v.Campaign
	return CampaignResponse{
		ID:          c.ID,
		Creator:     c.Creator.Hex(),
		Title:       c.Title,
		Description: c.Description,
		Category:    c.Category,
		Target:      bigString(c.Target),
		TargetEth:   FormatEther(c.Target),
		Raised:      bigString(c.Raised),
		RaisedEth:   FormatEther(c.Raised),
		DonorCount:  c.DonorCount,
		Status:      v.Status,
		Progress:    v.Progress,
		CreatedAt:   c.CreatedAt,
		Deadline:    c.Deadline,
		Withdrawn:   c.Withdrawn,
		Failed:      c.Failed,
		IpfsCid:     c.IpfsCid,
		Metadata:    v.Metadata,
		MetadataErr: v.MetadataErr,
	}
}

func ToCampaignResponseList(views []*logic.CampaignView) []CampaignResponse {
	out := make([]CampaignResponse, 0, len(views))
	for _, v := range views {
		out = append(out, ToCampaignResponse(v))
	}
	return out
}

func ToReceiptResponse(r *escrow.Receipt) ReceiptResponse {
	return ReceiptResponse{
		TxHash:             r.TxHash.Hex(),
		CampaignID:         r.CampaignID,
		Gross:              bigString(r.Gross),
		GrossEth:           FormatEther(r.Gross),
		RecipientAmount:    bigString(r.RecipientAmount),
		RecipientAmountEth: FormatEther(r.RecipientAmount),
		PlatformFee:        bigString(r.PlatformFee),
		PlatformFeeEth:     FormatEther(r.PlatformFee),
		BlockNumber:        r.BlockNumber,
	}
}

func ToDonationResponseList(donations []model.DonationModel) []DonationResponse {
	out := make([]DonationResponse, 0, len(donations))
	for _, d := range donations {
		out = append(out, DonationResponse{
			ID:         d.Id,
			CampaignID: d.CampaignId,
			Donor:      d.Donor,
			Amount:     d.Amount.String(),
			AmountEth:  FormatEther(d.Amount.Int()),
			TxHash:     d.TxHash,
			BlockNum:   d.BlockNum,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out
}

func ToSettlementResponseList(records []model.SettlementRecordModel) []SettlementResponse {
	out := make([]SettlementResponse, 0, len(records))
	for _, r := range records {
		out = append(out, SettlementResponse{
			ID:                 r.Id,
			CampaignID:         r.CampaignId,
			SettlementType:     r.SettlementType,
			Recipient:          r.Recipient,
			TotalAmount:        r.TotalAmount.String(),
			RecipientAmount:    r.RecipientAmount.String(),
			RecipientAmountEth: FormatEther(r.RecipientAmount.Int()),
			PlatformFee:        r.PlatformFee.String(),
			PlatformFeeEth:     FormatEther(r.PlatformFee.Int()),
			PlatformAddress:    r.PlatformAddress,
			TxHash:             r.TxHash,
			SettlementTime:     r.SettlementTime,
		})
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
