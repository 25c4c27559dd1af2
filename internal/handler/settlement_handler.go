package handler

import (
	"net/http"

	"github.com/blues/cfe/internal/logic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// SettlementHandler 失败标记、提取、退款与结算查询
type SettlementHandler struct {
	campaigns *logic.CampaignLogic
	queries   *logic.QueryLogic
}

// NewSettlementHandler 创建结算处理器
func NewSettlementHandler(campaigns *logic.CampaignLogic, queries *logic.QueryLogic) *SettlementHandler {
	return &SettlementHandler{campaigns: campaigns, queries: queries}
}

// MarkFailed 任何人都可以标记过期未达标的活动失败，请求头地址仅用于记录
func (h *SettlementHandler) MarkFailed(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	var caller common.Address
	if c.GetHeader(AccountHeader) != "" {
		if caller, err = account(c); err != nil {
			HandleError(c, err)
			return
		}
	}

	receipt, err := h.campaigns.MarkFailed(c.Request.Context(), id, caller)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "campaign marked failed", ToReceiptResponse(receipt))
}

// Withdraw 创建者提取
func (h *SettlementHandler) Withdraw(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	caller, err := account(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	receipt, err := h.campaigns.Withdraw(c.Request.Context(), id, caller)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "funds withdrawn", ToReceiptResponse(receipt))
}

// ClaimRefund 捐赠者退款
func (h *SettlementHandler) ClaimRefund(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	donor, err := account(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	receipt, err := h.campaigns.ClaimRefund(c.Request.Context(), id, donor)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "refund claimed", ToReceiptResponse(receipt))
}

// GetSettlements 活动结算记录
func (h *SettlementHandler) GetSettlements(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	records, err := h.queries.GetSettlements(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ToSettlementResponseList(records))
}

// GetBalance 活动托管余额
func (h *SettlementHandler) GetBalance(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	if _, err := h.campaigns.GetCampaign(c.Request.Context(), id); err != nil {
		HandleError(c, err)
		return
	}

	b, err := h.queries.GetBalance(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", BalanceResponse{
		CampaignID:   b.CampaignId,
		Donated:      b.Donated.String(),
		Settled:      b.Settled.String(),
		Escrowed:     b.Escrowed.String(),
		EscrowedEth:  FormatEther(b.Escrowed),
		PlatformFees: b.PlatformFees.String(),
	})
}
