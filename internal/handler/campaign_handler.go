package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logic"
	"github.com/gin-gonic/gin"
)

// CampaignHandler 活动处理器
type CampaignHandler struct {
	campaigns *logic.CampaignLogic
}

// NewCampaignHandler 创建活动处理器
func NewCampaignHandler(campaigns *logic.CampaignLogic) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// CreateCampaign 创建活动，创建者取自请求头
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	creator, err := account(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	target, err := ParseAmount(req.Target, req.TargetEth)
	if err != nil {
		HandleError(c, escrow.ErrInvalidGoal)
		return
	}

	view, receipt, err := h.campaigns.CreateCampaign(c.Request.Context(), logic.CreateCampaignRequest{
		CreateCampaignParams: escrow.CreateCampaignParams{
			Creator:        creator,
			Title:          req.Title,
			Description:    req.Description,
			Category:       req.Category,
			Target:         target,
			DurationInDays: req.DurationInDays,
			IpfsCid:        req.IpfsCid,
		},
		Image: req.Image,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "campaign created", CreateCampaignResponse{
		Campaign: ToCampaignResponse(view),
		Receipt:  ToReceiptResponse(receipt),
	})
}

// GetCampaigns 活动列表，可按派生状态过滤
func (h *CampaignHandler) GetCampaigns(c *gin.Context) {
	status := escrow.Status(c.Query("status"))
	switch status {
	case "", escrow.StatusActive, escrow.StatusCompleted, escrow.StatusExpired, escrow.StatusFailed, escrow.StatusWithdrawn:
	default:
		ErrorResponse(c, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	withMetadata, _ := strconv.ParseBool(c.DefaultQuery("metadata", "false"))

	views, err := h.campaigns.ListCampaigns(c.Request.Context(), status, withMetadata)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ToCampaignResponseList(views))
}

// GetCampaign 活动详情，元数据不可用时仍返回活动
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	view, err := h.campaigns.GetCampaign(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", ToCampaignResponse(view))
}

// GetEligibility 账户在活动上可执行的操作
func (h *CampaignHandler) GetEligibility(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	addr, err := account(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	e, err := h.campaigns.Eligibility(c.Request.Context(), id, addr)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", EligibilityResponse{
		CampaignID:     e.CampaignId,
		Account:        e.Account.Hex(),
		Status:         e.Status,
		IsCreator:      e.IsCreator,
		CanDonate:      e.CanDonate,
		CanMarkFailed:  e.CanMarkFailed,
		CanWithdraw:    e.CanWithdraw,
		CanClaimRefund: e.CanClaimRefund,
		Donated:        bigString(e.Donated),
		Refunded:       e.Refunded,
	})
}

// GetStats 平台统计
func (h *CampaignHandler) GetStats(c *gin.Context) {
	stats, err := h.campaigns.GetStats(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", StatsResponse{
		TotalCampaigns: stats.TotalCampaigns,
		ByStatus:       stats.ByStatus,
		TotalRaised:    bigString(stats.TotalRaised),
		TotalRaisedEth: FormatEther(stats.TotalRaised),
		TotalFees:      bigString(stats.TotalFees),
		TotalFeesEth:   FormatEther(stats.TotalFees),
		TotalDonors:    stats.TotalDonors,
	})
}

// PreviewFee 手续费预览
func (h *CampaignHandler) PreviewFee(c *gin.Context) {
	amount, err := ParseAmount(c.Query("amount"), c.Query("amountEth"))
	if err != nil {
		HandleError(c, err)
		return
	}
	split, err := h.campaigns.PreviewFee(amount)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", FeePreviewResponse{
		Gross:          split.Gross.String(),
		Share:          split.Share.String(),
		ShareEth:       FormatEther(split.Share),
		PlatformFee:    split.Fee.String(),
		PlatformFeeEth: FormatEther(split.Fee),
		FeeBasisPoints: escrow.FeeBasisPoints,
	})
}

// Discover 解析注册表中的全部元数据
func (h *CampaignHandler) Discover(c *gin.Context) {
	found, err := h.campaigns.Discover(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}

	out := make([]DiscoveredResponse, 0, len(found))
	for _, d := range found {
		out = append(out, DiscoveredResponse{
			Cid:        d.Cid,
			CampaignID: d.CampaignId,
			Source:     d.Source,
			Metadata:   d.Metadata,
			Error:      d.Err,
		})
	}
	SuccessResponse(c, http.StatusOK, "ok", out)
}
