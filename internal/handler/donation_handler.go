package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/cfe/internal/escrow"
	"github.com/blues/cfe/internal/logic"
	"github.com/gin-gonic/gin"
)

// DonationHandler 捐赠处理器
type DonationHandler struct {
	campaigns *logic.CampaignLogic
	queries   *logic.QueryLogic
}

// NewDonationHandler 创建捐赠处理器
func NewDonationHandler(campaigns *logic.CampaignLogic, queries *logic.QueryLogic) *DonationHandler {
	return &DonationHandler{campaigns: campaigns, queries: queries}
}

// Donate 捐赠
func (h *DonationHandler) Donate(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	var req DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := ParseAmount(req.Amount, req.AmountEth)
	if err != nil {
		HandleError(c, err)
		return
	}
	donor, err := account(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	receipt, err := h.campaigns.Donate(c.Request.Context(), id, donor, amount)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "donation accepted", ToReceiptResponse(receipt))
}

// GetCampaignDonations 活动捐赠记录，分页
func (h *DonationHandler) GetCampaignDonations(c *gin.Context) {
	id, err := campaignID(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	donations, total, err := h.queries.GetCampaignDonations(c.Request.Context(), id, page, pageSize)
	if err != nil {
		HandleError(c, err)
		return
	}

	page, pageSize = logic.NormalizePage(page, pageSize)
	SuccessResponse(c, http.StatusOK, "ok", GetDonationsResponse{
		Donations: ToDonationResponseList(donations),
		Pagination: &Pagination{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
		},
	})
}

// GetAccountDonations 某地址的全部捐赠
func (h *DonationHandler) GetAccountDonations(c *gin.Context) {
	addr, err := escrow.ParseAddress(c.Param("address"))
	if err != nil {
		HandleError(c, err)
		return
	}

	donations, err := h.queries.GetDonorDonations(c.Request.Context(), addr)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", GetDonationsResponse{Donations: ToDonationResponseList(donations)})
}
