package router

import (
	"context"
	"net/http"

	"github.com/blues/cfe/internal/config"
	"github.com/blues/cfe/internal/handler"
	"github.com/blues/cfe/internal/logic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HealthFunc 附加的健康信息，例如链连接状态
type HealthFunc func(ctx context.Context) map[string]interface{}

// Deps 路由依赖
type Deps struct {
	Campaigns *logic.CampaignLogic
	Queries   *logic.QueryLogic
	Backend   string
	Health    HealthFunc
}

func Setup(cfg config.ServerConfig, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 中间件
	r.Use(handler.RequestLogger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.AllowOrigins))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "crowdfunding-escrow",
			"ledger":  deps.Backend,
		}
		if deps.Health != nil {
			for k, v := range deps.Health(c.Request.Context()) {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	campaignHandler := handler.NewCampaignHandler(deps.Campaigns)
	donationHandler := handler.NewDonationHandler(deps.Campaigns, deps.Queries)
	settlementHandler := handler.NewSettlementHandler(deps.Campaigns, deps.Queries)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		v1.GET("/stats", campaignHandler.GetStats)
		v1.GET("/fees/preview", campaignHandler.PreviewFee)
		v1.GET("/discovery", campaignHandler.Discover)

		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", campaignHandler.CreateCampaign)
			campaigns.GET("", campaignHandler.GetCampaigns)
			campaigns.GET("/:id", campaignHandler.GetCampaign)
			campaigns.GET("/:id/eligibility", campaignHandler.GetEligibility)
			campaigns.POST("/:id/donations", donationHandler.Donate)
			campaigns.GET("/:id/donations", donationHandler.GetCampaignDonations)
			campaigns.POST("/:id/mark-failed", settlementHandler.MarkFailed)
			campaigns.POST("/:id/withdraw", settlementHandler.Withdraw)
			campaigns.POST("/:id/refunds", settlementHandler.ClaimRefund)
			campaigns.GET("/:id/settlements", settlementHandler.GetSettlements)
			campaigns.GET("/:id/balance", settlementHandler.GetBalance)
		}

		v1.GET("/accounts/:address/donations", donationHandler.GetAccountDonations)
	}

	return r
}

// corsMiddleware 允许前端携带调用者地址头
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", handler.AccountHeader, handler.RequestIDHeader},
		ExposeHeaders: []string{handler.RequestIDHeader},
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
