package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/api/controllers"
	"skillmart/internal/config"
	"skillmart/pkg/middleware"
	"skillmart/pkg/utils"
)

type RouterParams struct {
	fx.In

	Config  *config.Config
	Log     *zap.Logger
	Issuer  *utils.TokenIssuer
	Limiter *middleware.RateLimiter

	Orders   *controllers.OrderController
	Payments *controllers.PaymentController
	Points   *controllers.PointsController
	Coupons  *controllers.CouponController
	Admin    *controllers.AdminController
	Health   *controllers.HealthController
}

func ProvideRouter(p RouterParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.RequestLogger(p.Log))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	RegisterRoutes(r, p)

	return r
}

func RegisterRoutes(r *gin.Engine, p RouterParams) {
	r.GET("/healthz", p.Health.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider callbacks are authenticated by signature, not by JWT.
	notify := r.Group("/payment/notify")
	notify.POST("/wechat", p.Payments.WechatNotify)
	notify.POST("/alipay", p.Payments.AlipayNotify)
	notify.POST("/payos", p.Payments.PayOSNotify)

	auth := r.Group("/")
	auth.Use(middleware.JWTAuthMiddleware(p.Issuer))

	orderGroup := auth.Group("/orders")
	orderGroup.POST("", p.Limiter.Middleware(), p.Orders.CreateOrder)
	orderGroup.GET("", p.Orders.ListOrders)
	orderGroup.GET("/:id", p.Orders.GetOrder)
	orderGroup.POST("/:id/cancel", p.Orders.CancelOrder)
	orderGroup.POST("/:id/refund", p.Orders.RefundOrder)
	orderGroup.GET("/:id/refunds", p.Orders.ListRefunds)

	paymentGroup := auth.Group("/payment")
	paymentGroup.POST("/create", p.Limiter.Middleware(), p.Payments.CreatePayment)
	paymentGroup.GET("/query/:order_id", p.Payments.QueryPayment)

	pointsGroup := auth.Group("/points")
	pointsGroup.GET("/balance", p.Points.GetBalance)
	pointsGroup.GET("/transactions", p.Points.ListTransactions)

	couponGroup := auth.Group("/coupons")
	couponGroup.POST("/claim", p.Limiter.Middleware(), p.Coupons.ClaimCoupon)
	couponGroup.POST("/validate", p.Coupons.ValidateCoupon)
	couponGroup.GET("/mine", p.Coupons.ListMyCoupons)

	adminGroup := auth.Group("/admin")
	adminGroup.Use(middleware.RoleMiddleware(middleware.RoleAdmin))
	adminGroup.POST("/coupons", p.Admin.CreateCoupon)
	adminGroup.PUT("/products", p.Admin.UpsertProduct)
	adminGroup.POST("/points/earn", p.Admin.EarnPoints)
	adminGroup.GET("/points/:user_id/verify", p.Admin.VerifyPoints)
	adminGroup.POST("/orders/:id/simulate-paid", p.Admin.SimulatePaid)
}
