package controllers_fx

import (
	"go.uber.org/fx"
	"skillmart/internal/api/controllers"
)

var Module = fx.Options(
	fx.Provide(controllers.NewOrderController),
	fx.Provide(controllers.NewPaymentController),
	fx.Provide(controllers.NewPointsController),
	fx.Provide(controllers.NewCouponController),
	fx.Provide(controllers.NewAdminController),
	fx.Provide(controllers.NewHealthController))
