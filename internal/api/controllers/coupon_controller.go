package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/internal/models/response_models"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

type CouponController struct {
	couponService services.CouponServiceInterface
}

func NewCouponController(couponService services.CouponServiceInterface) *CouponController {
	return &CouponController{couponService: couponService}
}

// ClaimCoupon godoc
// @Summary Claim a coupon by code
// @Tags Coupons
// @Accept json
// @Produce json
// @Param request body request_models.ClaimCouponRequest true "Claim Coupon Request"
// @Success 201 {object} utils.APIResponse{data=response_models.UserCouponResponse}
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /coupons/claim [post]
func (cc *CouponController) ClaimCoupon(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var request request_models.ClaimCouponRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	uc, err := cc.couponService.Claim(c.Request.Context(), userID, request.Code)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusCreated, response_models.NewUserCouponResponse(uc), "Coupon claimed successfully")
}

// ValidateCoupon godoc
// @Summary Preview the discount a claimed coupon gives on an amount
// @Tags Coupons
// @Accept json
// @Produce json
// @Param request body request_models.ValidateCouponRequest true "Validate Coupon Request"
// @Success 200 {object} utils.APIResponse{data=response_models.CouponQuoteResponse}
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /coupons/validate [post]
func (cc *CouponController) ValidateCoupon(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var request request_models.ValidateCouponRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	quote, err := cc.couponService.Validate(c.Request.Context(), userID, request.Code, request.OrderAmount, request.ProductType, request.ProductID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.CouponQuoteResponse{
		UserCouponID: quote.UserCoupon.ID.String(),
		Discount:     quote.Discount,
		Coupon:       response_models.NewCouponResponse(quote.Coupon),
	}, "Coupon is applicable")
}

// ListMyCoupons godoc
// @Summary List my coupons
// @Tags Coupons
// @Produce json
// @Param status query string false "available, reserved, used or expired"
// @Success 200 {object} utils.APIResponse{data=[]response_models.UserCouponResponse}
// @Security BearerAuth
// @Router /coupons/mine [get]
func (cc *CouponController) ListMyCoupons(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	status := db_models.UserCouponStatus(c.Query("status"))
	switch status {
	case "", db_models.UserCouponAvailable, db_models.UserCouponReserved, db_models.UserCouponUsed, db_models.UserCouponExpired:
	default:
		utils.RespondError(c, http.StatusBadRequest, "Invalid status")
		return
	}

	ucs, err := cc.couponService.ListMine(c.Request.Context(), userID, status)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	items := make([]response_models.UserCouponResponse, 0, len(ucs))
	for i := range ucs {
		items = append(items, response_models.NewUserCouponResponse(&ucs[i]))
	}
	utils.RespondSuccess(c, items, "Coupons retrieved successfully")
}
