package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"skillmart/internal/models/request_models"
	"skillmart/internal/models/response_models"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

// AdminController serves the operator routes. Every route sits behind RoleMiddleware(RoleAdmin).
type AdminController struct {
	couponService  services.CouponServiceInterface
	pointsService  services.PointsServiceInterface
	productService services.ProductServiceInterface
	paymentService services.PaymentServiceInterface
	orderService   services.OrderServiceInterface
}

func NewAdminController(
	couponService services.CouponServiceInterface,
	pointsService services.PointsServiceInterface,
	productService services.ProductServiceInterface,
	paymentService services.PaymentServiceInterface,
	orderService services.OrderServiceInterface,
) *AdminController {
	return &AdminController{
		couponService:  couponService,
		pointsService:  pointsService,
		productService: productService,
		paymentService: paymentService,
		orderService:   orderService,
	}
}

// CreateCoupon godoc
// @Summary Create a coupon
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request_models.CreateCouponRequest true "Create Coupon Request"
// @Success 201 {object} utils.APIResponse{data=response_models.CouponResponse}
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/coupons [post]
func (a *AdminController) CreateCoupon(c *gin.Context) {
	var request request_models.CreateCouponRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	coupon, err := a.couponService.Create(c.Request.Context(), request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusCreated, response_models.NewCouponResponse(coupon), "Coupon created successfully")
}

// UpsertProduct godoc
// @Summary Create or reprice a product
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request_models.UpsertProductRequest true "Upsert Product Request"
// @Success 200 {object} utils.APIResponse{data=response_models.ProductResponse}
// @Security BearerAuth
// @Router /admin/products [put]
func (a *AdminController) UpsertProduct(c *gin.Context) {
	var request request_models.UpsertProductRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	product, err := a.productService.Upsert(c.Request.Context(), request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewProductResponse(product), "Product saved successfully")
}

// EarnPoints godoc
// @Summary Credit points to a user
// @Description A repeated (source, reference_id) for the same user is rejected with 409
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request_models.EarnPointsRequest true "Earn Points Request"
// @Success 201 {object} utils.APIResponse{data=response_models.PointsTransactionResponse}
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/points/earn [post]
func (a *AdminController) EarnPoints(c *gin.Context) {
	var request request_models.EarnPointsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	userID, _ := uuid.Parse(request.UserID)

	txn, err := a.pointsService.Earn(c.Request.Context(), userID, request.Amount, request.Source, request.ReferenceID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusCreated, response_models.NewPointsTransactionResponse(*txn), "Points credited")
}

// VerifyPoints godoc
// @Summary Check a user's points ledger against the account balance
// @Tags Admin
// @Produce json
// @Param user_id path string true "User ID"
// @Success 200 {object} utils.APIResponse
// @Failure 500 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/points/{user_id}/verify [get]
func (a *AdminController) VerifyPoints(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	if err := a.pointsService.Verify(c.Request.Context(), userID); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"consistent": true}, "Ledger is consistent")
}

// SimulatePaid godoc
// @Summary Pay a paying order through the sandbox gateway
// @Description Only available with GATEWAY_MODE=sandbox
// @Tags Admin
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} utils.APIResponse{data=response_models.OrderResponse}
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/orders/{id}/simulate-paid [post]
func (a *AdminController) SimulatePaid(c *gin.Context) {
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	order, err := a.paymentService.SimulatePaid(c.Request.Context(), orderID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewOrderResponse(order, a.orderService.CanRefund(order)), "Order paid")
}
