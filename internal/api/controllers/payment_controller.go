package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"skillmart/internal/gateway"
	"skillmart/internal/models/request_models"
	"skillmart/internal/models/response_models"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

// maxNotifyBody bounds provider callbacks; real ones are a few KB.
const maxNotifyBody = 64 << 10

type PaymentController struct {
	paymentService services.PaymentServiceInterface
}

func NewPaymentController(paymentService services.PaymentServiceInterface) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
	}
}

// CreatePayment godoc
// @Summary Start paying for an order
// @Description Creates a gateway trade for a pending order. Free orders settle immediately.
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body request_models.CreatePaymentRequest true "Create Payment Request"
// @Success 200 {object} utils.APIResponse{data=response_models.PaymentIntentResponse}
// @Failure 409 {object} utils.APIResponse
// @Failure 502 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payment/create [post]
func (p *PaymentController) CreatePayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var request request_models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	intent, order, err := p.paymentService.CreateIntent(c.Request.Context(), userID, request, c.ClientIP())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewPaymentIntentResponse(order, intent), "Payment created successfully")
}

// QueryPayment godoc
// @Summary Query the payment status of an order
// @Description Asks the gateway when the order is still paying, so a lost callback is picked up
// @Tags Payments
// @Produce json
// @Param order_id path string true "Order ID"
// @Success 200 {object} utils.APIResponse{data=response_models.PaymentStatusResponse}
// @Security BearerAuth
// @Router /payment/query/{order_id} [get]
func (p *PaymentController) QueryPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "order_id")
	if !ok {
		return
	}

	order, err := p.paymentService.Status(c.Request.Context(), userID, orderID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewPaymentStatusResponse(order), "Payment status retrieved successfully")
}

// WechatNotify godoc
// @Summary WeChat Pay callback
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Router /payment/notify/wechat [post]
func (p *PaymentController) WechatNotify(c *gin.Context) {
	err := p.notify(c, gateway.MethodWechat)
	if err != nil {
		c.JSON(utils.StatusForError(err), gin.H{"code": "FAIL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "OK"})
}

// AlipayNotify godoc
// @Summary Alipay callback
// @Description Alipay keeps retrying until the body is exactly "success"
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Produce plain
// @Success 200 {string} string "success"
// @Router /payment/notify/alipay [post]
func (p *PaymentController) AlipayNotify(c *gin.Context) {
	if err := p.notify(c, gateway.MethodAlipay); err != nil {
		c.String(http.StatusOK, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

// PayOSNotify godoc
// @Summary payOS webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /payment/notify/payos [post]
func (p *PaymentController) PayOSNotify(c *gin.Context) {
	if err := p.notify(c, gateway.MethodPayOS); err != nil {
		c.JSON(utils.StatusForError(err), gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (p *PaymentController) notify(c *gin.Context, method string) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotifyBody))
	if err != nil {
		return utils.ErrSignatureInvalid
	}
	return p.paymentService.HandleNotify(c.Request.Context(), method, body, c.Request.Header)
}
