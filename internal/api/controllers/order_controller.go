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

type OrderController struct {
	orderService services.OrderServiceInterface
}

func NewOrderController(orderService services.OrderServiceInterface) *OrderController {
	return &OrderController{orderService: orderService}
}

// CreateOrder godoc
// @Summary Create an order
// @Description Prices a product, applies an optional coupon and points, and opens a pending order
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body request_models.CreateOrderRequest true "Create Order Request"
// @Success 201 {object} utils.APIResponse{data=response_models.OrderResponse}
// @Failure 400 {object} utils.APIResponse
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders [post]
func (o *OrderController) CreateOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var request request_models.CreateOrderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	order, err := o.orderService.Create(c.Request.Context(), userID, request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusCreated, response_models.NewOrderResponse(order, false), "Order created successfully")
}

// ListOrders godoc
// @Summary List my orders
// @Tags Orders
// @Produce json
// @Param status query string false "Order status"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} utils.APIResponse{data=response_models.PageResponse[response_models.OrderResponse]}
// @Security BearerAuth
// @Router /orders [get]
func (o *OrderController) ListOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var query request_models.ListOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	orders, total, err := o.orderService.List(c.Request.Context(), userID, db_models.OrderStatus(query.Status), query.Page, query.PageSize)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	items := make([]response_models.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, response_models.NewOrderResponse(&orders[i], o.orderService.CanRefund(&orders[i])))
	}
	utils.RespondSuccess(c, response_models.PageResponse[response_models.OrderResponse]{
		Items:    items,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	}, "Orders retrieved successfully")
}

// GetOrder godoc
// @Summary Get one of my orders
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} utils.APIResponse{data=response_models.OrderResponse}
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders/{id} [get]
func (o *OrderController) GetOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	order, err := o.orderService.Get(c.Request.Context(), userID, orderID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewOrderResponse(order, o.orderService.CanRefund(order)), "Order retrieved successfully")
}

// CancelOrder godoc
// @Summary Cancel an unpaid order
// @Description Cancels a pending or paying order and returns its coupon and locked points
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} utils.APIResponse{data=response_models.OrderResponse}
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders/{id}/cancel [post]
func (o *OrderController) CancelOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	order, err := o.orderService.Cancel(c.Request.Context(), userID, orderID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewOrderResponse(order, false), "Order cancelled successfully")
}

// RefundOrder godoc
// @Summary Request a refund
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body request_models.RefundOrderRequest true "Refund Request"
// @Success 202 {object} utils.APIResponse{data=response_models.RefundResponse}
// @Failure 422 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders/{id}/refund [post]
func (o *OrderController) RefundOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var request request_models.RefundOrderRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	refund, err := o.orderService.RequestRefund(c.Request.Context(), userID, orderID, request.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondStatus(c, http.StatusAccepted, response_models.NewRefundResponse(refund), "Refund requested")
}

// ListRefunds godoc
// @Summary List refunds of an order
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} utils.APIResponse{data=[]response_models.RefundResponse}
// @Security BearerAuth
// @Router /orders/{id}/refunds [get]
func (o *OrderController) ListRefunds(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	refunds, err := o.orderService.Refunds(c.Request.Context(), userID, orderID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	items := make([]response_models.RefundResponse, 0, len(refunds))
	for i := range refunds {
		items = append(items, response_models.NewRefundResponse(&refunds[i]))
	}
	utils.RespondSuccess(c, items, "Refunds retrieved successfully")
}
