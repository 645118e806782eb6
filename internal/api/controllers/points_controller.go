package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"skillmart/internal/models/request_models"
	"skillmart/internal/models/response_models"
	"skillmart/internal/services"
	"skillmart/pkg/utils"
)

type PointsController struct {
	pointsService services.PointsServiceInterface
}

func NewPointsController(pointsService services.PointsServiceInterface) *PointsController {
	return &PointsController{pointsService: pointsService}
}

// GetBalance godoc
// @Summary Get my points balance
// @Tags Points
// @Produce json
// @Success 200 {object} utils.APIResponse{data=response_models.PointsBalanceResponse}
// @Security BearerAuth
// @Router /points/balance [get]
func (p *PointsController) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	account, err := p.pointsService.Balance(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.NewPointsBalanceResponse(account), "Balance retrieved successfully")
}

// ListTransactions godoc
// @Summary List my points transactions, newest first
// @Tags Points
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} utils.APIResponse{data=response_models.PageResponse[response_models.PointsTransactionResponse]}
// @Security BearerAuth
// @Router /points/transactions [get]
func (p *PointsController) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var query request_models.PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	txns, total, err := p.pointsService.Transactions(c.Request.Context(), userID, query.Page, query.PageSize)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	items := make([]response_models.PointsTransactionResponse, 0, len(txns))
	for _, t := range txns {
		items = append(items, response_models.NewPointsTransactionResponse(t))
	}
	utils.RespondSuccess(c, response_models.PageResponse[response_models.PointsTransactionResponse]{
		Items:    items,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
	}, "Transactions retrieved successfully")
}
