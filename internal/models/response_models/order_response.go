package response_models

import (
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

type OrderResponse struct {
	ID             string                    `json:"id"`
	OrderNo        string                    `json:"order_no"`
	Status         db_models.OrderStatus     `json:"status"`
	Product        db_models.ProductSnapshot `json:"product"`
	OriginalAmount int64                     `json:"original_amount"`
	DiscountAmount int64                     `json:"discount_amount"`
	PointsUsed     int64                     `json:"points_used"`
	PointsDiscount int64                     `json:"points_discount"`
	FinalAmount    int64                     `json:"final_amount"`
	FinalYuan      string                    `json:"final_yuan"`
	PaymentMethod  string                    `json:"payment_method,omitempty"`
	TransactionID  string                    `json:"transaction_id,omitempty"`
	CreatedAt      string                    `json:"created_at"`
	ExpiresAt      string                    `json:"expires_at"`
	PaidAt         string                    `json:"paid_at,omitempty"`
	CancelledBy    db_models.CancelActor     `json:"cancelled_by,omitempty"`
	CanRefund      bool                      `json:"can_refund"`
	ManualReview   bool                      `json:"manual_review"`
}

// NewOrderResponse renders an order; canRefund is computed by the order service.
func NewOrderResponse(o *db_models.Order, canRefund bool) OrderResponse {
	resp := OrderResponse{
		ID:             o.ID.String(),
		OrderNo:        o.OrderNo,
		Status:         o.Status,
		Product:        o.Product.Data(),
		OriginalAmount: o.OriginalAmount,
		DiscountAmount: o.DiscountAmount,
		PointsUsed:     o.PointsUsed,
		PointsDiscount: o.PointsDiscount,
		FinalAmount:    o.FinalAmount,
		FinalYuan:      utils.FormatYuan(o.FinalAmount),
		PaymentMethod:  o.PaymentMethod,
		CreatedAt:      utils.FormatUnixCN(o.CreatedAt),
		ExpiresAt:      utils.FormatUnixCN(o.ExpiresAt),
		CancelledBy:    o.CancelledBy,
		CanRefund:      canRefund,
		ManualReview:   o.ManualReview,
	}
	if o.TransactionID != nil {
		resp.TransactionID = *o.TransactionID
	}
	if o.PaidAt != nil {
		resp.PaidAt = utils.FormatUnixCN(*o.PaidAt)
	}
	return resp
}

type RefundResponse struct {
	RefundNo string                 `json:"refund_no"`
	OrderID  string                 `json:"order_id"`
	Amount   int64                  `json:"amount"`
	Reason   string                 `json:"reason"`
	Status   db_models.RefundStatus `json:"status"`
	RefundID string                 `json:"refund_id,omitempty"`
}

func NewRefundResponse(r *db_models.Refund) RefundResponse {
	resp := RefundResponse{
		RefundNo: r.RefundNo,
		OrderID:  r.OrderID.String(),
		Amount:   r.Amount,
		Reason:   r.Reason,
		Status:   r.Status,
	}
	if r.RefundID != nil {
		resp.RefundID = *r.RefundID
	}
	return resp
}

type PageResponse[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}
