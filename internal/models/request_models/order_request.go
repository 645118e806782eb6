package request_models

type CreateOrderRequest struct {
	ProductType string `json:"product_type" binding:"required,max=32"`
	ProductID   string `json:"product_id" binding:"required,max=64"`
	CouponCode  string `json:"coupon_code" binding:"omitempty,max=64"`
	PointsToUse int64  `json:"points_to_use" binding:"gte=0"`
}

type RefundOrderRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

type ListOrdersQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=pending paying paid failed cancelled refunding refunded"`
	Page     int    `form:"page,default=1" binding:"min=1"`
	PageSize int    `form:"page_size,default=20" binding:"min=1,max=100"`
}
