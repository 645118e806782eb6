package request_models

type ClaimCouponRequest struct {
	Code string `json:"code" binding:"required,max=64"`
}

type ValidateCouponRequest struct {
	Code        string `json:"code" binding:"required,max=64"`
	OrderAmount int64  `json:"order_amount" binding:"gte=0"`
	ProductType string `json:"product_type" binding:"required"`
	ProductID   string `json:"product_id"`
}

// CreateCouponRequest is the admin payload. Value is fen for fixed coupons and a percentage for
// percentage coupons, sent as a decimal string ("12.5").
type CreateCouponRequest struct {
	Code           string   `json:"code" binding:"required,alphanum,max=64"`
	Name           string   `json:"name" binding:"required,max=128"`
	Type           string   `json:"type" binding:"required,oneof=fixed percentage"`
	Value          string   `json:"value" binding:"required"`
	MaxDiscount    int64    `json:"max_discount" binding:"gte=0"`
	MinOrderAmount int64    `json:"min_order_amount" binding:"gte=0"`
	ProductTypes   []string `json:"product_types"`
	ProductIDs     []string `json:"product_ids"`
	ValidFrom      *int64   `json:"valid_from"`
	ValidUntil     *int64   `json:"valid_until"`
	UsageLimit     *int     `json:"usage_limit" binding:"omitempty,min=-1"`
	PerUserLimit   *int     `json:"per_user_limit" binding:"omitempty,min=0"`
	IsActive       *bool    `json:"is_active"`
}
