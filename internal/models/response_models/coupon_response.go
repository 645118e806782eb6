package response_models

import (
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

type CouponResponse struct {
	ID             string               `json:"id"`
	Code           string               `json:"code"`
	Name           string               `json:"name"`
	Type           db_models.CouponType `json:"type"`
	Value          string               `json:"value"`
	MaxDiscount    int64                `json:"max_discount"`
	MinOrderAmount int64                `json:"min_order_amount"`
	ValidUntil     string               `json:"valid_until,omitempty"`
	UsageLimit     int                  `json:"usage_limit"`
	UsedCount      int                  `json:"used_count"`
	PerUserLimit   int                  `json:"per_user_limit"`
	IsActive       bool                 `json:"is_active"`
}

func NewCouponResponse(c *db_models.Coupon) CouponResponse {
	resp := CouponResponse{
		ID:             c.ID.String(),
		Code:           c.Code,
		Name:           c.Name,
		Type:           c.Type,
		Value:          c.Value.String(),
		MaxDiscount:    c.MaxDiscount,
		MinOrderAmount: c.MinOrderAmount,
		UsageLimit:     c.UsageLimit,
		UsedCount:      c.UsedCount,
		PerUserLimit:   c.PerUserLimit,
		IsActive:       c.IsActive,
	}
	if c.ValidUntil != nil {
		resp.ValidUntil = utils.FormatUnixCN(*c.ValidUntil)
	}
	return resp
}

type UserCouponResponse struct {
	ID         string                     `json:"id"`
	Status     db_models.UserCouponStatus `json:"status"`
	ReceivedAt string                     `json:"received_at"`
	ExpiresAt  string                     `json:"expires_at,omitempty"`
	Coupon     CouponResponse             `json:"coupon"`
}

func NewUserCouponResponse(uc *db_models.UserCoupon) UserCouponResponse {
	resp := UserCouponResponse{
		ID:         uc.ID.String(),
		Status:     uc.Status,
		ReceivedAt: utils.FormatUnixCN(uc.ReceivedAt),
		Coupon:     NewCouponResponse(&uc.Coupon),
	}
	if uc.ExpiresAt != nil {
		resp.ExpiresAt = utils.FormatUnixCN(*uc.ExpiresAt)
	}
	return resp
}

type CouponQuoteResponse struct {
	UserCouponID string         `json:"user_coupon_id"`
	Discount     int64          `json:"discount"`
	Coupon       CouponResponse `json:"coupon"`
}

type ProductResponse struct {
	Type     string `json:"type"`
	RefID    string `json:"ref_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	IsActive bool   `json:"is_active"`
}

func NewProductResponse(p *db_models.Product) ProductResponse {
	return ProductResponse{Type: p.Type, RefID: p.RefID, Name: p.Name, Price: p.Price, IsActive: p.IsActive}
}
