package db_models

import (
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CouponType string

const (
	CouponTypeFixed      CouponType = "fixed"
	CouponTypePercentage CouponType = "percentage"
)

// UnlimitedUsage marks a coupon without a global issuance limit.
const UnlimitedUsage = -1

// ProductScope restricts where a coupon applies. Empty lists mean "everything".
type ProductScope struct {
	ProductTypes []string `json:"product_types,omitempty"`
	ProductIDs   []string `json:"product_ids,omitempty"`
}

func (s ProductScope) Allows(productType, productID string) bool {
	if len(s.ProductTypes) > 0 && !slices.Contains(s.ProductTypes, productType) {
		return false
	}
	if len(s.ProductIDs) > 0 && productID != "" && !slices.Contains(s.ProductIDs, productID) {
		return false
	}
	return true
}

type Coupon struct {
	BaseModel
	Code string     `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Name string     `gorm:"size:128" json:"name"`
	Type CouponType `gorm:"size:16;not null" json:"type"`
	// Value is fen for fixed coupons and a percentage (0-100] for percentage coupons.
	Value          decimal.Decimal                  `gorm:"type:decimal(20,2);not null" json:"value"`
	MaxDiscount    int64                            `gorm:"not null;default:0" json:"max_discount"`
	MinOrderAmount int64                            `gorm:"not null;default:0" json:"min_order_amount"`
	Applicable     datatypes.JSONType[ProductScope] `json:"applicable_products"`
	ValidFrom      *int64                           `json:"valid_from,omitempty"`
	ValidUntil     *int64                           `gorm:"index" json:"valid_until,omitempty"`
	UsageLimit     int                              `gorm:"not null" json:"usage_limit"`
	UsedCount      int                              `gorm:"not null;default:0" json:"used_count"`
	PerUserLimit   int                              `gorm:"not null" json:"per_user_limit"`
	IsActive       bool                             `gorm:"not null" json:"is_active"`
}

func (Coupon) TableName() string { return "coupons" }

// InWindow reports whether unix second now lies inside the validity window.
func (c *Coupon) InWindow(now int64) (started, notExpired bool) {
	started = c.ValidFrom == nil || now >= *c.ValidFrom
	notExpired = c.ValidUntil == nil || now <= *c.ValidUntil
	return started, notExpired
}

type UserCouponStatus string

const (
	UserCouponAvailable UserCouponStatus = "available"
	UserCouponReserved  UserCouponStatus = "reserved"
	UserCouponUsed      UserCouponStatus = "used"
	UserCouponExpired   UserCouponStatus = "expired"
)

// UserCoupon is one claimed coupon instance. UsedOrderID points at the reserving order while
// reserved and at the paying order once used.
type UserCoupon struct {
	BaseModel
	UserID      uuid.UUID        `gorm:"type:uuid;index:idx_user_coupon_owner;not null" json:"user_id"`
	CouponID    uuid.UUID        `gorm:"type:uuid;index:idx_user_coupon_owner;not null" json:"coupon_id"`
	Status      UserCouponStatus `gorm:"size:16;index;not null" json:"status"`
	UsedOrderID *uuid.UUID       `gorm:"type:uuid;index" json:"used_order_id,omitempty"`
	ReceivedAt  int64            `gorm:"not null" json:"received_at"`
	UsedAt      *int64           `json:"used_at,omitempty"`
	ExpiresAt   *int64           `gorm:"index" json:"expires_at,omitempty"`

	Coupon Coupon `gorm:"foreignKey:CouponID" json:"coupon"`
}

func (UserCoupon) TableName() string { return "user_coupons" }
