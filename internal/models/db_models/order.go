package db_models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaying    OrderStatus = "paying"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunding OrderStatus = "refunding"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// orderTransitions is the complete order state machine; anything absent is illegal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaying, OrderStatusCancelled},
	OrderStatusPaying:    {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusRefunding},
	OrderStatusRefunding: {OrderStatusRefunded},
}

// CanTransition reports whether from -> to is a legal order transition.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates lists the states directly reachable from s.
func NextStates(s OrderStatus) []OrderStatus {
	return append([]OrderStatus(nil), orderTransitions[s]...)
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// IsOpen is true while the order still holds a points lock or coupon reservation.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusPaying
}

type CancelActor string

const (
	CancelByUser   CancelActor = "user"
	CancelBySystem CancelActor = "system"
)

// ProductSnapshot freezes what was bought at checkout time.
type ProductSnapshot struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// IntentSnapshot is the last payment intent handed to the client.
type IntentSnapshot struct {
	Method    string `json:"method"`
	Channel   string `json:"channel"`
	CodeURL   string `json:"code_url,omitempty"`
	PrepayID  string `json:"prepay_id,omitempty"`
	H5URL     string `json:"h5_url,omitempty"`
	PayURL    string `json:"pay_url,omitempty"`
	Form      string `json:"form,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type Order struct {
	BaseModel
	OrderNo        string                              `gorm:"size:32;uniqueIndex;not null" json:"order_no"`
	UserID         uuid.UUID                           `gorm:"type:uuid;index;not null" json:"user_id"`
	Product        datatypes.JSONType[ProductSnapshot] `json:"product"`
	OriginalAmount int64                               `gorm:"not null" json:"original_amount"`
	DiscountAmount int64                               `gorm:"not null;default:0" json:"discount_amount"`
	PointsUsed     int64                               `gorm:"not null;default:0" json:"points_used"`
	PointsDiscount int64                               `gorm:"not null;default:0" json:"points_discount"`
	FinalAmount    int64                               `gorm:"not null" json:"final_amount"`
	CouponID       *uuid.UUID                          `gorm:"type:uuid" json:"coupon_id,omitempty"`
	UserCouponID   *uuid.UUID                          `gorm:"type:uuid" json:"user_coupon_id,omitempty"`
	PointsLockID   *uuid.UUID                          `gorm:"type:uuid" json:"points_lock_id,omitempty"`
	PaymentMethod  string                              `gorm:"size:16" json:"payment_method,omitempty"`
	PaymentChannel string                              `gorm:"size:16" json:"payment_channel,omitempty"`
	Intent         datatypes.JSONType[IntentSnapshot]  `json:"-"`
	// TransactionID is the gateway's dedup key; unique once set.
	TransactionID *string     `gorm:"size:64;uniqueIndex" json:"transaction_id,omitempty"`
	Status        OrderStatus `gorm:"size:16;index:idx_orders_status_expires;not null" json:"status"`
	PaidAt        *int64      `json:"paid_at,omitempty"`
	ExpiresAt     int64       `gorm:"index:idx_orders_status_expires;not null" json:"expires_at"`
	PayingAt      *int64      `json:"paying_at,omitempty"`
	CancelledAt   *int64      `json:"cancelled_at,omitempty"`
	CancelledBy   CancelActor `gorm:"size:16" json:"cancelled_by,omitempty"`
	ManualReview  bool        `gorm:"not null;default:false;index" json:"manual_review"`
	ReviewReason  string      `gorm:"size:255" json:"review_reason,omitempty"`
}

func (Order) TableName() string { return "orders" }

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusSuccess    RefundStatus = "success"
	RefundStatusFailed     RefundStatus = "failed"
)

func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusSuccess || s == RefundStatusFailed
}

type Refund struct {
	BaseModel
	RefundNo   string       `gorm:"size:32;uniqueIndex;not null" json:"refund_no"`
	OrderID    uuid.UUID    `gorm:"type:uuid;index;not null" json:"order_id"`
	Amount     int64        `gorm:"not null" json:"amount"`
	Reason     string       `gorm:"size:255" json:"reason"`
	Status     RefundStatus `gorm:"size:16;index;not null" json:"status"`
	RefundID   *string      `gorm:"size:64;uniqueIndex" json:"refund_id,omitempty"`
	ResolvedAt *int64       `json:"resolved_at,omitempty"`
}

func (Refund) TableName() string { return "refunds" }
