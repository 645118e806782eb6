package utils

import "errors"

var (
	ErrInvalidPage     = errors.New("invalid page parameter")
	ErrInvalidPageSize = errors.New("invalid page size parameter")
	ErrDatabaseError   = errors.New("database error")
	ErrInvalidAmount   = errors.New("amount must be greater than 0")
	ErrForbidden       = errors.New("forbidden")

	// Points ledger
	ErrAccountNotFound     = errors.New("points account not found")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrLockNotFound        = errors.New("points lock not found")
	ErrLockAlreadyResolved = errors.New("points lock already resolved")
	ErrDuplicateReference  = errors.New("reference already recorded for source")
	ErrDailyCapExceeded    = errors.New("daily earn cap reached for source")

	// Coupon vault
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponExpired        = errors.New("coupon expired")
	ErrCouponNotStarted     = errors.New("coupon not yet valid")
	ErrCouponExhausted      = errors.New("coupon redemptions exhausted")
	ErrCouponInactive       = errors.New("coupon inactive")
	ErrCouponAlreadyClaimed = errors.New("coupon claim limit reached for user")
	ErrCouponNotApplicable  = errors.New("coupon not applicable to product")
	ErrCouponMinimumNotMet  = errors.New("order amount below coupon minimum")
	ErrCouponNotClaimed     = errors.New("coupon not claimed by user")
	ErrCouponUnavailable    = errors.New("coupon instance not available")
	ErrCouponCodeTaken      = errors.New("coupon code already exists")

	// Orders
	ErrProductNotFound    = errors.New("product not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderStateConflict = errors.New("order state conflict")
	ErrOrderExpired       = errors.New("order expired")
	ErrRefundNotAllowed   = errors.New("order cannot be refunded")
	ErrRefundNotFound     = errors.New("refund not found")

	// Payment gateway
	ErrPaymentAmountMismatch = errors.New("payment amount mismatch")
	ErrSignatureInvalid      = errors.New("gateway signature invalid")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrUnsupportedMethod     = errors.New("unsupported payment method or channel")
)
