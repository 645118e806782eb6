package utils

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NewOrderNo builds an 18-digit order number: yyyyMMddHHmmss followed by four random digits.
// It stays below 2^63 so gateways that take numeric order codes (PayOS) can use it verbatim.
func NewOrderNo(now time.Time) string {
	return fmt.Sprintf("%s%04d", OrderNoTimestamp(now), rand.IntN(10000))
}

// NewRefundNo builds a refund number in the same shape with an "R" prefix.
func NewRefundNo(now time.Time) string {
	return "R" + NewOrderNo(now)
}
