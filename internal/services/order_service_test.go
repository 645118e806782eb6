package services

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/pkg/utils"
)

func TestCheckoutWithCouponAndPointsThenPay(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	h.fixedCoupon("SAVE20", "2000")

	// The coupon is claimed on the user's behalf at checkout.
	order := h.checkout(user, "save20", 500)
	require.Equal(t, db_models.OrderStatusPending, order.Status)
	require.Equal(t, int64(10000), order.OriginalAmount)
	require.Equal(t, int64(2000), order.DiscountAmount)
	require.Equal(t, int64(500), order.PointsUsed)
	require.Equal(t, int64(500), order.PointsDiscount)
	require.Equal(t, int64(7500), order.FinalAmount)
	require.Equal(t, order.OriginalAmount-order.DiscountAmount-order.PointsDiscount, order.FinalAmount)
	require.NotNil(t, order.UserCouponID)
	require.NotNil(t, order.PointsLockID)
	require.Equal(t, "Go 101", order.Product.Data().Name)

	require.Equal(t, db_models.UserCouponReserved, h.userCoupon(*order.UserCouponID).Status)
	require.Equal(t, int64(500), h.balance(user).Locked)

	armed, err := h.compRepo.CountByStatus(h.ctx, db_models.CompensationArmed)
	require.NoError(t, err)
	require.Zero(t, armed)

	intent, paying := h.startPayment(user, order, gateway.MethodWechat)
	require.Equal(t, gateway.MethodWechat, intent.Method)
	require.Equal(t, db_models.OrderStatusPaying, paying.Status)
	require.NotNil(t, paying.PayingAt)

	paid := h.pay(user, order, gateway.MethodWechat)
	require.Equal(t, db_models.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.TransactionID)
	require.True(t, h.orders.CanRefund(paid))

	acct := h.balance(user)
	require.Equal(t, int64(500), acct.Balance)
	require.Zero(t, acct.Locked)
	require.Equal(t, int64(500), acct.TotalSpent)
	require.NoError(t, h.points.Verify(h.ctx, user))

	uc := h.userCoupon(*order.UserCouponID)
	require.Equal(t, db_models.UserCouponUsed, uc.Status)
	require.Equal(t, order.ID, *uc.UsedOrderID)

	require.Len(t, h.publisher.events, 1)
	event := h.publisher.events[0]
	require.Equal(t, SubjectOrderPaid, event.Subject)
	require.Equal(t, SubjectOrderPaid+":"+order.ID.String(), event.MsgID)
	require.Equal(t, user, event.Event.UserID)
	require.Equal(t, int64(7500), event.Event.Amount)

	pending, err := h.compRepo.CountByStatus(h.ctx, db_models.CompensationPending)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestCheckoutClampsPointsToRemainingAmount(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 50000)

	order := h.checkout(user, "", 20000)
	require.Equal(t, int64(10000), order.PointsUsed)
	require.Equal(t, int64(10000), order.PointsDiscount)
	require.Zero(t, order.FinalAmount)
	require.Equal(t, int64(10000), h.balance(user).Locked)
}

func TestCheckoutInsufficientPointsUnwindsCoupon(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 100)
	h.fixedCoupon("SAVE20", "2000")

	_, err := h.orders.Create(h.ctx, user, request_models.CreateOrderRequest{
		ProductType: testProductType,
		ProductID:   testProductID,
		CouponCode:  "SAVE20",
		PointsToUse: 500,
	})
	require.ErrorIs(t, err, utils.ErrInsufficientBalance)

	mine, err := h.coupons.ListMine(h.ctx, user, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, db_models.UserCouponAvailable, mine[0].Status)
	require.Nil(t, mine[0].UsedOrderID)

	require.Zero(t, h.balance(user).Locked)
	armed, err := h.compRepo.CountByStatus(h.ctx, db_models.CompensationArmed)
	require.NoError(t, err)
	require.Zero(t, armed)

	orders, total, err := h.orders.List(h.ctx, user, "", 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, orders)
}

func TestCheckoutUnknownProduct(t *testing.T) {
	h := newHarness(t)
	_, err := h.orders.Create(h.ctx, uuid.New(), request_models.CreateOrderRequest{ProductType: "course", ProductID: "nope"})
	require.ErrorIs(t, err, utils.ErrProductNotFound)
}

func TestCancelReleasesReservations(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	h.fixedCoupon("SAVE20", "2000")
	order := h.checkout(user, "SAVE20", 300)
	h.startPayment(user, order, gateway.MethodWechat)

	cancelled, err := h.orders.Cancel(h.ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, db_models.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, db_models.CancelByUser, cancelled.CancelledBy)

	require.Equal(t, db_models.UserCouponAvailable, h.userCoupon(*order.UserCouponID).Status)
	acct := h.balance(user)
	require.Equal(t, int64(1000), acct.Balance)
	require.Zero(t, acct.Locked)

	again, err := h.orders.Cancel(h.ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, db_models.OrderStatusCancelled, again.Status)

	// The trade was closed at the provider.
	trade, err := h.kit.Wechat.QueryByOutTradeNo(h.ctx, order.OrderNo)
	require.NoError(t, err)
	require.Equal(t, "CLOSED", trade.TradeState)

	require.Empty(t, h.publisher.subjects())
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	h := newHarness(t)
	owner, stranger := uuid.New(), uuid.New()
	order := h.checkout(owner, "", 0)

	_, err := h.orders.Get(h.ctx, stranger, order.ID)
	require.ErrorIs(t, err, utils.ErrOrderNotFound)
	_, err = h.orders.Cancel(h.ctx, stranger, order.ID)
	require.ErrorIs(t, err, utils.ErrOrderNotFound)
	_, _, err = h.payments.CreateIntent(h.ctx, stranger, request_models.CreatePaymentRequest{
		OrderID: order.ID.String(), Method: gateway.MethodWechat,
	}, "")
	require.ErrorIs(t, err, utils.ErrOrderNotFound)

	got, err := h.orders.Get(h.ctx, owner, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.OrderNo, got.OrderNo)
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	first := h.checkout(user, "", 0)
	h.clock.Advance(time.Second)
	h.checkout(user, "", 0)
	_, err := h.orders.Cancel(h.ctx, user, first.ID)
	require.NoError(t, err)

	all, total, err := h.orders.List(h.ctx, user, "", 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, all, 2)

	cancelled, total, err := h.orders.List(h.ctx, user, db_models.OrderStatusCancelled, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, first.ID, cancelled[0].ID)

	_, _, err = h.orders.List(h.ctx, user, "", 0, 10)
	require.ErrorIs(t, err, utils.ErrInvalidPage)
}

func TestPaymentRequiresOpenUnexpiredOrder(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	order := h.checkout(user, "", 0)
	h.startPayment(user, order, gateway.MethodWechat)
	// Re-requesting with the same method refreshes the intent.
	h.startPayment(user, order, gateway.MethodWechat)
	_, _, err := h.payments.CreateIntent(h.ctx, user, request_models.CreatePaymentRequest{
		OrderID: order.ID.String(), Method: gateway.MethodAlipay,
	}, "")
	require.ErrorIs(t, err, utils.ErrOrderStateConflict)

	late := h.checkout(user, "", 0)
	h.clock.Advance(31 * time.Minute)
	_, _, err = h.payments.CreateIntent(h.ctx, user, request_models.CreatePaymentRequest{
		OrderID: late.ID.String(), Method: gateway.MethodWechat,
	}, "")
	require.ErrorIs(t, err, utils.ErrOrderExpired)
	require.Equal(t, db_models.OrderStatusPending, h.reload(late.ID).Status)
}

func TestAmountMismatchIsFlaggedNotPaid(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	h.startPayment(user, order, gateway.MethodWechat)

	body, header, err := h.kit.WechatNotify.Build("TRANSACTION.SUCCESS", gateway.WechatTransaction{
		OutTradeNo:    order.OrderNo,
		TransactionID: "4200000001",
		TradeState:    "SUCCESS",
		Amount:        gateway.WechatAmount{Total: 1, PayerTotal: 1, Currency: "CNY"},
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusPaying, got.Status)
	require.True(t, got.ManualReview)
	require.Equal(t, ReviewAmountMismatch, got.ReviewReason)
	require.Nil(t, got.TransactionID)
	require.Empty(t, h.publisher.subjects())
}

func TestConcurrentDuplicateCallbacksPayOnce(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	order := h.checkout(user, "", 400)
	_, paying := h.startPayment(user, order, gateway.MethodWechat)
	body, header, err := h.kit.Settle(paying)
	require.NoError(t, err)

	const deliveries = 5
	var wg sync.WaitGroup
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header.Clone())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusPaid, got.Status)
	require.False(t, got.ManualReview)
	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())

	acct := h.balance(user)
	require.Equal(t, int64(600), acct.Balance)
	require.Equal(t, int64(400), acct.TotalSpent)
	require.NoError(t, h.points.Verify(h.ctx, user))
}

func TestSecondTransactionForPaidOrderIsFlagged(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)

	err := h.orders.ApplyGatewayResult(h.ctx, gateway.MethodWechat, order.OrderNo, "another-txn", order.FinalAmount, true)
	require.ErrorIs(t, err, utils.ErrOrderStateConflict)

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusPaid, got.Status)
	require.True(t, got.ManualReview)
	require.Equal(t, ReviewDuplicatePayment, got.ReviewReason)

	// Replaying the original transaction is still a no-op.
	require.NoError(t, h.orders.ApplyGatewayResult(h.ctx, gateway.MethodWechat, order.OrderNo, *order.TransactionID, order.FinalAmount, true))
}

func TestPaidAfterCancelIsFlagged(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	_, paying := h.startPayment(user, order, gateway.MethodWechat)
	_, err := h.orders.Cancel(h.ctx, user, order.ID)
	require.NoError(t, err)

	// The customer completed payment just as the trade was closed.
	body, header, err := h.kit.Settle(paying)
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusCancelled, got.Status)
	require.True(t, got.ManualReview)
	require.Equal(t, ReviewPaidAfterClose, got.ReviewReason)
	require.Empty(t, h.publisher.subjects())
}

func TestPaymentFailureReleasesReservations(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	h.fixedCoupon("SAVE20", "2000")
	order := h.checkout(user, "SAVE20", 500)
	h.startPayment(user, order, gateway.MethodWechat)

	body, header, err := h.kit.WechatNotify.Build("TRANSACTION.SUCCESS", gateway.WechatTransaction{
		OutTradeNo: order.OrderNo,
		TradeState: "PAYERROR",
		Amount:     gateway.WechatAmount{Total: order.FinalAmount, Currency: "CNY"},
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))

	require.Equal(t, db_models.OrderStatusFailed, h.reload(order.ID).Status)
	require.Equal(t, db_models.UserCouponAvailable, h.userCoupon(*order.UserCouponID).Status)
	acct := h.balance(user)
	require.Equal(t, int64(1000), acct.Balance)
	require.Zero(t, acct.Locked)
}

func TestGatewayResultForPendingOrderPassesThroughPaying(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)

	require.NoError(t, h.orders.ApplyGatewayResult(h.ctx, gateway.MethodWechat, order.OrderNo, "txn-direct", order.FinalAmount, true))

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusPaid, got.Status)
	require.Equal(t, "txn-direct", *got.TransactionID)
	require.Equal(t, gateway.MethodWechat, got.PaymentMethod)
	require.Equal(t, gateway.WechatChannelNative, got.PaymentChannel)

	// The stamped method routes the refund to the gateway that took the money.
	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusProcessing, refund.Status)
	for range 3 {
		h.clock.Advance(2 * time.Minute)
		require.NoError(t, h.sweeper.Sweep(h.ctx))
	}
	body, header, err := h.kit.WechatNotify.Build("REFUND.SUCCESS", gateway.WechatRefund{
		OutTradeNo:  order.OrderNo,
		OutRefundNo: refund.RefundNo,
		RefundID:    *h.refund(refund.RefundNo).RefundID,
		Status:      "SUCCESS",
		Amount:      gateway.WechatAmount{Refund: order.FinalAmount, Total: order.FinalAmount},
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))
	require.Equal(t, db_models.OrderStatusRefunded, h.reload(order.ID).Status)
	require.Equal(t, db_models.RefundStatusSuccess, h.refund(refund.RefundNo).Status)

	err = h.orders.ApplyGatewayResult(h.ctx, gateway.MethodWechat, "NO-SUCH-ORDER", "txn", 1, true)
	require.ErrorIs(t, err, utils.ErrOrderNotFound)
}

func TestRefundWithoutGatewayFailsAndFlags(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)

	// A result with no method leaves nothing to route the refund to.
	require.NoError(t, h.orders.ApplyGatewayResult(h.ctx, "", order.OrderNo, "txn-unknown", order.FinalAmount, true))
	require.Empty(t, h.reload(order.ID).PaymentMethod)

	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusFailed, refund.Status)

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusRefunding, got.Status)
	require.True(t, got.ManualReview)
	require.Equal(t, ReviewRefundFailed, got.ReviewReason)

	err = h.orders.ResubmitRefund(h.ctx, refund)
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)

	h.clock.Advance(time.Hour)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Zero(t, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("refund_resubmitted")))
}

func TestFreeOrderPaysAndRefundsWithoutGateway(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.fixedCoupon("FREEGO", "10000")
	order := h.checkout(user, "FREEGO", 0)
	require.Zero(t, order.FinalAmount)

	intent, paid := h.startPayment(user, order, gateway.MethodWechat)
	require.Equal(t, gateway.MethodFree, intent.Method)
	require.Equal(t, db_models.OrderStatusPaid, paid.Status)
	require.Equal(t, "FREE-"+order.OrderNo, *paid.TransactionID)
	require.Equal(t, db_models.UserCouponUsed, h.userCoupon(*order.UserCouponID).Status)

	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusSuccess, refund.Status)
	require.Equal(t, db_models.OrderStatusRefunded, h.reload(order.ID).Status)
	require.Equal(t, []string{SubjectOrderPaid, SubjectOrderRefunded}, h.publisher.subjects())
}

func TestRefundSettlesOnNotification(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	order := h.pay(user, h.checkout(user, "", 500), gateway.MethodWechat)
	require.Equal(t, int64(500), h.balance(user).Balance)

	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "duplicate purchase")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusProcessing, refund.Status)
	require.Equal(t, order.FinalAmount, refund.Amount)
	require.Equal(t, db_models.OrderStatusRefunding, h.reload(order.ID).Status)
	require.False(t, h.orders.CanRefund(h.reload(order.ID)))

	_, err = h.orders.RequestRefund(h.ctx, user, order.ID, "again")
	require.ErrorIs(t, err, utils.ErrRefundNotAllowed)

	body, header, err := h.kit.WechatNotify.Build("REFUND.SUCCESS", gateway.WechatRefund{
		OutTradeNo:  order.OrderNo,
		OutRefundNo: refund.RefundNo,
		RefundID:    *refund.RefundID,
		Status:      "SUCCESS",
		Amount:      gateway.WechatAmount{Refund: refund.Amount, Total: order.FinalAmount, Currency: "CNY"},
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))
	// A late duplicate changes nothing.
	require.NoError(t, h.orders.ApplyRefundResult(h.ctx, refund.RefundNo, *refund.RefundID, true))

	require.Equal(t, db_models.OrderStatusRefunded, h.reload(order.ID).Status)
	refunds, err := h.orders.Refunds(h.ctx, user, order.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	require.Equal(t, db_models.RefundStatusSuccess, refunds[0].Status)
	require.NotNil(t, refunds[0].ResolvedAt)

	acct := h.balance(user)
	require.Equal(t, int64(1000), acct.Balance)
	require.NoError(t, h.points.Verify(h.ctx, user))
	require.Equal(t, []string{SubjectOrderPaid, SubjectOrderRefunded}, h.publisher.subjects())
}

func TestRefundRejectedByProviderIsFlagged(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)
	h.kit.Wechat.RefundStatus = "ABNORMAL"

	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusFailed, refund.Status)

	got := h.reload(order.ID)
	require.Equal(t, db_models.OrderStatusRefunding, got.Status)
	require.True(t, got.ManualReview)
	require.Equal(t, ReviewRefundFailed, got.ReviewReason)
	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())
}

func TestRefundNotAllowed(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	pending := h.checkout(user, "", 0)
	_, err := h.orders.RequestRefund(h.ctx, user, pending.ID, "")
	require.ErrorIs(t, err, utils.ErrRefundNotAllowed)

	paid := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)
	h.clock.Advance(8 * 24 * time.Hour)
	require.False(t, h.orders.CanRefund(paid))
	_, err = h.orders.RequestRefund(h.ctx, user, paid.ID, "")
	require.ErrorIs(t, err, utils.ErrRefundNotAllowed)

	_, err = h.orders.RequestRefund(h.ctx, uuid.New(), paid.ID, "")
	require.ErrorIs(t, err, utils.ErrOrderNotFound)
}
