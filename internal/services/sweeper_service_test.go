package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
)

func TestSweepReconcilesLostCallback(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	h.startPayment(user, order, gateway.MethodWechat)
	_, err := h.kit.Wechat.MarkPaid(order.OrderNo)
	require.NoError(t, err)

	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusPaying, h.reload(order.ID).Status, "inside the paying grace period")

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusPaid, h.reload(order.ID).Status)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("paying_reconciled")))
	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())
}

func TestSweepExpiresOpenOrders(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	h.fixedCoupon("SAVE20", "2000")
	pending := h.checkout(user, "SAVE20", 300)
	paying := h.checkout(user, "", 0)
	h.startPayment(user, paying, gateway.MethodWechat)

	h.clock.Advance(31 * time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))

	got := h.reload(pending.ID)
	require.Equal(t, db_models.OrderStatusCancelled, got.Status)
	require.Equal(t, db_models.CancelBySystem, got.CancelledBy)
	require.Equal(t, db_models.UserCouponAvailable, h.userCoupon(*pending.UserCouponID).Status)
	require.Zero(t, h.balance(user).Locked)

	require.Equal(t, db_models.OrderStatusCancelled, h.reload(paying.ID).Status)
	trade, err := h.kit.Wechat.QueryByOutTradeNo(h.ctx, paying.OrderNo)
	require.NoError(t, err)
	require.Equal(t, "CLOSED", trade.TradeState)
}

func TestSweepExpiryPrefersLandedPayment(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	h.startPayment(user, order, gateway.MethodWechat)
	h.clock.Advance(31 * time.Minute)
	_, err := h.kit.Wechat.MarkPaid(order.OrderNo)
	require.NoError(t, err)

	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusPaid, h.reload(order.ID).Status)
}

func TestSweepSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	h.clock.Advance(31 * time.Minute)

	_, ok, err := h.store.Acquire(h.ctx, sweeperLeaseKey, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusPending, h.reload(order.ID).Status)
}

func TestSweepResubmitsStuckRefund(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)

	h.kit.Wechat.Err = errors.New("connection reset by peer")
	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusPending, refund.Status)

	h.kit.Wechat.Err = nil
	h.kit.Wechat.RefundStatus = "SUCCESS"
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusRefunding, h.reload(order.ID).Status, "inside the settle delay")

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, db_models.OrderStatusRefunded, h.reload(order.ID).Status)
	require.Equal(t, []string{SubjectOrderPaid, SubjectOrderRefunded}, h.publisher.subjects())
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("refund_resubmitted")))
}

func TestSweepDoesNotCountFailedRefundResubmit(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)

	h.kit.Wechat.Err = errors.New("connection reset by peer")
	_, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Zero(t, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("refund_resubmitted")))
	require.Equal(t, db_models.OrderStatusRefunding, h.reload(order.ID).Status)
}

func TestSweepRechecksProcessingRefundOnlyAfterInterval(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)

	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusProcessing, refund.Status)

	resubmitted := func() float64 {
		return testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("refund_resubmitted"))
	}
	for range 5 {
		h.clock.Advance(time.Minute)
		require.NoError(t, h.sweeper.Sweep(h.ctx))
	}
	require.Zero(t, resubmitted(), "the provider accepted it; wait for the callback")

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, 1.0, resubmitted())
	touched := h.refund(refund.RefundNo).UpdatedAt
	require.Equal(t, h.clock.Now().Unix(), touched)

	// The recheck restarts the wait.
	h.clock.Advance(time.Minute)
	require.NoError(t, h.sweeper.Sweep(h.ctx))
	require.Equal(t, 1.0, resubmitted())
	require.Equal(t, db_models.RefundStatusProcessing, h.refund(refund.RefundNo).Status)
}

func TestSweepReplaysCompensationsAndExpiresCoupons(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	until := h.clock.Now().Add(time.Hour).Unix()
	h.createCoupon(requestCoupon("HOUR", "100", &until))
	uc, err := h.coupons.Claim(h.ctx, uuid.New(), "HOUR")
	require.NoError(t, err)

	h.publisher.fail(errors.New("nats: timeout"))
	h.pay(user, h.checkout(user, "", 0), gateway.MethodWechat)
	h.publisher.fail(nil)

	h.clock.Advance(2 * time.Hour)
	require.NoError(t, h.sweeper.Sweep(h.ctx))

	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())
	require.Equal(t, db_models.UserCouponExpired, h.userCoupon(uc.ID).Status)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("compensation_replayed")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SweeperActions.WithLabelValues("coupon_expired")))
}

func TestSweeperStartStop(t *testing.T) {
	h := newHarness(t)
	h.sweeper.Start()
	h.sweeper.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sweeper.Stop(ctx))
	require.NoError(t, h.sweeper.Stop(ctx))
}
