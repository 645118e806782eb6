package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

func TestSimulatePaidRunsNotifyPath(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)

	_, err := h.payments.SimulatePaid(h.ctx, order.ID)
	require.ErrorIs(t, err, utils.ErrOrderStateConflict)

	h.startPayment(user, order, gateway.MethodWechat)
	paid, err := h.payments.SimulatePaid(h.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, db_models.OrderStatusPaid, paid.Status)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(gateway.MethodWechat, "applied")))

	_, err = h.payments.SimulatePaid(h.ctx, uuid.New())
	require.ErrorIs(t, err, utils.ErrOrderNotFound)
}

func TestSimulatePaidNeedsSandbox(t *testing.T) {
	h := newHarness(t)
	live := NewPaymentService(gateway.NewRegistry(), h.orders, h.store, nil, h.metrics, zap.NewNop())
	_, err := live.SimulatePaid(h.ctx, uuid.New())
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)
}

func TestNotifyReplayIsDeduplicated(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	_, paying := h.startPayment(user, order, gateway.MethodWechat)
	body, header, err := h.kit.Settle(paying)
	require.NoError(t, err)

	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(gateway.MethodWechat, "applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(gateway.MethodWechat, "duplicate")))
	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())
}

func TestNotifyRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	_, paying := h.startPayment(user, order, gateway.MethodWechat)
	body, header, err := h.kit.Settle(paying)
	require.NoError(t, err)

	forged := header.Clone()
	forged.Set("Wechatpay-Signature", "Zm9yZ2Vk")
	err = h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, forged)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01
	err = h.payments.HandleNotify(h.ctx, gateway.MethodWechat, tampered, header)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)

	require.Equal(t, db_models.OrderStatusPaying, h.reload(order.ID).Status)
	require.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(gateway.MethodWechat, "rejected")))

	// The genuine notification still goes through afterwards.
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))
	require.Equal(t, db_models.OrderStatusPaid, h.reload(order.ID).Status)
}

func TestNotifyForUnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	body, header, err := h.kit.WechatNotify.Build("TRANSACTION.SUCCESS", gateway.WechatTransaction{
		OutTradeNo:    "20261015000000UNKNOWN",
		TransactionID: "4200000009",
		TradeState:    "SUCCESS",
		Amount:        gateway.WechatAmount{Total: 100, PayerTotal: 100, Currency: "CNY"},
	})
	require.NoError(t, err)
	require.NoError(t, h.payments.HandleNotify(h.ctx, gateway.MethodWechat, body, header))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Callbacks.WithLabelValues(gateway.MethodWechat, "unknown")))
}

func TestNotifyUnsupportedMethod(t *testing.T) {
	h := newHarness(t)
	err := h.payments.HandleNotify(h.ctx, "paypal", []byte("{}"), nil)
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)
}

func TestAlipayPayAndRefund(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)
	order := h.checkout(user, "", 250)
	require.Equal(t, int64(9750), order.FinalAmount)

	intent, _ := h.startPayment(user, order, gateway.MethodAlipay)
	require.Equal(t, gateway.MethodAlipay, intent.Method)

	paid := h.pay(user, order, gateway.MethodAlipay)
	require.Equal(t, db_models.OrderStatusPaid, paid.Status)
	require.Equal(t, "2026"+order.OrderNo, *paid.TransactionID)
	require.Equal(t, int64(750), h.balance(user).Balance)

	// Alipay settles refunds synchronously.
	refund, err := h.orders.RequestRefund(h.ctx, user, order.ID, "")
	require.NoError(t, err)
	require.Equal(t, db_models.RefundStatusSuccess, refund.Status)
	require.Equal(t, db_models.OrderStatusRefunded, h.reload(order.ID).Status)
	require.Equal(t, int64(1000), h.balance(user).Balance)
	require.NoError(t, h.points.Verify(h.ctx, user))
}

func TestStatusReconcilesMissedNotification(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	order := h.checkout(user, "", 0)
	h.startPayment(user, order, gateway.MethodWechat)

	got, err := h.payments.Status(h.ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, db_models.OrderStatusPaying, got.Status)

	_, err = h.kit.Wechat.MarkPaid(order.OrderNo)
	require.NoError(t, err)

	got, err = h.payments.Status(h.ctx, user, order.ID)
	require.NoError(t, err)
	require.Equal(t, db_models.OrderStatusPaid, got.Status)
	require.Equal(t, []string{SubjectOrderPaid}, h.publisher.subjects())
}
