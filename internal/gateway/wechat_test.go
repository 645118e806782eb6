package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

var testAPIv3Key = []byte("0123456789abcdef0123456789abcdef")

func newTestOrder(orderNo string, amount int64, expiresAt int64) *db_models.Order {
	return &db_models.Order{
		OrderNo:     orderNo,
		FinalAmount: amount,
		ExpiresAt:   expiresAt,
		Product: datatypes.NewJSONType(db_models.ProductSnapshot{
			Type: "course", ID: "go-101", Name: "Go 101", Price: amount,
		}),
	}
}

// newWechatFixture builds notifications stamped with the wall clock, which the notify verifier
// checks Wechatpay-Timestamp against.
func newWechatFixture(t *testing.T) (*WechatGateway, *SandboxWechatClient, WechatNotifyBuilder, *utils.FakeClock) {
	t.Helper()
	platform, err := NewSandboxPlatform()
	require.NoError(t, err)
	clock := utils.NewFakeClock(time.Now())
	client := NewSandboxWechatClient()
	gw := NewWechatGateway(client, NewWechatNotifyHandler(string(testAPIv3Key), platform.Cert), WechatOptions{
		AppID: "wxapp", MchID: "1900000001", NotifyURL: "https://example.com/payment/notify/wechat",
	})
	builder := WechatNotifyBuilder{Key: platform.Key, Serial: platform.Serial(), APIv3Key: testAPIv3Key, Clock: clock}
	return gw, client, builder, clock
}

func TestWechatCreateIntentPerChannel(t *testing.T) {
	gw, _, _, clock := newWechatFixture(t)
	order := newTestOrder("202610151600001234", 7500, clock.Now().Add(30*time.Minute).Unix())
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, order, WechatChannelNative, IntentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, intent.CodeURL)
	require.Empty(t, intent.PrepayID)

	intent, err = gw.CreateIntent(ctx, order, WechatChannelJSAPI, IntentOptions{OpenID: "o-user"})
	require.NoError(t, err)
	require.NotEmpty(t, intent.PrepayID)

	intent, err = gw.CreateIntent(ctx, order, WechatChannelH5, IntentOptions{ClientIP: "1.2.3.4"})
	require.NoError(t, err)
	require.NotEmpty(t, intent.H5URL)

	_, err = gw.CreateIntent(ctx, order, WechatChannelJSAPI, IntentOptions{})
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)

	_, err = gw.CreateIntent(ctx, order, "app", IntentOptions{})
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)
}

func TestWechatCreateIntentClientFailure(t *testing.T) {
	gw, client, _, clock := newWechatFixture(t)
	client.Err = context.DeadlineExceeded
	order := newTestOrder("202610151600001234", 7500, clock.Now().Unix())

	_, err := gw.CreateIntent(context.Background(), order, WechatChannelNative, IntentOptions{})
	require.ErrorIs(t, err, utils.ErrGatewayUnavailable)
}

func TestWechatParsePaymentNotify(t *testing.T) {
	gw, _, builder, _ := newWechatFixture(t)
	body, header, err := builder.Build("TRANSACTION.SUCCESS", WechatTransaction{
		OutTradeNo:    "202610151600001234",
		TransactionID: "4200000001",
		TradeState:    "SUCCESS",
		Amount:        WechatAmount{Total: 7500},
	})
	require.NoError(t, err)

	n, err := gw.ParseNotify(context.Background(), body, header)
	require.NoError(t, err)
	require.Equal(t, KindPayment, n.Kind)
	require.True(t, n.Success)
	require.Equal(t, "202610151600001234", n.OrderNo)
	require.Equal(t, "4200000001", n.TransactionID)
	require.Equal(t, int64(7500), n.Amount)
	require.NotEmpty(t, n.EventID)
}

func TestWechatParseRefundNotify(t *testing.T) {
	gw, _, builder, _ := newWechatFixture(t)
	body, header, err := builder.Build("REFUND.ABNORMAL", WechatRefund{
		OutTradeNo:  "202610151600001234",
		OutRefundNo: "R202610151600005678",
		RefundID:    "50000001",
		Amount:      WechatAmount{Refund: 7500, Total: 7500},
	})
	require.NoError(t, err)

	n, err := gw.ParseNotify(context.Background(), body, header)
	require.NoError(t, err)
	require.Equal(t, KindRefund, n.Kind)
	require.False(t, n.Success)
	require.Equal(t, "R202610151600005678", n.RefundNo)
	require.Equal(t, "50000001", n.RefundID)
}

func TestWechatRejectsTamperedOrStaleNotify(t *testing.T) {
	gw, _, builder, clock := newWechatFixture(t)
	body, header, err := builder.Build("TRANSACTION.SUCCESS", WechatTransaction{
		OutTradeNo: "202610151600001234", TransactionID: "4200000001", TradeState: "SUCCESS",
		Amount: WechatAmount{Total: 7500},
	})
	require.NoError(t, err)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = ' '
	_, err = gw.ParseNotify(context.Background(), tampered, header)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)

	noSig := header.Clone()
	noSig.Del("Wechatpay-Signature")
	_, err = gw.ParseNotify(context.Background(), body, noSig)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)

	stale := builder
	stale.Clock = utils.NewFakeClock(clock.Now().Add(-10 * time.Minute))
	body, header, err = stale.Build("TRANSACTION.SUCCESS", WechatTransaction{
		OutTradeNo: "202610151600001234", TransactionID: "4200000001", TradeState: "SUCCESS",
		Amount: WechatAmount{Total: 7500},
	})
	require.NoError(t, err)
	_, err = gw.ParseNotify(context.Background(), body, header)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)
}

func TestWechatRejectsNotifyFromUnknownPlatformKey(t *testing.T) {
	gw, _, builder, _ := newWechatFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	builder.Key = other

	body, header, err := builder.Build("TRANSACTION.SUCCESS", WechatTransaction{
		OutTradeNo: "202610151600001234", TransactionID: "4200000001", TradeState: "SUCCESS",
		Amount: WechatAmount{Total: 7500},
	})
	require.NoError(t, err)
	_, err = gw.ParseNotify(context.Background(), body, header)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)
}

func TestWechatQueryAndRefund(t *testing.T) {
	gw, client, _, clock := newWechatFixture(t)
	ctx := context.Background()
	order := newTestOrder("202610151600001234", 7500, clock.Now().Unix())

	_, err := gw.CreateIntent(ctx, order, WechatChannelNative, IntentOptions{})
	require.NoError(t, err)

	res, err := gw.Query(ctx, order)
	require.NoError(t, err)
	require.False(t, res.Paid)

	txnID, err := client.MarkPaid(order.OrderNo)
	require.NoError(t, err)
	res, err = gw.Query(ctx, order)
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Equal(t, txnID, res.TransactionID)
	require.Equal(t, int64(7500), res.Amount)

	refund := &db_models.Refund{RefundNo: "R202610151600005678", Amount: 7500, Reason: "changed mind"}
	out, err := gw.Refund(ctx, order, refund)
	require.NoError(t, err)
	require.Equal(t, RefundProcessing, out.Outcome)
	require.NotEmpty(t, out.RefundID)
}
