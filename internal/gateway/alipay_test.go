package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"skillmart/pkg/utils"
)

func newAlipayFixture(t *testing.T) (*AlipayGateway, *SandboxAlipayClient, *rsa.PrivateKey) {
	t.Helper()
	platform, err := NewSandboxPlatform()
	require.NoError(t, err)
	decoder, err := platform.AlipayDecoder("2021000000000000")
	require.NoError(t, err)
	client := NewSandboxAlipayClient()
	gw := NewAlipayGateway(client, decoder, AlipayOptions{
		AppID: "2021000000000000", NotifyURL: "https://example.com/payment/notify/alipay",
	})
	return gw, client, platform.Key
}

func TestAlipayNotifyIgnoresEmptyParamsWhenSigning(t *testing.T) {
	gw, _, key := newAlipayFixture(t)
	body, err := SignAlipayNotify(key, url.Values{
		"app_id": {"2021000000000000"}, "out_trade_no": {"1"}, "trade_no": {"t"},
		"total_amount": {"75.00"}, "trade_status": {"TRADE_SUCCESS"}, "buyer_id": {""},
	})
	require.NoError(t, err)

	n, err := gw.ParseNotify(context.Background(), body, nil)
	require.NoError(t, err)
	require.True(t, n.Success)
}

func TestAlipayParsePaymentNotify(t *testing.T) {
	gw, _, key := newAlipayFixture(t)
	body, err := SignAlipayNotify(key, url.Values{
		"app_id":       {"2021000000000000"},
		"notify_type":  {"trade_status_sync"},
		"out_trade_no": {"202610151600001234"},
		"trade_no":     {"2026101522001"},
		"total_amount": {"75.00"},
		"trade_status": {"TRADE_SUCCESS"},
	})
	require.NoError(t, err)

	n, err := gw.ParseNotify(context.Background(), body, http.Header{})
	require.NoError(t, err)
	require.Equal(t, KindPayment, n.Kind)
	require.True(t, n.Success)
	require.Equal(t, int64(7500), n.Amount)
	require.Equal(t, "2026101522001", n.TransactionID)
}

func TestAlipayParseNotifyVariants(t *testing.T) {
	gw, _, key := newAlipayFixture(t)
	ctx := context.Background()

	body, err := SignAlipayNotify(key, url.Values{
		"app_id": {"2021000000000000"}, "out_trade_no": {"1"}, "trade_no": {"t"},
		"total_amount": {"75.00"}, "trade_status": {"WAIT_BUYER_PAY"},
	})
	require.NoError(t, err)
	n, err := gw.ParseNotify(ctx, body, nil)
	require.NoError(t, err)
	require.Equal(t, KindIgnored, n.Kind)

	body, err = SignAlipayNotify(key, url.Values{
		"app_id": {"2021000000000000"}, "out_trade_no": {"1"}, "trade_no": {"t"},
		"total_amount": {"75.00"}, "trade_status": {"TRADE_CLOSED"},
		"out_biz_no": {"R1"}, "refund_fee": {"75.00"},
	})
	require.NoError(t, err)
	n, err = gw.ParseNotify(ctx, body, nil)
	require.NoError(t, err)
	require.Equal(t, KindRefund, n.Kind)
	require.Equal(t, "R1", n.RefundNo)
	require.Equal(t, "t:R1", n.RefundID)

	body, err = SignAlipayNotify(key, url.Values{
		"app_id": {"someone-else"}, "out_trade_no": {"1"}, "trade_status": {"TRADE_SUCCESS"},
		"total_amount": {"75.00"},
	})
	require.NoError(t, err)
	_, err = gw.ParseNotify(ctx, body, nil)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)
}

func TestAlipayRejectsForgedSignature(t *testing.T) {
	gw, _, _ := newAlipayFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	body, err := SignAlipayNotify(other, url.Values{
		"app_id": {"2021000000000000"}, "out_trade_no": {"1"}, "trade_no": {"t"},
		"total_amount": {"75.00"}, "trade_status": {"TRADE_SUCCESS"},
	})
	require.NoError(t, err)
	_, err = gw.ParseNotify(context.Background(), body, nil)
	require.ErrorIs(t, err, utils.ErrSignatureInvalid)
}

func TestAlipayIntentQueryRefund(t *testing.T) {
	gw, client, _ := newAlipayFixture(t)
	ctx := context.Background()
	order := newTestOrder("202610151600001234", 7500, time.Now().Add(time.Hour).Unix())

	intent, err := gw.CreateIntent(ctx, order, AlipayChannelPage, IntentOptions{})
	require.NoError(t, err)
	require.Contains(t, intent.PayURL, "total_amount=75.00")

	_, err = gw.CreateIntent(ctx, order, "app", IntentOptions{})
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)

	_, err = client.MarkPaid(order.OrderNo)
	require.NoError(t, err)
	res, err := gw.Query(ctx, order)
	require.NoError(t, err)
	require.True(t, res.Paid)
	require.Equal(t, int64(7500), res.Amount)
}

func TestRegistry(t *testing.T) {
	gw, _, _ := newAlipayFixture(t)
	reg := NewRegistry(gw, nil)

	got, err := reg.Get(MethodAlipay)
	require.NoError(t, err)
	require.Equal(t, MethodAlipay, got.Method())

	_, err = reg.Get("paypal")
	require.ErrorIs(t, err, utils.ErrUnsupportedMethod)
	require.Equal(t, []string{MethodAlipay}, reg.Methods())
}
