package gateway

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/smartwalle/alipay/v3"
)

// NewAlipaySDK builds the OpenAPI client from the app private key and the Alipay public key,
// both PEM. The same client signs requests and verifies notifications.
func NewAlipaySDK(appID string, appKeyPEM, alipayPublicKeyPEM []byte, production bool) (*alipay.Client, error) {
	appKey, err := pemBody(appKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("alipay app key: %w", err)
	}
	client, err := alipay.New(appID, appKey, production)
	if err != nil {
		return nil, fmt.Errorf("alipay client: %w", err)
	}
	publicKey, err := pemBody(alipayPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	if err := client.LoadAliPayPublicKey(publicKey); err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	return client, nil
}

// pemBody returns the base64 body of the first PEM block, the form the Alipay console hands out.
func pemBody(data []byte) (string, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return "", errors.New("no PEM block found")
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}

// AlipaySDKClient is the live AlipayClient.
type AlipaySDKClient struct {
	client *alipay.Client
}

func NewAlipaySDKClient(client *alipay.Client) *AlipaySDKClient {
	return &AlipaySDKClient{client: client}
}

func (c *AlipaySDKClient) PayURL(ctx context.Context, req AlipayTradeRequest) (string, error) {
	trade := alipay.Trade{
		NotifyURL:   req.NotifyURL,
		ReturnURL:   req.ReturnURL,
		Subject:     req.Subject,
		OutTradeNo:  req.OutTradeNo,
		TotalAmount: req.TotalAmount,
	}
	if req.Channel == AlipayChannelWap {
		trade.ProductCode = "QUICK_WAP_WAY"
		u, err := c.client.TradeWapPay(alipay.TradeWapPay{Trade: trade})
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}
	trade.ProductCode = "FAST_INSTANT_TRADE_PAY"
	u, err := c.client.TradePagePay(alipay.TradePagePay{Trade: trade})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *AlipaySDKClient) Query(ctx context.Context, outTradeNo string) (*AlipayTrade, error) {
	rsp, err := c.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: outTradeNo})
	if err != nil {
		return nil, err
	}
	if rsp.Code != alipay.CodeSuccess {
		return nil, fmt.Errorf("alipay trade.query: %s %s (%s)", rsp.Code, rsp.SubCode, rsp.SubMsg)
	}
	return &AlipayTrade{
		OutTradeNo:  rsp.OutTradeNo,
		TradeNo:     rsp.TradeNo,
		TradeStatus: string(rsp.TradeStatus),
		TotalAmount: rsp.TotalAmount,
	}, nil
}

func (c *AlipaySDKClient) Refund(ctx context.Context, outTradeNo, outRequestNo, amount, reason string) (*AlipayRefund, error) {
	rsp, err := c.client.TradeRefund(ctx, alipay.TradeRefund{
		OutTradeNo:   outTradeNo,
		OutRequestNo: outRequestNo,
		RefundAmount: amount,
		RefundReason: reason,
	})
	if err != nil {
		return nil, err
	}
	if rsp.Code != alipay.CodeSuccess {
		return nil, fmt.Errorf("alipay trade.refund: %s %s (%s)", rsp.Code, rsp.SubCode, rsp.SubMsg)
	}
	return &AlipayRefund{
		OutTradeNo:   rsp.OutTradeNo,
		TradeNo:      rsp.TradeNo,
		OutRequestNo: outRequestNo,
		FundChange:   rsp.FundChange,
		RefundFee:    rsp.RefundFee,
	}, nil
}

func (c *AlipaySDKClient) Close(ctx context.Context, outTradeNo string) error {
	rsp, err := c.client.TradeClose(ctx, alipay.TradeClose{OutTradeNo: outTradeNo})
	if err != nil {
		return err
	}
	if rsp.Code != alipay.CodeSuccess {
		return fmt.Errorf("alipay trade.close: %s %s (%s)", rsp.Code, rsp.SubCode, rsp.SubMsg)
	}
	return nil
}
