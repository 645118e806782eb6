package gateway

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/h5"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/jsapi"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	"skillmart/pkg/utils"
)

const currencyCNY = "CNY"

// WechatSDKClient is the live WechatClient. Request signing and response verification happen
// inside the wechatpay-go core client.
type WechatSDKClient struct {
	mchID  string
	native native.NativeApiService
	jsapi  jsapi.JsapiApiService
	h5     h5.H5ApiService
	refund refunddomestic.RefundsApiService
}

func NewWechatSDKClient(ctx context.Context, mchID, serialNo string, key *rsa.PrivateKey, platformCerts []*x509.Certificate) (*WechatSDKClient, error) {
	client, err := core.NewClient(ctx,
		option.WithMerchantCredential(mchID, serialNo, key),
		option.WithWechatPayCertificate(platformCerts),
	)
	if err != nil {
		return nil, fmt.Errorf("wechatpay client: %w", err)
	}
	return &WechatSDKClient{
		mchID:  mchID,
		native: native.NativeApiService{Client: client},
		jsapi:  jsapi.JsapiApiService{Client: client},
		h5:     h5.H5ApiService{Client: client},
		refund: refunddomestic.RefundsApiService{Client: client},
	}, nil
}

func (c *WechatSDKClient) Prepay(ctx context.Context, req WechatPrepayRequest) (*WechatPrepayResponse, error) {
	switch req.Channel {
	case WechatChannelJSAPI:
		resp, _, err := c.jsapi.Prepay(ctx, jsapi.PrepayRequest{
			Appid:       core.String(req.AppID),
			Mchid:       core.String(req.MchID),
			Description: core.String(req.Description),
			OutTradeNo:  core.String(req.OutTradeNo),
			TimeExpire:  core.Time(req.TimeExpire),
			NotifyUrl:   core.String(req.NotifyURL),
			Amount:      &jsapi.Amount{Total: core.Int64(req.Total), Currency: core.String(currencyCNY)},
			Payer:       &jsapi.Payer{Openid: core.String(req.OpenID)},
		})
		if err != nil {
			return nil, err
		}
		return &WechatPrepayResponse{PrepayID: deref(resp.PrepayId)}, nil
	case WechatChannelH5:
		resp, _, err := c.h5.Prepay(ctx, h5.PrepayRequest{
			Appid:       core.String(req.AppID),
			Mchid:       core.String(req.MchID),
			Description: core.String(req.Description),
			OutTradeNo:  core.String(req.OutTradeNo),
			TimeExpire:  core.Time(req.TimeExpire),
			NotifyUrl:   core.String(req.NotifyURL),
			Amount:      &h5.Amount{Total: core.Int64(req.Total), Currency: core.String(currencyCNY)},
			SceneInfo: &h5.SceneInfo{
				PayerClientIp: core.String(req.ClientIP),
				H5Info:        &h5.H5Info{Type: core.String("Wap")},
			},
		})
		if err != nil {
			return nil, err
		}
		return &WechatPrepayResponse{H5URL: deref(resp.H5Url)}, nil
	default:
		resp, _, err := c.native.Prepay(ctx, native.PrepayRequest{
			Appid:       core.String(req.AppID),
			Mchid:       core.String(req.MchID),
			Description: core.String(req.Description),
			OutTradeNo:  core.String(req.OutTradeNo),
			TimeExpire:  core.Time(req.TimeExpire),
			NotifyUrl:   core.String(req.NotifyURL),
			Amount:      &native.Amount{Total: core.Int64(req.Total), Currency: core.String(currencyCNY)},
		})
		if err != nil {
			return nil, err
		}
		return &WechatPrepayResponse{CodeURL: deref(resp.CodeUrl)}, nil
	}
}

func (c *WechatSDKClient) QueryByOutTradeNo(ctx context.Context, outTradeNo string) (*WechatTransaction, error) {
	txn, _, err := c.native.QueryOrderByOutTradeNo(ctx, native.QueryOrderByOutTradeNoRequest{
		OutTradeNo: core.String(outTradeNo),
		Mchid:      core.String(c.mchID),
	})
	if err != nil {
		return nil, err
	}
	return wechatTransaction(txn), nil
}

func wechatTransaction(t *payments.Transaction) *WechatTransaction {
	out := &WechatTransaction{
		OutTradeNo:    deref(t.OutTradeNo),
		TransactionID: deref(t.TransactionId),
		TradeState:    deref(t.TradeState),
	}
	if t.Amount != nil {
		out.Amount = WechatAmount{
			Total:      deref(t.Amount.Total),
			PayerTotal: deref(t.Amount.PayerTotal),
			Currency:   deref(t.Amount.Currency),
		}
	}
	return out
}

func (c *WechatSDKClient) Refund(ctx context.Context, req WechatRefundRequest) (*WechatRefund, error) {
	create := refunddomestic.CreateRequest{
		OutTradeNo:  core.String(req.OutTradeNo),
		OutRefundNo: core.String(req.OutRefundNo),
		NotifyUrl:   core.String(req.NotifyURL),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(req.Refund),
			Total:    core.Int64(req.Total),
			Currency: core.String(currencyCNY),
		},
	}
	if req.Reason != "" {
		create.Reason = core.String(req.Reason)
	}
	resp, _, err := c.refund.Create(ctx, create)
	if err != nil {
		return nil, err
	}
	out := &WechatRefund{
		OutTradeNo:  deref(resp.OutTradeNo),
		OutRefundNo: deref(resp.OutRefundNo),
		RefundID:    deref(resp.RefundId),
	}
	if resp.Status != nil {
		out.Status = string(*resp.Status)
	}
	return out, nil
}

func (c *WechatSDKClient) Close(ctx context.Context, outTradeNo string) error {
	_, err := c.native.CloseOrder(ctx, native.CloseOrderRequest{
		OutTradeNo: core.String(outTradeNo),
		Mchid:      core.String(c.mchID),
	})
	return err
}

type wechatNotifyHandler struct {
	handler *notify.Handler
}

// NewWechatNotifyHandler checks notification signatures against the platform certificates and
// opens the resource with the APIv3 key.
func NewWechatNotifyHandler(apiV3Key string, platformCerts ...*x509.Certificate) WechatNotifyParser {
	certs := core.NewCertificateMapWithList(platformCerts)
	return &wechatNotifyHandler{
		handler: notify.NewNotifyHandler(apiV3Key, verifiers.NewSHA256WithRSAVerifier(certs)),
	}
}

func (h *wechatNotifyHandler) ParseNotify(ctx context.Context, body []byte, header http.Header) (*WechatNotifyEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
	}
	var resource json.RawMessage
	n, err := h.handler.ParseNotifyRequest(ctx, req, &resource)
	if err != nil {
		return nil, fmt.Errorf("wechat notify: %v: %w", err, utils.ErrSignatureInvalid)
	}
	return &WechatNotifyEvent{ID: n.ID, EventType: n.EventType, Resource: resource}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
