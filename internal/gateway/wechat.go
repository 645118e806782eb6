package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

const (
	WechatChannelNative = "native"
	WechatChannelJSAPI  = "jsapi"
	WechatChannelH5     = "h5"
)

type WechatPrepayRequest struct {
	Channel     string
	AppID       string
	MchID       string
	Description string
	OutTradeNo  string
	NotifyURL   string
	Total       int64
	TimeExpire  time.Time
	OpenID      string
	ClientIP    string
}

type WechatPrepayResponse struct {
	PrepayID string `json:"prepay_id"`
	CodeURL  string `json:"code_url"`
	H5URL    string `json:"h5_url"`
}

type WechatAmount struct {
	Total      int64  `json:"total"`
	PayerTotal int64  `json:"payer_total,omitempty"`
	Refund     int64  `json:"refund,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// WechatTransaction is the v3 transaction resource (query response and notify payload).
type WechatTransaction struct {
	OutTradeNo    string       `json:"out_trade_no"`
	TransactionID string       `json:"transaction_id"`
	TradeState    string       `json:"trade_state"`
	Amount        WechatAmount `json:"amount"`
}

type WechatRefundRequest struct {
	OutTradeNo  string
	OutRefundNo string
	Reason      string
	Refund      int64
	Total       int64
	NotifyURL   string
}

// WechatRefund is the v3 refund resource (refund response and refund notify payload).
type WechatRefund struct {
	OutTradeNo   string       `json:"out_trade_no"`
	OutRefundNo  string       `json:"out_refund_no"`
	RefundID     string       `json:"refund_id"`
	Status       string       `json:"status"`
	RefundStatus string       `json:"refund_status"`
	Amount       WechatAmount `json:"amount"`
}

// WechatClient is the API surface of WeChat Pay v3 the gateway needs.
type WechatClient interface {
	Prepay(ctx context.Context, req WechatPrepayRequest) (*WechatPrepayResponse, error)
	QueryByOutTradeNo(ctx context.Context, outTradeNo string) (*WechatTransaction, error)
	Refund(ctx context.Context, req WechatRefundRequest) (*WechatRefund, error)
	Close(ctx context.Context, outTradeNo string) error
}

// WechatNotifyEvent is a notification whose signature checked out, with its resource decrypted.
type WechatNotifyEvent struct {
	ID        string
	EventType string
	Resource  []byte
}

// WechatNotifyParser verifies and decrypts a raw notification. Any failure is
// utils.ErrSignatureInvalid.
type WechatNotifyParser interface {
	ParseNotify(ctx context.Context, body []byte, header http.Header) (*WechatNotifyEvent, error)
}

type WechatOptions struct {
	AppID     string
	MchID     string
	NotifyURL string
}

type WechatGateway struct {
	client WechatClient
	notify WechatNotifyParser
	opts   WechatOptions
}

func NewWechatGateway(client WechatClient, notify WechatNotifyParser, opts WechatOptions) *WechatGateway {
	return &WechatGateway{client: client, notify: notify, opts: opts}
}

func (w *WechatGateway) Method() string { return MethodWechat }

func (w *WechatGateway) CreateIntent(ctx context.Context, order *db_models.Order, channel string, opts IntentOptions) (*Intent, error) {
	switch channel {
	case WechatChannelNative, WechatChannelH5:
	case WechatChannelJSAPI:
		if opts.OpenID == "" {
			return nil, fmt.Errorf("jsapi payment needs openid: %w", utils.ErrUnsupportedMethod)
		}
	default:
		return nil, fmt.Errorf("wechat channel %q: %w", channel, utils.ErrUnsupportedMethod)
	}

	resp, err := w.client.Prepay(ctx, WechatPrepayRequest{
		Channel:     channel,
		AppID:       w.opts.AppID,
		MchID:       w.opts.MchID,
		Description: order.Product.Data().Name,
		OutTradeNo:  order.OrderNo,
		NotifyURL:   w.opts.NotifyURL,
		Total:       order.FinalAmount,
		TimeExpire:  time.Unix(order.ExpiresAt, 0),
		OpenID:      opts.OpenID,
		ClientIP:    opts.ClientIP,
	})
	if err != nil {
		return nil, unavailable(MethodWechat, "prepay", err)
	}

	intent := &Intent{Method: MethodWechat, Channel: channel}
	switch channel {
	case WechatChannelNative:
		intent.CodeURL = resp.CodeURL
	case WechatChannelJSAPI:
		intent.PrepayID = resp.PrepayID
	case WechatChannelH5:
		intent.H5URL = resp.H5URL
	}
	return intent, nil
}

func (w *WechatGateway) ParseNotify(ctx context.Context, body []byte, header http.Header) (*Notification, error) {
	event, err := w.notify.ParseNotify(ctx, body, header)
	if err != nil {
		return nil, err
	}

	n := &Notification{Method: MethodWechat, EventID: event.ID}
	switch event.EventType {
	case "TRANSACTION.SUCCESS":
		var txn WechatTransaction
		if err := json.Unmarshal(event.Resource, &txn); err != nil {
			return nil, fmt.Errorf("decode wechat transaction: %w", err)
		}
		n.Kind = KindPayment
		n.OrderNo = txn.OutTradeNo
		n.TransactionID = txn.TransactionID
		n.Amount = txn.Amount.Total
		n.Success = txn.TradeState == "SUCCESS"
		if !n.Success && txn.TradeState != "PAYERROR" {
			n.Kind = KindIgnored
		}
	case "REFUND.SUCCESS", "REFUND.ABNORMAL", "REFUND.CLOSED":
		var refund WechatRefund
		if err := json.Unmarshal(event.Resource, &refund); err != nil {
			return nil, fmt.Errorf("decode wechat refund: %w", err)
		}
		n.Kind = KindRefund
		n.OrderNo = refund.OutTradeNo
		n.RefundNo = refund.OutRefundNo
		n.RefundID = refund.RefundID
		n.Amount = refund.Amount.Refund
		n.Success = event.EventType == "REFUND.SUCCESS"
	default:
		n.Kind = KindIgnored
	}
	return n, nil
}

func (w *WechatGateway) Query(ctx context.Context, order *db_models.Order) (*QueryResult, error) {
	txn, err := w.client.QueryByOutTradeNo(ctx, order.OrderNo)
	if err != nil {
		return nil, unavailable(MethodWechat, "query", err)
	}
	return &QueryResult{
		Paid:          txn.TradeState == "SUCCESS",
		Closed:        txn.TradeState == "CLOSED" || txn.TradeState == "REVOKED" || txn.TradeState == "PAYERROR",
		TransactionID: txn.TransactionID,
		Amount:        txn.Amount.Total,
	}, nil
}

func (w *WechatGateway) Refund(ctx context.Context, order *db_models.Order, refund *db_models.Refund) (*RefundResult, error) {
	resp, err := w.client.Refund(ctx, WechatRefundRequest{
		OutTradeNo:  order.OrderNo,
		OutRefundNo: refund.RefundNo,
		Reason:      refund.Reason,
		Refund:      refund.Amount,
		Total:       order.FinalAmount,
		NotifyURL:   w.opts.NotifyURL,
	})
	if err != nil {
		return nil, unavailable(MethodWechat, "refund", err)
	}
	result := &RefundResult{RefundID: resp.RefundID}
	switch resp.Status {
	case "SUCCESS":
		result.Outcome = RefundSucceeded
	case "CLOSED", "ABNORMAL":
		result.Outcome = RefundFailed
	default:
		result.Outcome = RefundProcessing
	}
	return result, nil
}

func (w *WechatGateway) Close(ctx context.Context, order *db_models.Order) error {
	if err := w.client.Close(ctx, order.OrderNo); err != nil {
		return unavailable(MethodWechat, "close", err)
	}
	return nil
}
