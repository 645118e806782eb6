package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/smartwalle/alipay/v3"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

const (
	AlipayChannelPage = "page"
	AlipayChannelWap  = "wap"
)

type AlipayTradeRequest struct {
	Channel     string
	OutTradeNo  string
	Subject     string
	TotalAmount string
	ReturnURL   string
	NotifyURL   string
}

type AlipayTrade struct {
	OutTradeNo  string `json:"out_trade_no"`
	TradeNo     string `json:"trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

type AlipayRefund struct {
	OutTradeNo   string `json:"out_trade_no"`
	TradeNo      string `json:"trade_no"`
	OutRequestNo string `json:"out_request_no"`
	FundChange   string `json:"fund_change"`
	RefundFee    string `json:"refund_fee"`
}

// AlipayClient is the OpenAPI surface of Alipay the gateway needs.
type AlipayClient interface {
	PayURL(ctx context.Context, req AlipayTradeRequest) (string, error)
	Query(ctx context.Context, outTradeNo string) (*AlipayTrade, error)
	Refund(ctx context.Context, outTradeNo, outRequestNo, amount, reason string) (*AlipayRefund, error)
	Close(ctx context.Context, outTradeNo string) error
}

type AlipayOptions struct {
	AppID     string
	NotifyURL string
	ReturnURL string
}

// AlipayNotifyDecoder checks the RSA2 signature of notification params. *alipay.Client
// satisfies it.
type AlipayNotifyDecoder interface {
	DecodeNotification(ctx context.Context, values url.Values) (*alipay.Notification, error)
}

type AlipayGateway struct {
	client  AlipayClient
	decoder AlipayNotifyDecoder
	opts    AlipayOptions
}

func NewAlipayGateway(client AlipayClient, decoder AlipayNotifyDecoder, opts AlipayOptions) *AlipayGateway {
	return &AlipayGateway{client: client, decoder: decoder, opts: opts}
}

func (a *AlipayGateway) Method() string { return MethodAlipay }

func (a *AlipayGateway) CreateIntent(ctx context.Context, order *db_models.Order, channel string, opts IntentOptions) (*Intent, error) {
	if channel != AlipayChannelPage && channel != AlipayChannelWap {
		return nil, fmt.Errorf("alipay channel %q: %w", channel, utils.ErrUnsupportedMethod)
	}
	returnURL := opts.ReturnURL
	if returnURL == "" {
		returnURL = a.opts.ReturnURL
	}
	payURL, err := a.client.PayURL(ctx, AlipayTradeRequest{
		Channel:     channel,
		OutTradeNo:  order.OrderNo,
		Subject:     order.Product.Data().Name,
		TotalAmount: utils.FormatYuan(order.FinalAmount),
		ReturnURL:   returnURL,
		NotifyURL:   a.opts.NotifyURL,
	})
	if err != nil {
		return nil, unavailable(MethodAlipay, "pay", err)
	}
	return &Intent{Method: MethodAlipay, Channel: channel, PayURL: payURL}, nil
}

func (a *AlipayGateway) ParseNotify(ctx context.Context, body []byte, header http.Header) (*Notification, error) {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode alipay notify: %w", err)
	}
	if _, err := a.decoder.DecodeNotification(ctx, params); err != nil {
		return nil, fmt.Errorf("alipay notify: %v: %w", err, utils.ErrSignatureInvalid)
	}
	if a.opts.AppID != "" && params.Get("app_id") != a.opts.AppID {
		return nil, fmt.Errorf("alipay app_id %q: %w", params.Get("app_id"), utils.ErrSignatureInvalid)
	}

	n := &Notification{
		Method:        MethodAlipay,
		EventID:       params.Get("notify_id"),
		OrderNo:       params.Get("out_trade_no"),
		TransactionID: params.Get("trade_no"),
	}

	if params.Get("out_biz_no") != "" && params.Get("refund_fee") != "" {
		fee, err := utils.ParseYuan(params.Get("refund_fee"))
		if err != nil {
			return nil, fmt.Errorf("alipay refund_fee: %w", err)
		}
		n.Kind = KindRefund
		n.RefundNo = params.Get("out_biz_no")
		n.RefundID = alipayRefundID(n.TransactionID, n.RefundNo)
		n.Amount = fee
		n.Success = true
		return n, nil
	}

	switch params.Get("trade_status") {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		n.Kind = KindPayment
		n.Success = true
	case "TRADE_CLOSED":
		n.Kind = KindPayment
		n.Success = false
	default:
		n.Kind = KindIgnored
		return n, nil
	}
	amount, err := utils.ParseYuan(params.Get("total_amount"))
	if err != nil {
		return nil, fmt.Errorf("alipay total_amount: %w", err)
	}
	n.Amount = amount
	return n, nil
}

func (a *AlipayGateway) Query(ctx context.Context, order *db_models.Order) (*QueryResult, error) {
	trade, err := a.client.Query(ctx, order.OrderNo)
	if err != nil {
		return nil, unavailable(MethodAlipay, "query", err)
	}
	result := &QueryResult{
		Paid:          trade.TradeStatus == "TRADE_SUCCESS" || trade.TradeStatus == "TRADE_FINISHED",
		Closed:        trade.TradeStatus == "TRADE_CLOSED",
		TransactionID: trade.TradeNo,
	}
	if trade.TotalAmount != "" {
		if result.Amount, err = utils.ParseYuan(trade.TotalAmount); err != nil {
			return nil, fmt.Errorf("alipay total_amount: %w", err)
		}
	}
	return result, nil
}

// Refund is synchronous on Alipay: fund_change=Y means the money moved.
func (a *AlipayGateway) Refund(ctx context.Context, order *db_models.Order, refund *db_models.Refund) (*RefundResult, error) {
	resp, err := a.client.Refund(ctx, order.OrderNo, refund.RefundNo, utils.FormatYuan(refund.Amount), refund.Reason)
	if err != nil {
		return nil, unavailable(MethodAlipay, "refund", err)
	}
	result := &RefundResult{RefundID: alipayRefundID(resp.TradeNo, refund.RefundNo), Outcome: RefundProcessing}
	if resp.FundChange == "Y" {
		result.Outcome = RefundSucceeded
	}
	return result, nil
}

func (a *AlipayGateway) Close(ctx context.Context, order *db_models.Order) error {
	if err := a.client.Close(ctx, order.OrderNo); err != nil {
		return unavailable(MethodAlipay, "close", err)
	}
	return nil
}

func alipayRefundID(tradeNo, refundNo string) string {
	return tradeNo + ":" + refundNo
}
