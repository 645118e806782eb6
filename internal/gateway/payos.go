package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/payOSHQ/payos-lib-golang"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

// payosConfirmOrderCode is the order code payOS sends when a webhook URL is first registered.
const payosConfirmOrderCode = 123

const PayOSChannelLink = "link"

type PayOSOptions struct {
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
}

// PayOSGateway uses the payOS SDK. The SDK keeps credentials in package state, so only one
// payOS merchant can be configured per process.
type PayOSGateway struct {
	opts PayOSOptions
}

func NewPayOSGateway(opts PayOSOptions) (*PayOSGateway, error) {
	if opts.ClientID == "" || opts.APIKey == "" || opts.ChecksumKey == "" {
		return nil, fmt.Errorf("missing payOS credentials")
	}
	if err := payos.Key(opts.ClientID, opts.APIKey, opts.ChecksumKey); err != nil {
		return nil, fmt.Errorf("payos client init: %w", err)
	}
	return &PayOSGateway{opts: opts}, nil
}

func (p *PayOSGateway) Method() string { return MethodPayOS }

func (p *PayOSGateway) CreateIntent(ctx context.Context, order *db_models.Order, channel string, opts IntentOptions) (*Intent, error) {
	if channel != PayOSChannelLink {
		return nil, fmt.Errorf("payos channel %q: %w", channel, utils.ErrUnsupportedMethod)
	}
	orderCode, err := strconv.ParseInt(order.OrderNo, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("order_no %q is not numeric: %w", order.OrderNo, utils.ErrUnsupportedMethod)
	}
	product := order.Product.Data()
	returnURL := opts.ReturnURL
	if returnURL == "" {
		returnURL = p.opts.ReturnURL
	}

	resp, err := payos.CreatePaymentLink(payos.CheckoutRequestType{
		OrderCode: orderCode,
		Amount:    int(order.FinalAmount),
		Items: []payos.Item{{
			Name:     product.Name,
			Price:    int(order.FinalAmount),
			Quantity: 1,
		}},
		// payOS caps descriptions at 25 characters.
		Description: "SM" + order.OrderNo[len(order.OrderNo)-8:],
		CancelUrl:   p.opts.CancelURL,
		ReturnUrl:   returnURL,
	})
	if err != nil {
		return nil, unavailable(MethodPayOS, "create link", err)
	}
	return &Intent{Method: MethodPayOS, Channel: channel, PayURL: resp.CheckoutUrl}, nil
}

func (p *PayOSGateway) ParseNotify(ctx context.Context, body []byte, header http.Header) (*Notification, error) {
	var hook payos.WebhookType
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode payos webhook: %w", err)
	}
	data, err := payos.VerifyPaymentWebhookData(hook)
	if err != nil {
		return nil, fmt.Errorf("payos webhook: %v: %w", err, utils.ErrSignatureInvalid)
	}
	if data.OrderCode == payosConfirmOrderCode {
		return &Notification{Method: MethodPayOS, Kind: KindIgnored}, nil
	}
	return &Notification{
		Method:        MethodPayOS,
		Kind:          KindPayment,
		EventID:       data.Reference,
		OrderNo:       strconv.FormatInt(data.OrderCode, 10),
		TransactionID: data.Reference,
		Amount:        int64(data.Amount),
		Success:       data.Code == "00",
	}, nil
}

func (p *PayOSGateway) Query(ctx context.Context, order *db_models.Order) (*QueryResult, error) {
	info, err := payos.GetPaymentLinkInformation(order.OrderNo)
	if err != nil {
		return nil, unavailable(MethodPayOS, "query", err)
	}
	result := &QueryResult{
		Paid:   info.Status == "PAID",
		Closed: info.Status == "CANCELLED" || info.Status == "EXPIRED",
		Amount: int64(info.Amount),
	}
	if len(info.Transactions) > 0 {
		result.TransactionID = info.Transactions[0].Reference
	}
	return result, nil
}

// Refund: payOS has no refund API. The refund is reported failed so the order lands in manual
// review and finance settles it by bank transfer.
func (p *PayOSGateway) Refund(ctx context.Context, order *db_models.Order, refund *db_models.Refund) (*RefundResult, error) {
	return &RefundResult{Outcome: RefundFailed}, nil
}

func (p *PayOSGateway) Close(ctx context.Context, order *db_models.Order) error {
	reason := "order closed"
	if _, err := payos.CancelPaymentLink(order.OrderNo, &reason); err != nil {
		return unavailable(MethodPayOS, "cancel link", err)
	}
	return nil
}
