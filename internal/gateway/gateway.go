// Package gateway adapts third-party payment providers to one interface: create a payment
// intent, verify and parse asynchronous notifications, query, refund and close.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

const (
	MethodWechat = "wechat"
	MethodAlipay = "alipay"
	MethodPayOS  = "payos"
	// MethodFree marks orders settled without a gateway because nothing was left to pay.
	MethodFree = "free"
)

// DefaultChannel is the channel used when the client does not pick one.
func DefaultChannel(method string) string {
	switch method {
	case MethodWechat:
		return WechatChannelNative
	case MethodAlipay:
		return AlipayChannelPage
	case MethodPayOS:
		return PayOSChannelLink
	}
	return ""
}

type NotificationKind string

const (
	KindPayment NotificationKind = "payment"
	KindRefund  NotificationKind = "refund"
	// KindIgnored is a verified notification that carries no state change (WAIT_BUYER_PAY,
	// provider connectivity checks). Callers acknowledge it and move on.
	KindIgnored NotificationKind = "ignored"
)

// Notification is a verified, provider-neutral callback.
type Notification struct {
	Method  string
	Kind    NotificationKind
	EventID string

	OrderNo       string
	TransactionID string
	Amount        int64
	Success       bool

	RefundNo string
	RefundID string
}

// DedupKey identifies the callback for the fast-path replay filter.
func (n *Notification) DedupKey() string {
	if n.EventID != "" {
		return fmt.Sprintf("notify:%s:%s", n.Method, n.EventID)
	}
	return fmt.Sprintf("notify:%s:%s:%s:%s:%s:%t", n.Method, n.Kind, n.OrderNo, n.TransactionID, n.RefundNo, n.Success)
}

type IntentOptions struct {
	OpenID    string
	ClientIP  string
	ReturnURL string
}

// Intent is what the client needs to start paying; exactly one of the payload fields is set.
type Intent struct {
	Method   string
	Channel  string
	CodeURL  string
	PrepayID string
	H5URL    string
	PayURL   string
	Form     string
}

type QueryResult struct {
	Paid          bool
	Closed        bool
	TransactionID string
	Amount        int64
}

type RefundOutcome string

const (
	RefundProcessing RefundOutcome = "processing"
	RefundSucceeded  RefundOutcome = "success"
	RefundFailed     RefundOutcome = "failed"
)

type RefundResult struct {
	RefundID string
	Outcome  RefundOutcome
}

type Gateway interface {
	Method() string
	CreateIntent(ctx context.Context, order *db_models.Order, channel string, opts IntentOptions) (*Intent, error)
	// ParseNotify verifies the provider signature over the raw request and decodes it. A bad
	// signature is utils.ErrSignatureInvalid.
	ParseNotify(ctx context.Context, body []byte, header http.Header) (*Notification, error)
	Query(ctx context.Context, order *db_models.Order) (*QueryResult, error)
	Refund(ctx context.Context, order *db_models.Order, refund *db_models.Refund) (*RefundResult, error)
	Close(ctx context.Context, order *db_models.Order) error
}

type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Method()] = g
		}
	}
	return r
}

// Register adds g, replacing any gateway already serving its method.
func (r *Registry) Register(g Gateway) {
	r.gateways[g.Method()] = g
}

func (r *Registry) Get(method string) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("payment method %q: %w", method, utils.ErrUnsupportedMethod)
	}
	return g, nil
}

func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.gateways))
	for m := range r.gateways {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func unavailable(method, op string, err error) error {
	return fmt.Errorf("%s %s: %v: %w", method, op, err, utils.ErrGatewayUnavailable)
}
