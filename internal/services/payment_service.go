package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	mem "skillmart/pkg/memcache"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

// notifyDedupTTL covers the retry schedule of every supported provider.
const notifyDedupTTL = 24 * time.Hour

type PaymentServiceInterface interface {
	CreateIntent(ctx context.Context, userID uuid.UUID, req request_models.CreatePaymentRequest, clientIP string) (*gateway.Intent, *db_models.Order, error)
	// HandleNotify verifies and applies one provider callback. A nil error means the provider
	// should be acknowledged and stop retrying.
	HandleNotify(ctx context.Context, method string, body []byte, header http.Header) error
	Status(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error)
	// SimulatePaid settles a sandbox trade and feeds its notification through HandleNotify.
	SimulatePaid(ctx context.Context, orderID uuid.UUID) (*db_models.Order, error)
}

type PaymentService struct {
	gateways *gateway.Registry
	orders   OrderServiceInterface
	dedup    mem.Deduper
	sandbox  *gateway.SandboxKit
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewPaymentService wires the notify path. sandbox is nil in live mode.
func NewPaymentService(gateways *gateway.Registry, orders OrderServiceInterface, dedup mem.Deduper, sandbox *gateway.SandboxKit, m *metrics.Metrics, log *zap.Logger) PaymentServiceInterface {
	return &PaymentService{
		gateways: gateways,
		orders:   orders,
		dedup:    dedup,
		sandbox:  sandbox,
		metrics:  m,
		log:      log.Named("payment"),
	}
}

func (p *PaymentService) CreateIntent(ctx context.Context, userID uuid.UUID, req request_models.CreatePaymentRequest, clientIP string) (*gateway.Intent, *db_models.Order, error) {
	return p.orders.RequestPayment(ctx, userID, req, clientIP)
}

func (p *PaymentService) Status(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error) {
	return p.orders.Query(ctx, userID, orderID)
}

func (p *PaymentService) HandleNotify(ctx context.Context, method string, body []byte, header http.Header) error {
	gw, err := p.gateways.Get(method)
	if err != nil {
		return err
	}
	n, err := gw.ParseNotify(ctx, body, header)
	if err != nil {
		p.metrics.Callbacks.WithLabelValues(method, "rejected").Inc()
		p.log.Error("notification rejected", zap.String("method", method), zap.Error(err))
		return err
	}
	if n.Kind == gateway.KindIgnored {
		p.metrics.Callbacks.WithLabelValues(method, "ignored").Inc()
		return nil
	}

	key := n.DedupKey()
	if seen, err := p.dedup.Seen(ctx, key); err != nil {
		p.log.Warn("dedup lookup", zap.Error(err))
	} else if seen {
		p.metrics.Callbacks.WithLabelValues(method, "duplicate").Inc()
		return nil
	}

	switch n.Kind {
	case gateway.KindPayment:
		err = p.orders.ApplyGatewayResult(ctx, n.Method, n.OrderNo, n.TransactionID, n.Amount, n.Success)
	case gateway.KindRefund:
		err = p.orders.ApplyRefundResult(ctx, n.RefundNo, n.RefundID, n.Success)
	}

	switch {
	case err == nil:
		p.metrics.Callbacks.WithLabelValues(method, "applied").Inc()
	case errors.Is(err, utils.ErrPaymentAmountMismatch), errors.Is(err, utils.ErrOrderStateConflict):
		// Flagged for review; a retry cannot fix it.
		p.metrics.Callbacks.WithLabelValues(method, "flagged").Inc()
		p.log.Error("notification needs review",
			zap.String("method", method),
			zap.String("order_no", n.OrderNo),
			zap.String("transaction_id", n.TransactionID),
			zap.Error(err))
	case errors.Is(err, utils.ErrOrderNotFound), errors.Is(err, utils.ErrRefundNotFound):
		p.metrics.Callbacks.WithLabelValues(method, "unknown").Inc()
		p.log.Warn("notification for unknown order",
			zap.String("method", method),
			zap.String("order_no", n.OrderNo),
			zap.String("refund_no", n.RefundNo))
		return nil
	default:
		p.metrics.Callbacks.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("apply %s notification: %w", method, err)
	}

	if err := p.dedup.Remember(ctx, key, notifyDedupTTL); err != nil {
		p.log.Warn("dedup remember", zap.Error(err))
	}
	return nil
}

func (p *PaymentService) SimulatePaid(ctx context.Context, orderID uuid.UUID) (*db_models.Order, error) {
	if p.sandbox == nil {
		return nil, fmt.Errorf("simulated payments need GATEWAY_MODE=sandbox: %w", utils.ErrUnsupportedMethod)
	}
	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != db_models.OrderStatusPaying {
		return nil, fmt.Errorf("order is %s: %w", order.Status, utils.ErrOrderStateConflict)
	}
	body, header, err := p.sandbox.Settle(order)
	if err != nil {
		return nil, err
	}
	if err := p.HandleNotify(ctx, order.PaymentMethod, body, header); err != nil {
		return nil, err
	}
	return p.orders.GetByID(ctx, orderID)
}
