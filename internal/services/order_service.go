package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/internal/repositories"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

// Manual review reasons.
const (
	ReviewAmountMismatch   = "amount_mismatch"
	ReviewDuplicatePayment = "duplicate_transaction"
	ReviewPaidAfterClose   = "paid_after_close"
	ReviewRefundFailed     = "refund_failed"

	// ReviewCompensationStuck marks an order owing a side effect that kept failing.
	ReviewCompensationStuck = "compensation_stuck"
)

const (
	orderNoAttempts = 3
	casAttempts     = 3

	freeTransactionPrefix = "FREE-"
)

type OrderOptions struct {
	Expire        time.Duration
	RefundWindow  time.Duration
	PointsPerYuan int64
}

type OrderServiceInterface interface {
	Create(ctx context.Context, userID uuid.UUID, req request_models.CreateOrderRequest) (*db_models.Order, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error)
	GetByID(ctx context.Context, orderID uuid.UUID) (*db_models.Order, error)
	List(ctx context.Context, userID uuid.UUID, status db_models.OrderStatus, page, pageSize int) ([]db_models.Order, int64, error)
	CanRefund(order *db_models.Order) bool

	RequestPayment(ctx context.Context, userID uuid.UUID, req request_models.CreatePaymentRequest, clientIP string) (*gateway.Intent, *db_models.Order, error)
	ApplyGatewayResult(ctx context.Context, method, orderNo, transactionID string, amount int64, success bool) error
	Query(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error)

	RequestRefund(ctx context.Context, userID, orderID uuid.UUID, reason string) (*db_models.Refund, error)
	ApplyRefundResult(ctx context.Context, refundNo, refundID string, success bool) error
	Refunds(ctx context.Context, userID, orderID uuid.UUID) ([]db_models.Refund, error)

	// Sweeper hooks.
	ExpireOrder(ctx context.Context, order *db_models.Order) error
	ReconcilePaying(ctx context.Context, order *db_models.Order) error
	ResubmitRefund(ctx context.Context, refund *db_models.Refund) error
}

type OrderService struct {
	orders       repositories.OrderRepository
	products     repositories.IProductRepository
	points       PointsServiceInterface
	coupons      CouponServiceInterface
	compensation CompensationServiceInterface
	gateways     *gateway.Registry
	clock        utils.Clock
	opts         OrderOptions
	metrics      *metrics.Metrics
	log          *zap.Logger
}

func NewOrderService(
	orders repositories.OrderRepository,
	products repositories.IProductRepository,
	points PointsServiceInterface,
	coupons CouponServiceInterface,
	compensation CompensationServiceInterface,
	gateways *gateway.Registry,
	clock utils.Clock,
	opts OrderOptions,
	m *metrics.Metrics,
	log *zap.Logger,
) OrderServiceInterface {
	return &OrderService{
		orders:       orders,
		products:     products,
		points:       points,
		coupons:      coupons,
		compensation: compensation,
		gateways:     gateways,
		clock:        clock,
		opts:         opts,
		metrics:      m,
		log:          log.Named("orders"),
	}
}

// owed is one side effect a transition leaves behind for the compensation executor.
type owed struct {
	action db_models.CompensationAction
	ref    uuid.UUID
}

func releaseOwed(o *db_models.Order) []owed {
	var out []owed
	if o.PointsLockID != nil {
		out = append(out, owed{db_models.ActionReleasePoints, o.ID})
	}
	if o.UserCouponID != nil {
		out = append(out, owed{db_models.ActionRestoreCoupon, *o.UserCouponID})
	}
	return out
}

func paidOwed(o *db_models.Order) []owed {
	var out []owed
	if o.PointsLockID != nil {
		out = append(out, owed{db_models.ActionConfirmPoints, *o.PointsLockID})
	}
	if o.UserCouponID != nil {
		out = append(out, owed{db_models.ActionConsumeCoupon, *o.UserCouponID})
	}
	return append(out, owed{db_models.ActionGrantEntitlement, o.ID})
}

func refundedOwed(o *db_models.Order) []owed {
	var out []owed
	if o.PointsUsed > 0 {
		out = append(out, owed{db_models.ActionRefundPoints, o.ID})
	}
	return append(out, owed{db_models.ActionRevokeEntitlement, o.ID})
}

func pendingRecords(orderID uuid.UUID, now int64, items []owed) []db_models.CompensationRecord {
	records := make([]db_models.CompensationRecord, 0, len(items))
	for i, item := range items {
		records = append(records, db_models.CompensationRecord{
			BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			OrderID:   orderID,
			Seq:       i + 1,
			Action:    item.action,
			RefID:     item.ref,
			Status:    db_models.CompensationPending,
		})
	}
	return records
}

// Create runs checkout as a saga: each step that reserves something is preceded by its armed
// undo record, and the order insert discharges them. Any failure unwinds what was reserved.
func (s *OrderService) Create(ctx context.Context, userID uuid.UUID, req request_models.CreateOrderRequest) (*db_models.Order, error) {
	if req.PointsToUse < 0 {
		return nil, utils.ErrInvalidAmount
	}
	product, err := s.products.GetActiveProduct(ctx, req.ProductType, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, utils.ErrProductNotFound
	}

	var quote *CouponQuote
	if req.CouponCode != "" {
		quote, err = s.coupons.Validate(ctx, userID, req.CouponCode, product.Price, product.Type, product.RefID)
		if errors.Is(err, utils.ErrCouponNotClaimed) {
			if _, err = s.coupons.Claim(ctx, userID, req.CouponCode); err == nil {
				quote, err = s.coupons.Validate(ctx, userID, req.CouponCode, product.Price, product.Type, product.RefID)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	original := product.Price
	var discount int64
	if quote != nil {
		discount = quote.Discount
	}
	remaining := original - discount

	var pointsUsed, pointsDiscount int64
	if req.PointsToUse > 0 && remaining > 0 {
		pointsDiscount = min(utils.PointsToFen(req.PointsToUse, s.opts.PointsPerYuan), remaining)
		if pointsDiscount > 0 {
			pointsUsed = utils.FenToPoints(pointsDiscount, s.opts.PointsPerYuan)
		}
	}

	now := s.clock.Now()
	order := &db_models.Order{
		BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now.Unix(), UpdatedAt: now.Unix()},
		UserID:    userID,
		Product: datatypes.NewJSONType(db_models.ProductSnapshot{
			Type:  product.Type,
			ID:    product.RefID,
			Name:  product.Name,
			Price: product.Price,
		}),
		OriginalAmount: original,
		DiscountAmount: discount,
		PointsUsed:     pointsUsed,
		PointsDiscount: pointsDiscount,
		FinalAmount:    remaining - pointsDiscount,
		Status:         db_models.OrderStatusPending,
		ExpiresAt:      now.Add(s.opts.Expire).Unix(),
	}

	armed := 0
	fail := func(cause error) (*db_models.Order, error) {
		if armed > 0 {
			if err := s.compensation.Unwind(context.WithoutCancel(ctx), order.ID); err != nil {
				s.log.Error("checkout unwind incomplete, sweeper will retry",
					zap.Stringer("order_id", order.ID), zap.Error(err))
			}
		}
		return nil, cause
	}

	if quote != nil {
		armed++
		if err := s.compensation.Arm(ctx, order.ID, armed, db_models.ActionRestoreCoupon, quote.UserCoupon.ID); err != nil {
			return nil, err
		}
		if err := s.coupons.Reserve(ctx, quote.UserCoupon.ID, order.ID); err != nil {
			return fail(err)
		}
		order.CouponID = &quote.Coupon.ID
		order.UserCouponID = &quote.UserCoupon.ID
	}

	if pointsUsed > 0 {
		armed++
		if err := s.compensation.Arm(ctx, order.ID, armed, db_models.ActionReleasePoints, order.ID); err != nil {
			return fail(err)
		}
		lockID, err := s.points.Lock(ctx, userID, order.ID, pointsUsed)
		if err != nil {
			return fail(err)
		}
		order.PointsLockID = &lockID
	}

	for attempt := 1; ; attempt++ {
		order.OrderNo = utils.NewOrderNo(now)
		err = s.orders.Transaction(ctx, func(repo repositories.OrderRepository) error {
			if err := repo.Create(ctx, order); err != nil {
				return err
			}
			discharged, err := repo.DischargeArmed(ctx, order.ID, now.Unix())
			if err != nil {
				return err
			}
			if discharged != int64(armed) {
				// The sweeper already claimed a record; the reservation is being undone.
				return fmt.Errorf("checkout for order %s was reclaimed: %w", order.ID, utils.ErrOrderStateConflict)
			}
			return nil
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt < orderNoAttempts {
			continue
		}
		break
	}
	if err != nil {
		return fail(err)
	}

	s.log.Info("order created",
		zap.Stringer("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
		zap.Int64("final_amount", order.FinalAmount),
		zap.Int64("points_used", order.PointsUsed))
	return order, nil
}

func (s *OrderService) GetByID(ctx context.Context, orderID uuid.UUID) (*db_models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}

// Get returns the order if userID owns it. Someone else's order reads as not found.
func (s *OrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, userID uuid.UUID, status db_models.OrderStatus, page, pageSize int) ([]db_models.Order, int64, error) {
	if page < 1 {
		return nil, 0, utils.ErrInvalidPage
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, 0, utils.ErrInvalidPageSize
	}
	return s.orders.ListByUser(ctx, userID, status, (page-1)*pageSize, pageSize)
}

func (s *OrderService) CanRefund(order *db_models.Order) bool {
	if order.Status != db_models.OrderStatusPaid || order.PaidAt == nil {
		return false
	}
	return s.clock.Now().Unix()-*order.PaidAt <= int64(s.opts.RefundWindow/time.Second)
}

// transition moves the order from -> to and writes what it owes in the same transaction, then
// runs the owed actions. false means another writer moved the order first.
func (s *OrderService) transition(ctx context.Context, order *db_models.Order, from, to db_models.OrderStatus, updates map[string]interface{}, items []owed) (bool, error) {
	if !db_models.CanTransition(from, to) {
		return false, fmt.Errorf("%s -> %s: %w", from, to, utils.ErrOrderStateConflict)
	}
	now := s.clock.Now().Unix()
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["updated_at"] = now

	swapped := false
	err := s.orders.Transaction(ctx, func(repo repositories.OrderRepository) error {
		ok, err := repo.CompareAndSwapStatus(ctx, order.ID, from, to, updates)
		if err != nil || !ok {
			return err
		}
		swapped = true
		return repo.AppendCompensations(ctx, pendingRecords(order.ID, now, items))
	})
	if err != nil {
		return false, err
	}
	if !swapped {
		return false, nil
	}

	s.metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.log.Info("order transition",
		zap.Stringer("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if len(items) > 0 {
		if err := s.compensation.Run(context.WithoutCancel(ctx), order.ID); err != nil {
			s.log.Warn("compensation deferred to sweeper", zap.Stringer("order_id", order.ID), zap.Error(err))
		}
	}
	return true, nil
}

func (s *OrderService) flag(ctx context.Context, order *db_models.Order, reason string) {
	s.metrics.ManualReviews.WithLabelValues(reason).Inc()
	if err := s.orders.FlagForReview(ctx, order.ID, reason, s.clock.Now().Unix()); err != nil {
		s.log.Error("flag order for review", zap.Stringer("order_id", order.ID), zap.Error(err))
		return
	}
	s.log.Error("order flagged for manual review",
		zap.Stringer("order_id", order.ID),
		zap.String("order_no", order.OrderNo),
		zap.String("reason", reason))
}

func (s *OrderService) closeAtGateway(ctx context.Context, order *db_models.Order) {
	if order.PaymentMethod == "" {
		return
	}
	gw, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		return
	}
	if err := gw.Close(ctx, order); err != nil {
		s.log.Warn("close trade at gateway", zap.String("order_no", order.OrderNo), zap.Error(err))
	}
}

// RequestPayment asks the gateway for an intent and moves pending -> paying. The gateway call
// happens outside any transaction; a failure leaves the order pending.
func (s *OrderService) RequestPayment(ctx context.Context, userID uuid.UUID, req request_models.CreatePaymentRequest, clientIP string) (*gateway.Intent, *db_models.Order, error) {
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return nil, nil, utils.ErrOrderNotFound
	}
	order, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !order.Status.IsOpen() {
		return nil, nil, fmt.Errorf("order is %s: %w", order.Status, utils.ErrOrderStateConflict)
	}
	if order.Status == db_models.OrderStatusPaying && order.PaymentMethod != req.Method {
		return nil, nil, fmt.Errorf("order is already paying with %s: %w", order.PaymentMethod, utils.ErrOrderStateConflict)
	}
	now := s.clock.Now()
	if now.Unix() > order.ExpiresAt {
		return nil, nil, utils.ErrOrderExpired
	}
	if order.FinalAmount == 0 {
		return s.settleFree(ctx, order)
	}

	gw, err := s.gateways.Get(req.Method)
	if err != nil {
		return nil, nil, err
	}
	channel := req.Channel
	if channel == "" {
		channel = gateway.DefaultChannel(req.Method)
	}
	intent, err := gw.CreateIntent(ctx, order, channel, gateway.IntentOptions{
		OpenID:    req.OpenID,
		ClientIP:  clientIP,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		s.log.Warn("create payment intent", zap.String("order_no", order.OrderNo), zap.String("method", req.Method), zap.Error(err))
		return nil, nil, err
	}

	snapshot := db_models.IntentSnapshot{
		Method:    intent.Method,
		Channel:   intent.Channel,
		CodeURL:   intent.CodeURL,
		PrepayID:  intent.PrepayID,
		H5URL:     intent.H5URL,
		PayURL:    intent.PayURL,
		Form:      intent.Form,
		CreatedAt: now.Unix(),
	}
	updates := map[string]interface{}{
		"payment_method":  req.Method,
		"payment_channel": channel,
		"intent":          datatypes.NewJSONType(snapshot),
	}

	if order.Status == db_models.OrderStatusPending {
		updates["paying_at"] = now.Unix()
		swapped, err := s.transition(ctx, order, db_models.OrderStatusPending, db_models.OrderStatusPaying, updates, nil)
		if err != nil {
			return nil, nil, err
		}
		if !swapped {
			s.closeAtGateway(context.WithoutCancel(ctx), order)
			return nil, nil, utils.ErrOrderStateConflict
		}
	} else {
		updates["updated_at"] = now.Unix()
		ok, err := s.orders.UpdateIntent(ctx, order.ID, db_models.OrderStatusPaying, updates)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, utils.ErrOrderStateConflict
		}
	}

	order, err = s.GetByID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return intent, order, nil
}

// settleFree completes an order fully covered by coupon and points without a gateway.
func (s *OrderService) settleFree(ctx context.Context, order *db_models.Order) (*gateway.Intent, *db_models.Order, error) {
	if err := s.ApplyGatewayResult(ctx, gateway.MethodFree, order.OrderNo, freeTransactionPrefix+order.OrderNo, 0, true); err != nil {
		return nil, nil, err
	}
	order, err := s.GetByID(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return &gateway.Intent{Method: gateway.MethodFree}, order, nil
}

// ApplyGatewayResult applies a verified payment outcome reported by the method's gateway. It is
// idempotent per transaction id and safe under concurrent duplicates: only the CAS winner runs the
// paid side effects.
func (s *OrderService) ApplyGatewayResult(ctx context.Context, method, orderNo, transactionID string, amount int64, success bool) error {
	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("order_no %s: %w", orderNo, utils.ErrOrderNotFound)
	}

	if !success {
		if order.Status != db_models.OrderStatusPaying {
			return nil
		}
		_, err := s.transition(ctx, order, db_models.OrderStatusPaying, db_models.OrderStatusFailed, nil, releaseOwed(order))
		return err
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if order.TransactionID != nil && *order.TransactionID == transactionID {
			switch order.Status {
			case db_models.OrderStatusPaid, db_models.OrderStatusRefunding, db_models.OrderStatusRefunded:
				return nil
			}
		}
		if amount != order.FinalAmount {
			s.flag(ctx, order, ReviewAmountMismatch)
			return fmt.Errorf("order %s expects %d, gateway reported %d: %w",
				order.OrderNo, order.FinalAmount, amount, utils.ErrPaymentAmountMismatch)
		}

		switch order.Status {
		case db_models.OrderStatusPaid, db_models.OrderStatusRefunding, db_models.OrderStatusRefunded:
			s.flag(ctx, order, ReviewDuplicatePayment)
			return fmt.Errorf("order %s already paid by another transaction: %w", order.OrderNo, utils.ErrOrderStateConflict)
		case db_models.OrderStatusCancelled, db_models.OrderStatusFailed:
			s.flag(ctx, order, ReviewPaidAfterClose)
			return fmt.Errorf("order %s is %s: %w", order.OrderNo, order.Status, utils.ErrOrderStateConflict)
		case db_models.OrderStatusPending:
			// Paid without the intent round trip being recorded; pass through paying. The method is
			// stamped so refunds and closes can find the gateway.
			updates := map[string]interface{}{"paying_at": s.clock.Now().Unix()}
			if method != "" {
				updates["payment_method"] = method
				updates["payment_channel"] = gateway.DefaultChannel(method)
			}
			if _, err := s.transition(ctx, order, db_models.OrderStatusPending, db_models.OrderStatusPaying, updates, nil); err != nil {
				return err
			}
		case db_models.OrderStatusPaying:
			now := s.clock.Now().Unix()
			swapped, err := s.transition(ctx, order, db_models.OrderStatusPaying, db_models.OrderStatusPaid,
				map[string]interface{}{"transaction_id": transactionID, "paid_at": now}, paidOwed(order))
			if err != nil {
				return err
			}
			if swapped {
				return nil
			}
		}

		if order, err = s.GetByID(ctx, order.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("order %s kept moving: %w", orderNo, utils.ErrOrderStateConflict)
}

// Query returns the order, first asking the gateway about a paying order so a missed
// notification does not leave the client waiting.
func (s *OrderService) Query(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error) {
	order, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != db_models.OrderStatusPaying {
		return order, nil
	}
	if err := s.ReconcilePaying(ctx, order); err != nil {
		s.log.Warn("payment query", zap.String("order_no", order.OrderNo), zap.Error(err))
		return order, nil
	}
	return s.GetByID(ctx, order.ID)
}

// ReconcilePaying asks the gateway where a paying order stands and applies the answer.
func (s *OrderService) ReconcilePaying(ctx context.Context, order *db_models.Order) error {
	gw, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		return err
	}
	res, err := gw.Query(ctx, order)
	if err != nil {
		return err
	}
	switch {
	case res.Paid:
		return s.ApplyGatewayResult(ctx, order.PaymentMethod, order.OrderNo, res.TransactionID, res.Amount, true)
	case res.Closed:
		return s.ApplyGatewayResult(ctx, order.PaymentMethod, order.OrderNo, res.TransactionID, res.Amount, false)
	}
	return nil
}

func (s *OrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*db_models.Order, error) {
	order, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, db_models.CancelByUser)
}

// ExpireOrder cancels an open order past expires_at. A paying order is checked with the gateway
// first: a payment that landed wins over expiry.
func (s *OrderService) ExpireOrder(ctx context.Context, order *db_models.Order) error {
	if order.Status == db_models.OrderStatusPaying {
		if err := s.ReconcilePaying(ctx, order); err != nil && !errors.Is(err, utils.ErrUnsupportedMethod) {
			return err
		}
		fresh, err := s.GetByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if !fresh.Status.IsOpen() {
			return nil
		}
		order = fresh
	}
	_, err := s.cancel(ctx, order, db_models.CancelBySystem)
	return err
}

func (s *OrderService) cancel(ctx context.Context, order *db_models.Order, by db_models.CancelActor) (*db_models.Order, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if order.Status == db_models.OrderStatusCancelled {
			return order, nil
		}
		if !order.Status.IsOpen() {
			return nil, fmt.Errorf("order is %s: %w", order.Status, utils.ErrOrderStateConflict)
		}
		from := order.Status
		swapped, err := s.transition(ctx, order, from, db_models.OrderStatusCancelled, map[string]interface{}{
			"cancelled_at": s.clock.Now().Unix(),
			"cancelled_by": by,
		}, releaseOwed(order))
		if err != nil {
			return nil, err
		}
		if swapped && from == db_models.OrderStatusPaying {
			s.closeAtGateway(context.WithoutCancel(ctx), order)
		}
		if order, err = s.GetByID(ctx, order.ID); err != nil {
			return nil, err
		}
		if swapped {
			return order, nil
		}
	}
	return nil, utils.ErrOrderStateConflict
}

// RequestRefund moves paid -> refunding with a pending Refund and submits it. A gateway error
// leaves the refund pending for the sweeper to resubmit. An order no gateway can refund gets a
// failed refund and is flagged.
func (s *OrderService) RequestRefund(ctx context.Context, userID, orderID uuid.UUID, reason string) (*db_models.Refund, error) {
	order, err := s.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !s.CanRefund(order) {
		return nil, utils.ErrRefundNotAllowed
	}

	now := s.clock.Now()
	refund := &db_models.Refund{
		BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now.Unix(), UpdatedAt: now.Unix()},
		RefundNo:  utils.NewRefundNo(now),
		OrderID:   order.ID,
		Amount:    order.FinalAmount,
		Reason:    reason,
		Status:    db_models.RefundStatusPending,
	}
	err = s.orders.Transaction(ctx, func(repo repositories.OrderRepository) error {
		ok, err := repo.CompareAndSwapStatus(ctx, order.ID, db_models.OrderStatusPaid, db_models.OrderStatusRefunding,
			map[string]interface{}{"updated_at": now.Unix()})
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrRefundNotAllowed
		}
		return repo.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OrderTransitions.WithLabelValues(string(db_models.OrderStatusPaid), string(db_models.OrderStatusRefunding)).Inc()
	s.log.Info("refund requested", zap.String("order_no", order.OrderNo), zap.String("refund_no", refund.RefundNo))

	if order.FinalAmount == 0 {
		if err := s.ApplyRefundResult(ctx, refund.RefundNo, "", true); err != nil {
			return nil, err
		}
	} else {
		order.Status = db_models.OrderStatusRefunding
		if err := s.submitRefund(ctx, order, refund); err != nil {
			s.log.Warn("submit refund, will retry", zap.String("refund_no", refund.RefundNo), zap.Error(err))
		}
	}
	return s.findRefund(ctx, refund.RefundNo)
}

func (s *OrderService) ResubmitRefund(ctx context.Context, refund *db_models.Refund) error {
	order, err := s.GetByID(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	return s.submitRefund(ctx, order, refund)
}

// submitRefund hands the refund to the gateway. Gateways are idempotent on refund_no, so
// resubmitting a pending or processing refund is safe. When no registered gateway serves the
// order's method the refund can never go through: it is failed and the order flagged.
func (s *OrderService) submitRefund(ctx context.Context, order *db_models.Order, refund *db_models.Refund) error {
	gw, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		s.log.Error("no gateway for refund", zap.String("order_no", order.OrderNo),
			zap.String("method", order.PaymentMethod), zap.Error(err))
		if applyErr := s.ApplyRefundResult(ctx, refund.RefundNo, "", false); applyErr != nil {
			return errors.Join(err, applyErr)
		}
		return fmt.Errorf("refund %s: %w", refund.RefundNo, err)
	}
	res, err := gw.Refund(ctx, order, refund)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case gateway.RefundProcessing:
		updates := map[string]interface{}{"updated_at": s.clock.Now().Unix()}
		if res.RefundID != "" {
			updates["refund_id"] = res.RefundID
		}
		open := []db_models.RefundStatus{db_models.RefundStatusPending, db_models.RefundStatusProcessing}
		if _, err := s.orders.CompareAndSwapRefund(ctx, refund.ID, open, db_models.RefundStatusProcessing, updates); err != nil {
			return fmt.Errorf("mark refund %s processing: %w", refund.RefundNo, err)
		}
	case gateway.RefundSucceeded, gateway.RefundFailed:
		if err := s.ApplyRefundResult(ctx, refund.RefundNo, res.RefundID, res.Outcome == gateway.RefundSucceeded); err != nil {
			return fmt.Errorf("apply refund %s result: %w", refund.RefundNo, err)
		}
	}
	return nil
}

// ApplyRefundResult settles a refund once. Success moves the order to refunded and re-credits
// spent points; failure leaves the order refunding and flags it for review.
func (s *OrderService) ApplyRefundResult(ctx context.Context, refundNo, refundID string, success bool) error {
	refund, err := s.findRefund(ctx, refundNo)
	if err != nil {
		return err
	}
	if refund.Status.IsTerminal() {
		if (refund.Status == db_models.RefundStatusSuccess) != success {
			s.log.Error("refund outcome changed after settlement",
				zap.String("refund_no", refundNo), zap.String("status", string(refund.Status)), zap.Bool("success", success))
		}
		return nil
	}
	order, err := s.GetByID(ctx, refund.OrderID)
	if err != nil {
		return err
	}

	now := s.clock.Now().Unix()
	updates := map[string]interface{}{"resolved_at": now, "updated_at": now}
	if refundID != "" {
		updates["refund_id"] = refundID
	}
	open := []db_models.RefundStatus{db_models.RefundStatusPending, db_models.RefundStatusProcessing}

	if !success {
		ok, err := s.orders.CompareAndSwapRefund(ctx, refund.ID, open, db_models.RefundStatusFailed, updates)
		if err != nil {
			return err
		}
		if ok {
			s.flag(ctx, order, ReviewRefundFailed)
		}
		return nil
	}

	settled := false
	err = s.orders.Transaction(ctx, func(repo repositories.OrderRepository) error {
		ok, err := repo.CompareAndSwapRefund(ctx, refund.ID, open, db_models.RefundStatusSuccess, updates)
		if err != nil || !ok {
			return err
		}
		ok, err = repo.CompareAndSwapStatus(ctx, order.ID, db_models.OrderStatusRefunding, db_models.OrderStatusRefunded,
			map[string]interface{}{"updated_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order %s is not refunding: %w", order.OrderNo, utils.ErrOrderStateConflict)
		}
		settled = true
		return repo.AppendCompensations(ctx, pendingRecords(order.ID, now, refundedOwed(order)))
	})
	if err != nil || !settled {
		return err
	}

	s.metrics.OrderTransitions.WithLabelValues(string(db_models.OrderStatusRefunding), string(db_models.OrderStatusRefunded)).Inc()
	s.log.Info("order refunded", zap.String("order_no", order.OrderNo), zap.String("refund_no", refundNo))
	if err := s.compensation.Run(context.WithoutCancel(ctx), order.ID); err != nil {
		s.log.Warn("compensation deferred to sweeper", zap.Stringer("order_id", order.ID), zap.Error(err))
	}
	return nil
}

func (s *OrderService) Refunds(ctx context.Context, userID, orderID uuid.UUID) ([]db_models.Refund, error) {
	if _, err := s.Get(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return s.orders.ListRefunds(ctx, orderID)
}

func (s *OrderService) findRefund(ctx context.Context, refundNo string) (*db_models.Refund, error) {
	refund, err := s.orders.FindRefundByNo(ctx, refundNo)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, utils.ErrRefundNotFound
	}
	return refund, nil
}
