package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/internal/repositories"
	mem "skillmart/pkg/memcache"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

var testStart = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

const (
	testProductType = "course"
	testProductID   = "go-101"
	testPrice       = 10000
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection serialises writers the way row locks do on Postgres.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(db_models.AllModels()...))
	return db
}

type publishedEvent struct {
	Subject string
	MsgID   string
	Event   EntitlementEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, subject, msgID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	event, _ := payload.(EntitlementEvent)
	p.events = append(p.events, publishedEvent{Subject: subject, MsgID: msgID, Event: event})
	return nil
}

func (p *recordingPublisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Subject)
	}
	return out
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	clock *utils.FakeClock

	metrics   *metrics.Metrics
	publisher *recordingPublisher
	store     *mem.TTLStore
	kit       *gateway.SandboxKit

	pointsRepo  repositories.PointsRepository
	couponRepo  repositories.CouponRepository
	orderRepo   repositories.OrderRepository
	compRepo    repositories.CompensationRepository
	productRepo repositories.IProductRepository

	points       PointsServiceInterface
	coupons      CouponServiceInterface
	compensation CompensationServiceInterface
	orders       OrderServiceInterface
	payments     PaymentServiceInterface
	sweeper      SweeperServiceInterface
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	clock := utils.NewFakeClock(testStart)

	registry, kit, err := gateway.NewSandbox(
		gateway.WechatOptions{AppID: "wxapp", MchID: "1900000001", NotifyURL: "https://example.com/payment/notify/wechat"},
		gateway.AlipayOptions{AppID: "2021000000000000", NotifyURL: "https://example.com/payment/notify/alipay"},
		clock,
	)
	require.NoError(t, err)

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		db:          db,
		clock:       clock,
		metrics:     metrics.NewNop(),
		publisher:   &recordingPublisher{},
		store:       mem.NewTTLStore(),
		kit:         kit,
		pointsRepo:  repositories.NewPointsRepository(db),
		couponRepo:  repositories.NewCouponRepository(db),
		orderRepo:   repositories.NewOrderRepository(db),
		compRepo:    repositories.NewCompensationRepository(db),
		productRepo: repositories.NewProductRepository(db),
	}
	h.points = NewPointsService(h.pointsRepo, clock, map[string]int64{"checkin": 20}, log)
	h.coupons = NewCouponService(h.couponRepo, clock, log)
	h.compensation = NewCompensationService(h.compRepo, h.orderRepo, h.points, h.coupons, h.publisher, clock, h.metrics, log)
	h.orders = NewOrderService(h.orderRepo, h.productRepo, h.points, h.coupons, h.compensation, registry, clock, OrderOptions{
		Expire:        30 * time.Minute,
		RefundWindow:  7 * 24 * time.Hour,
		PointsPerYuan: 100,
	}, h.metrics, log)
	h.payments = NewPaymentService(registry, h.orders, h.store, kit, h.metrics, log)
	h.sweeper = NewSweeperService(h.orderRepo, h.orders, h.compensation, h.coupons, h.store, clock, SweeperOptions{
		Interval:    time.Minute,
		Batch:       50,
		Concurrency: 2,
		PayingGrace: 5 * time.Minute,
	}, h.metrics, log)

	require.NoError(t, h.productRepo.UpsertProduct(h.ctx, &db_models.Product{
		Type: testProductType, RefID: testProductID, Name: "Go 101", Price: testPrice, IsActive: true,
	}))
	return h
}

func (h *harness) seedPoints(user uuid.UUID, amount int64) {
	h.t.Helper()
	_, err := h.points.Earn(h.ctx, user, amount, PointsSourceAdmin, uuid.NewString())
	require.NoError(h.t, err)
}

func (h *harness) createCoupon(req request_models.CreateCouponRequest) *db_models.Coupon {
	h.t.Helper()
	if req.Name == "" {
		req.Name = req.Code
	}
	coupon, err := h.coupons.Create(h.ctx, req)
	require.NoError(h.t, err)
	return coupon
}

func (h *harness) fixedCoupon(code string, fen string) *db_models.Coupon {
	return h.createCoupon(request_models.CreateCouponRequest{Code: code, Type: "fixed", Value: fen})
}

func (h *harness) checkout(user uuid.UUID, couponCode string, points int64) *db_models.Order {
	h.t.Helper()
	order, err := h.orders.Create(h.ctx, user, request_models.CreateOrderRequest{
		ProductType: testProductType,
		ProductID:   testProductID,
		CouponCode:  couponCode,
		PointsToUse: points,
	})
	require.NoError(h.t, err)
	return order
}

func (h *harness) startPayment(user uuid.UUID, order *db_models.Order, method string) (*gateway.Intent, *db_models.Order) {
	h.t.Helper()
	intent, paying, err := h.payments.CreateIntent(h.ctx, user, request_models.CreatePaymentRequest{
		OrderID: order.ID.String(),
		Method:  method,
	}, "203.0.113.7")
	require.NoError(h.t, err)
	return intent, paying
}

// pay drives an order through the sandbox gateway and the real notify path.
func (h *harness) pay(user uuid.UUID, order *db_models.Order, method string) *db_models.Order {
	h.t.Helper()
	_, paying := h.startPayment(user, order, method)
	body, header, err := h.kit.Settle(paying)
	require.NoError(h.t, err)
	require.NoError(h.t, h.payments.HandleNotify(h.ctx, method, body, header))
	return h.reload(order.ID)
}

func (h *harness) reload(orderID uuid.UUID) *db_models.Order {
	h.t.Helper()
	order, err := h.orders.GetByID(h.ctx, orderID)
	require.NoError(h.t, err)
	return order
}

func (h *harness) balance(user uuid.UUID) *db_models.PointsAccount {
	h.t.Helper()
	account, err := h.points.Balance(h.ctx, user)
	require.NoError(h.t, err)
	return account
}

func (h *harness) userCoupon(id uuid.UUID) *db_models.UserCoupon {
	h.t.Helper()
	uc, err := h.couponRepo.FindUserCoupon(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, uc)
	return uc
}

func (h *harness) refund(refundNo string) *db_models.Refund {
	h.t.Helper()
	refund, err := h.orderRepo.FindRefundByNo(h.ctx, refundNo)
	require.NoError(h.t, err)
	require.NotNil(h.t, refund)
	return refund
}
