package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"skillmart/internal/models/db_models"
	"skillmart/internal/repositories"
	mem "skillmart/pkg/memcache"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

const sweeperLeaseKey = "sweeper:lease"

type SweeperOptions struct {
	Interval    time.Duration
	Batch       int
	Concurrency int
	PayingGrace time.Duration
	// SettleDelay is how long a pending record or refund may sit before the sweeper takes over
	// from the request that wrote it.
	SettleDelay time.Duration
	// ArmedHorizon is the longest a checkout can take; armed records older than this belong to
	// a checkout that died.
	ArmedHorizon time.Duration
	// RefundRecheck is how long a processing refund is left to its callback before the sweeper
	// asks the provider again.
	RefundRecheck time.Duration
}

type SweeperServiceInterface interface {
	Start()
	Stop(ctx context.Context) error
	// Sweep runs one pass if this instance wins the lease.
	Sweep(ctx context.Context) error
}

type SweeperService struct {
	orderRepo    repositories.OrderRepository
	orders       OrderServiceInterface
	compensation CompensationServiceInterface
	coupons      CouponServiceInterface
	lease        mem.Lease
	clock        utils.Clock
	opts         SweeperOptions
	metrics      *metrics.Metrics
	log          *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeperService(
	orderRepo repositories.OrderRepository,
	orders OrderServiceInterface,
	compensation CompensationServiceInterface,
	coupons CouponServiceInterface,
	lease mem.Lease,
	clock utils.Clock,
	opts SweeperOptions,
	m *metrics.Metrics,
	log *zap.Logger,
) SweeperServiceInterface {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 30 * time.Second
	}
	if opts.ArmedHorizon <= 0 {
		opts.ArmedHorizon = 5 * time.Minute
	}
	if opts.RefundRecheck <= 0 {
		opts.RefundRecheck = 10 * time.Minute
	}
	return &SweeperService{
		orderRepo:    orderRepo,
		orders:       orders,
		compensation: compensation,
		coupons:      coupons,
		lease:        lease,
		clock:        clock,
		opts:         opts,
		metrics:      m,
		log:          log.Named("sweeper"),
	}
}

func (s *SweeperService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.log.Info("sweeper started", zap.Duration("interval", s.opts.Interval))
}

func (s *SweeperService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.log.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SweeperService) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("sweep pass", zap.Error(err))
			}
		}
	}
}

func (s *SweeperService) Sweep(ctx context.Context) error {
	token, ok, err := s.lease.Acquire(ctx, sweeperLeaseKey, s.opts.Interval)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("another instance holds the sweep lease")
		return nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx), sweeperLeaseKey, token); err != nil {
			s.log.Warn("release sweep lease", zap.Error(err))
		}
	}()

	start := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"replay_compensations", s.replayCompensations},
		{"reconcile_paying", s.reconcilePaying},
		{"expire_orders", s.expireOrders},
		{"fire_orphaned_checkouts", s.fireOrphaned},
		{"retry_refunds", s.retryRefunds},
		{"expire_coupons", s.expireCoupons},
	}
	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.run(ctx); err != nil {
			s.log.Error("sweep step failed", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SweeperService) count(action string, n int) {
	if n > 0 {
		s.metrics.SweeperActions.WithLabelValues(action).Add(float64(n))
	}
}

func (s *SweeperService) replayCompensations(ctx context.Context) error {
	n, err := s.compensation.ReplayPending(ctx, s.opts.SettleDelay, s.opts.Batch)
	s.count("compensation_replayed", n)
	return err
}

func (s *SweeperService) fireOrphaned(ctx context.Context) error {
	n, err := s.compensation.FireOrphaned(ctx, s.opts.ArmedHorizon, s.opts.Batch)
	s.count("checkout_unwound", n)
	return err
}

func (s *SweeperService) reconcilePaying(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.opts.PayingGrace).Unix()
	orders, err := s.orderRepo.FindStalePaying(ctx, cutoff, s.opts.Batch)
	if err != nil {
		return err
	}
	n := s.forEachOrder(ctx, orders, "reconcile paying order", s.orders.ReconcilePaying)
	s.count("paying_reconciled", n)
	return nil
}

func (s *SweeperService) expireOrders(ctx context.Context) error {
	orders, err := s.orderRepo.FindExpiredOpen(ctx, s.clock.Now().Unix(), s.opts.Batch)
	if err != nil {
		return err
	}
	n := s.forEachOrder(ctx, orders, "expire order", s.orders.ExpireOrder)
	s.count("order_expired", n)
	return nil
}

func (s *SweeperService) retryRefunds(ctx context.Context) error {
	now := s.clock.Now()
	refunds, err := s.orderRepo.FindUnsettledRefunds(ctx,
		now.Add(-s.opts.SettleDelay).Unix(), now.Add(-s.opts.RefundRecheck).Unix(), s.opts.Batch)
	if err != nil {
		return err
	}
	var (
		g  errgroup.Group
		mu sync.Mutex
		n  int
	)
	g.SetLimit(s.opts.Concurrency)
	for i := range refunds {
		refund := &refunds[i]
		g.Go(func() error {
			if err := s.orders.ResubmitRefund(ctx, refund); err != nil {
				s.log.Warn("resubmit refund", zap.String("refund_no", refund.RefundNo), zap.Error(err))
				return nil
			}
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	s.count("refund_resubmitted", n)
	return nil
}

func (s *SweeperService) expireCoupons(ctx context.Context) error {
	n, err := s.coupons.ExpireStale(ctx)
	s.count("coupon_expired", int(n))
	return err
}

// forEachOrder runs fn over orders with bounded concurrency. Per-order failures are logged and
// retried next pass; the count is of successes.
func (s *SweeperService) forEachOrder(ctx context.Context, orders []db_models.Order, what string, fn func(context.Context, *db_models.Order) error) int {
	var (
		g  errgroup.Group
		mu sync.Mutex
		n  int
	)
	g.SetLimit(s.opts.Concurrency)
	for i := range orders {
		order := &orders[i]
		g.Go(func() error {
			if err := fn(ctx, order); err != nil {
				s.log.Warn(what, zap.String("order_no", order.OrderNo), zap.Error(err))
				return nil
			}
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return n
}
