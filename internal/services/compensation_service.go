package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"skillmart/internal/models/db_models"
	"skillmart/internal/repositories"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

const (
	SubjectOrderPaid     = "orders.paid"
	SubjectOrderRefunded = "orders.refunded"
)

// maxCompensationAttempts bounds how often a record is tried before it is parked as stuck.
const maxCompensationAttempts = 10

// EventPublisher delivers domain events. msgID is the dedup id downstream consumers key on.
type EventPublisher interface {
	Publish(ctx context.Context, subject, msgID string, payload any) error
}

// EntitlementEvent tells the catalog side to grant or revoke access to what was bought.
type EntitlementEvent struct {
	OrderID    uuid.UUID                 `json:"order_id"`
	OrderNo    string                    `json:"order_no"`
	UserID     uuid.UUID                 `json:"user_id"`
	Product    db_models.ProductSnapshot `json:"product"`
	Amount     int64                     `json:"amount"`
	OccurredAt int64                     `json:"occurred_at"`
}

type CompensationServiceInterface interface {
	// Arm writes a checkout step's undo action before the step runs.
	Arm(ctx context.Context, orderID uuid.UUID, seq int, action db_models.CompensationAction, refID uuid.UUID) error
	// Unwind fires the order's armed records newest first. Used when checkout fails.
	Unwind(ctx context.Context, orderID uuid.UUID) error
	// Run executes the order's pending records in order.
	Run(ctx context.Context, orderID uuid.UUID) error
	// ReplayPending executes pending records written before now-settle.
	ReplayPending(ctx context.Context, settle time.Duration, limit int) (int, error)
	// FireOrphaned fires armed records older than horizon whose order never committed.
	FireOrphaned(ctx context.Context, horizon time.Duration, limit int) (int, error)
}

type CompensationService struct {
	repo      repositories.CompensationRepository
	orders    repositories.OrderRepository
	points    PointsServiceInterface
	coupons   CouponServiceInterface
	publisher EventPublisher
	clock     utils.Clock
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewCompensationService(
	repo repositories.CompensationRepository,
	orders repositories.OrderRepository,
	points PointsServiceInterface,
	coupons CouponServiceInterface,
	publisher EventPublisher,
	clock utils.Clock,
	m *metrics.Metrics,
	log *zap.Logger,
) CompensationServiceInterface {
	return &CompensationService{
		repo:      repo,
		orders:    orders,
		points:    points,
		coupons:   coupons,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		log:       log.Named("compensation"),
	}
}

func (s *CompensationService) Arm(ctx context.Context, orderID uuid.UUID, seq int, action db_models.CompensationAction, refID uuid.UUID) error {
	now := s.clock.Now().Unix()
	return s.repo.Insert(ctx, &db_models.CompensationRecord{
		BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OrderID:   orderID,
		Seq:       seq,
		Action:    action,
		RefID:     refID,
		Status:    db_models.CompensationArmed,
	})
}

func (s *CompensationService) Unwind(ctx context.Context, orderID uuid.UUID) error {
	records, err := s.repo.ListForOrder(ctx, orderID, db_models.CompensationArmed)
	if err != nil {
		return err
	}
	slices.Reverse(records)

	var errs []error
	for i := range records {
		if err := s.execute(ctx, &records[i], db_models.CompensationArmed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *CompensationService) Run(ctx context.Context, orderID uuid.UUID) error {
	records, err := s.repo.ListForOrder(ctx, orderID, db_models.CompensationPending)
	if err != nil {
		return err
	}
	var errs []error
	for i := range records {
		if err := s.execute(ctx, &records[i], db_models.CompensationPending); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *CompensationService) ReplayPending(ctx context.Context, settle time.Duration, limit int) (int, error) {
	cutoff := s.clock.Now().Add(-settle).Unix()
	records, err := s.repo.ListStale(ctx, db_models.CompensationPending, cutoff, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for i := range records {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := s.execute(ctx, &records[i], db_models.CompensationPending); err != nil {
			continue
		}
		done++
	}
	return done, nil
}

func (s *CompensationService) FireOrphaned(ctx context.Context, horizon time.Duration, limit int) (int, error) {
	cutoff := s.clock.Now().Add(-horizon).Unix()
	records, err := s.repo.ListStale(ctx, db_models.CompensationArmed, cutoff, limit)
	if err != nil {
		return 0, err
	}

	byOrder := make(map[uuid.UUID][]db_models.CompensationRecord)
	var order []uuid.UUID
	for _, rec := range records {
		if _, ok := byOrder[rec.OrderID]; !ok {
			order = append(order, rec.OrderID)
		}
		byOrder[rec.OrderID] = append(byOrder[rec.OrderID], rec)
	}

	fired := 0
	for _, orderID := range order {
		exists, err := s.orders.Exists(ctx, orderID)
		if err != nil {
			return fired, err
		}
		if exists {
			// The order committed; its discharge was lost with a crash between writes.
			if _, err := s.orders.DischargeArmed(ctx, orderID, s.clock.Now().Unix()); err != nil {
				return fired, err
			}
			continue
		}

		recs := byOrder[orderID]
		slices.Reverse(recs)
		for i := range recs {
			rec := &recs[i]
			// Claim the record first so a late checkout commit can no longer discharge it.
			claimed, err := s.repo.Settle(ctx, rec.ID, db_models.CompensationArmed, db_models.CompensationPending, s.clock.Now().Unix())
			if err != nil {
				return fired, err
			}
			if !claimed {
				continue
			}
			if err := s.execute(ctx, rec, db_models.CompensationPending); err != nil {
				continue
			}
			fired++
		}
		s.log.Warn("fired orphaned checkout records", zap.Stringer("order_id", orderID), zap.Int("records", len(recs)))
	}
	return fired, nil
}

// execute applies rec and settles it from -> done. A failed action stays in from and is retried
// until it has failed maxCompensationAttempts times; then it is parked and its order flagged.
func (s *CompensationService) execute(ctx context.Context, rec *db_models.CompensationRecord, from db_models.CompensationStatus) error {
	if err := s.apply(ctx, rec); err != nil {
		s.metrics.CompensationErrors.WithLabelValues(string(rec.Action)).Inc()
		now := s.clock.Now().Unix()
		if ferr := s.repo.RecordFailure(ctx, rec.ID, err.Error(), now); ferr != nil {
			s.log.Error("record compensation failure", zap.Stringer("record_id", rec.ID), zap.Error(ferr))
		}
		attempts := rec.Attempts + 1
		s.log.Warn("compensation action failed",
			zap.Stringer("order_id", rec.OrderID),
			zap.String("action", string(rec.Action)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		if attempts >= maxCompensationAttempts {
			s.park(ctx, rec, from, now)
		}
		return fmt.Errorf("%s for order %s: %w", rec.Action, rec.OrderID, err)
	}
	if _, err := s.repo.Settle(ctx, rec.ID, from, db_models.CompensationDone, s.clock.Now().Unix()); err != nil {
		return err
	}
	return nil
}

func (s *CompensationService) park(ctx context.Context, rec *db_models.CompensationRecord, from db_models.CompensationStatus, now int64) {
	parked, err := s.repo.Park(ctx, rec.ID, from, now)
	if err != nil {
		s.log.Error("park compensation record", zap.Stringer("record_id", rec.ID), zap.Error(err))
		return
	}
	if !parked {
		return
	}
	s.metrics.ManualReviews.WithLabelValues(ReviewCompensationStuck).Inc()
	if err := s.orders.FlagForReview(ctx, rec.OrderID, ReviewCompensationStuck, now); err != nil {
		s.log.Error("flag order for review", zap.Stringer("order_id", rec.OrderID), zap.Error(err))
		return
	}
	s.log.Error("compensation record stuck, order flagged for manual review",
		zap.Stringer("order_id", rec.OrderID),
		zap.Stringer("record_id", rec.ID),
		zap.String("action", string(rec.Action)))
}

func (s *CompensationService) apply(ctx context.Context, rec *db_models.CompensationRecord) error {
	switch rec.Action {
	case db_models.ActionReleasePoints:
		return s.points.ReleaseOrder(ctx, rec.OrderID)
	case db_models.ActionRestoreCoupon:
		return s.coupons.Restore(ctx, rec.RefID, rec.OrderID)
	case db_models.ActionConfirmPoints:
		return s.points.Confirm(ctx, rec.RefID)
	case db_models.ActionConsumeCoupon:
		return s.coupons.Consume(ctx, rec.RefID, rec.OrderID)
	case db_models.ActionGrantEntitlement:
		return s.publish(ctx, rec.OrderID, SubjectOrderPaid)
	case db_models.ActionRevokeEntitlement:
		return s.publish(ctx, rec.OrderID, SubjectOrderRefunded)
	case db_models.ActionRefundPoints:
		order, err := s.mustOrder(ctx, rec.OrderID)
		if err != nil {
			return err
		}
		if order.PointsUsed <= 0 {
			return nil
		}
		_, err = s.points.Earn(ctx, order.UserID, order.PointsUsed, PointsSourceRefund, order.ID.String())
		if errors.Is(err, utils.ErrDuplicateReference) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unknown compensation action %q", rec.Action)
}

func (s *CompensationService) publish(ctx context.Context, orderID uuid.UUID, subject string) error {
	order, err := s.mustOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, subject, subject+":"+order.ID.String(), EntitlementEvent{
		OrderID:    order.ID,
		OrderNo:    order.OrderNo,
		UserID:     order.UserID,
		Product:    order.Product.Data(),
		Amount:     order.FinalAmount,
		OccurredAt: s.clock.Now().Unix(),
	})
}

func (s *CompensationService) mustOrder(ctx context.Context, orderID uuid.UUID) (*db_models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}
