package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"skillmart/internal/models/db_models"
)

type OrderRepository interface {
	Transaction(ctx context.Context, fn func(repo OrderRepository) error) error

	Create(ctx context.Context, order *db_models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*db_models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status db_models.OrderStatus, offset, limit int) ([]db_models.Order, int64, error)

	// CompareAndSwapStatus applies updates only if the order is still in from. Every order state
	// change goes through here; the bool is false when another writer got there first.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to db_models.OrderStatus, updates map[string]interface{}) (bool, error)
	UpdateIntent(ctx context.Context, id uuid.UUID, status db_models.OrderStatus, updates map[string]interface{}) (bool, error)
	FlagForReview(ctx context.Context, id uuid.UUID, reason string, now int64) error

	FindExpiredOpen(ctx context.Context, now int64, limit int) ([]db_models.Order, error)
	FindStalePaying(ctx context.Context, payingBefore int64, limit int) ([]db_models.Order, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	CreateRefund(ctx context.Context, refund *db_models.Refund) error
	FindRefundByNo(ctx context.Context, refundNo string) (*db_models.Refund, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID) ([]db_models.Refund, error)
	CompareAndSwapRefund(ctx context.Context, id uuid.UUID, from []db_models.RefundStatus, to db_models.RefundStatus, updates map[string]interface{}) (bool, error)
	// FindUnsettledRefunds returns pending refunds untouched since pendingBefore and processing
	// refunds untouched since processingBefore, least recently touched first.
	FindUnsettledRefunds(ctx context.Context, pendingBefore, processingBefore int64, limit int) ([]db_models.Refund, error)

	// AppendCompensations writes compensation records; callers use it inside Transaction so the
	// records commit with the transition that owes them.
	AppendCompensations(ctx context.Context, records []db_models.CompensationRecord) error
	// DischargeArmed retires the order's armed checkout records and reports how many it retired.
	DischargeArmed(ctx context.Context, orderID uuid.UUID, now int64) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Transaction(ctx context.Context, fn func(repo OrderRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&orderRepository{db: tx})
	})
}

func (r *orderRepository) Create(ctx context.Context, order *db_models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.Order, error) {
	var order db_models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*db_models.Order, error) {
	var order db_models.Order
	if err := r.db.WithContext(ctx).First(&order, "order_no = ?", orderNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID uuid.UUID, status db_models.OrderStatus, offset, limit int) ([]db_models.Order, int64, error) {
	var (
		orders []db_models.Order
		total  int64
	)
	scope := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&db_models.Order{}).Where("user_id = ?", userID)
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := scope().Order("created_at DESC").Offset(offset).Limit(limit).Find(&orders).Error
	return orders, total, err
}

func (r *orderRepository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to db_models.OrderStatus, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&db_models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) UpdateIntent(ctx context.Context, id uuid.UUID, status db_models.OrderStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.Order{}).
		Where("id = ? AND status = ?", id, status).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) FlagForReview(ctx context.Context, id uuid.UUID, reason string, now int64) error {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	return r.db.WithContext(ctx).Model(&db_models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"manual_review": true,
			"review_reason": reason,
			"updated_at":    now,
		}).Error
}

func (r *orderRepository) FindExpiredOpen(ctx context.Context, now int64, limit int) ([]db_models.Order, error) {
	var orders []db_models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?",
			[]db_models.OrderStatus{db_models.OrderStatusPending, db_models.OrderStatusPaying}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) FindStalePaying(ctx context.Context, payingBefore int64, limit int) ([]db_models.Order, error) {
	var orders []db_models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND paying_at IS NOT NULL AND paying_at < ?", db_models.OrderStatusPaying, payingBefore).
		Order("paying_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db_models.Order{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *orderRepository) CreateRefund(ctx context.Context, refund *db_models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *orderRepository) FindRefundByNo(ctx context.Context, refundNo string) (*db_models.Refund, error) {
	var refund db_models.Refund
	if err := r.db.WithContext(ctx).First(&refund, "refund_no = ?", refundNo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

func (r *orderRepository) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]db_models.Refund, error) {
	var refunds []db_models.Refund
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&refunds).Error
	return refunds, err
}

func (r *orderRepository) CompareAndSwapRefund(ctx context.Context, id uuid.UUID, from []db_models.RefundStatus, to db_models.RefundStatus, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&db_models.Refund{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) FindUnsettledRefunds(ctx context.Context, pendingBefore, processingBefore int64, limit int) ([]db_models.Refund, error) {
	var refunds []db_models.Refund
	err := r.db.WithContext(ctx).
		Where("(status = ? AND updated_at < ?) OR (status = ? AND updated_at < ?)",
			db_models.RefundStatusPending, pendingBefore, db_models.RefundStatusProcessing, processingBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&refunds).Error
	return refunds, err
}

func (r *orderRepository) AppendCompensations(ctx context.Context, records []db_models.CompensationRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

func (r *orderRepository) DischargeArmed(ctx context.Context, orderID uuid.UUID, now int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db_models.CompensationRecord{}).
		Where("order_id = ? AND status = ?", orderID, db_models.CompensationArmed).
		Updates(map[string]interface{}{
			"status":     db_models.CompensationDischarged,
			"done_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
