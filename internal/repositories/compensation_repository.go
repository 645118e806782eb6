package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"skillmart/internal/models/db_models"
)

type CompensationRepository interface {
	Insert(ctx context.Context, record *db_models.CompensationRecord) error
	ListForOrder(ctx context.Context, orderID uuid.UUID, status db_models.CompensationStatus) ([]db_models.CompensationRecord, error)
	// ListStale returns records still in status that were written before the cutoff, oldest first.
	ListStale(ctx context.Context, status db_models.CompensationStatus, createdBefore int64, limit int) ([]db_models.CompensationRecord, error)
	// Settle moves a record from its current status to done; false means someone else settled it.
	Settle(ctx context.Context, id uuid.UUID, from, to db_models.CompensationStatus, now int64) (bool, error)
	// Park takes a record that keeps failing out of the replay queue.
	Park(ctx context.Context, id uuid.UUID, from db_models.CompensationStatus, now int64) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, msg string, now int64) error
	CountByStatus(ctx context.Context, status db_models.CompensationStatus) (int64, error)
}

type compensationRepository struct {
	db *gorm.DB
}

func NewCompensationRepository(db *gorm.DB) CompensationRepository {
	return &compensationRepository{db: db}
}

func (r *compensationRepository) Insert(ctx context.Context, record *db_models.CompensationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *compensationRepository) ListForOrder(ctx context.Context, orderID uuid.UUID, status db_models.CompensationStatus) ([]db_models.CompensationRecord, error) {
	var records []db_models.CompensationRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, status).
		Order("seq ASC").
		Find(&records).Error
	return records, err
}

func (r *compensationRepository) ListStale(ctx context.Context, status db_models.CompensationStatus, createdBefore int64, limit int) ([]db_models.CompensationRecord, error) {
	var records []db_models.CompensationRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, createdBefore).
		Order("created_at ASC, seq ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *compensationRepository) Settle(ctx context.Context, id uuid.UUID, from, to db_models.CompensationStatus, now int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.CompensationRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"done_at":    now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *compensationRepository) Park(ctx context.Context, id uuid.UUID, from db_models.CompensationStatus, now int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.CompensationRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     db_models.CompensationStuck,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *compensationRepository) RecordFailure(ctx context.Context, id uuid.UUID, msg string, now int64) error {
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return r.db.WithContext(ctx).Model(&db_models.CompensationRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
			"updated_at": now,
		}).Error
}

func (r *compensationRepository) CountByStatus(ctx context.Context, status db_models.CompensationStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db_models.CompensationRecord{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
