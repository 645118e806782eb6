package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

type CouponRepository interface {
	Transaction(ctx context.Context, fn func(repo CouponRepository) error) error

	CreateCoupon(ctx context.Context, coupon *db_models.Coupon) error
	FindByCode(ctx context.Context, code string) (*db_models.Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*db_models.Coupon, error)
	// IncrementUsage bumps used_count only while it is below usage_limit. The single conditional
	// UPDATE is what keeps concurrent claims from over-issuing.
	IncrementUsage(ctx context.Context, couponID uuid.UUID, now int64) (bool, error)

	CountUserClaims(ctx context.Context, userID, couponID uuid.UUID) (int64, error)
	InsertUserCoupon(ctx context.Context, uc *db_models.UserCoupon) error
	FindUserCoupon(ctx context.Context, id uuid.UUID) (*db_models.UserCoupon, error)
	ListUserCouponsFor(ctx context.Context, userID, couponID uuid.UUID) ([]db_models.UserCoupon, error)
	ListUserCoupons(ctx context.Context, userID uuid.UUID, status db_models.UserCouponStatus) ([]db_models.UserCoupon, error)
	// TransitionUserCoupon moves an instance from -> to when its status (and, if given, its
	// order binding) still matches. It reports whether a row changed.
	TransitionUserCoupon(ctx context.Context, id uuid.UUID, from, to db_models.UserCouponStatus, boundOrder *uuid.UUID, updates map[string]interface{}) (bool, error)
	ExpireUserCoupons(ctx context.Context, now int64) (int64, error)
}

type couponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) Transaction(ctx context.Context, fn func(repo CouponRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&couponRepository{db: tx})
	})
}

func (r *couponRepository) CreateCoupon(ctx context.Context, coupon *db_models.Coupon) error {
	err := r.db.WithContext(ctx).Create(coupon).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return utils.ErrCouponCodeTaken
	}
	return err
}

func (r *couponRepository) FindByCode(ctx context.Context, code string) (*db_models.Coupon, error) {
	var coupon db_models.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) FindByID(ctx context.Context, id uuid.UUID) (*db_models.Coupon, error) {
	var coupon db_models.Coupon
	if err := r.db.WithContext(ctx).First(&coupon, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) IncrementUsage(ctx context.Context, couponID uuid.UUID, now int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db_models.Coupon{}).
		Where("id = ? AND (usage_limit = ? OR used_count < usage_limit)", couponID, db_models.UnlimitedUsage).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *couponRepository) CountUserClaims(ctx context.Context, userID, couponID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db_models.UserCoupon{}).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		Count(&count).Error
	return count, err
}

func (r *couponRepository) InsertUserCoupon(ctx context.Context, uc *db_models.UserCoupon) error {
	return r.db.WithContext(ctx).Omit("Coupon").Create(uc).Error
}

func (r *couponRepository) FindUserCoupon(ctx context.Context, id uuid.UUID) (*db_models.UserCoupon, error) {
	var uc db_models.UserCoupon
	if err := r.db.WithContext(ctx).Preload("Coupon").First(&uc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &uc, nil
}

func (r *couponRepository) ListUserCouponsFor(ctx context.Context, userID, couponID uuid.UUID) ([]db_models.UserCoupon, error) {
	var ucs []db_models.UserCoupon
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		Order("received_at ASC").
		Find(&ucs).Error
	return ucs, err
}

func (r *couponRepository) ListUserCoupons(ctx context.Context, userID uuid.UUID, status db_models.UserCouponStatus) ([]db_models.UserCoupon, error) {
	var ucs []db_models.UserCoupon
	q := r.db.WithContext(ctx).Preload("Coupon").Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("received_at DESC").Find(&ucs).Error
	return ucs, err
}

func (r *couponRepository) TransitionUserCoupon(ctx context.Context, id uuid.UUID, from, to db_models.UserCouponStatus, boundOrder *uuid.UUID, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	q := r.db.WithContext(ctx).Model(&db_models.UserCoupon{}).Where("id = ? AND status = ?", id, from)
	if boundOrder != nil {
		q = q.Where("used_order_id = ?", *boundOrder)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *couponRepository) ExpireUserCoupons(ctx context.Context, now int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&db_models.UserCoupon{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", db_models.UserCouponAvailable, now).
		Updates(map[string]interface{}{
			"status":     db_models.UserCouponExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
