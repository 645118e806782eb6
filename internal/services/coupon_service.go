package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/internal/repositories"
	"skillmart/pkg/utils"
)

// CouponQuote is a validated coupon application against one order amount.
type CouponQuote struct {
	Coupon     *db_models.Coupon
	UserCoupon *db_models.UserCoupon
	Discount   int64
}

type CouponServiceInterface interface {
	Create(ctx context.Context, req request_models.CreateCouponRequest) (*db_models.Coupon, error)
	Claim(ctx context.Context, userID uuid.UUID, code string) (*db_models.UserCoupon, error)
	Validate(ctx context.Context, userID uuid.UUID, code string, orderAmount int64, productType, productID string) (*CouponQuote, error)
	Reserve(ctx context.Context, userCouponID, orderID uuid.UUID) error
	Consume(ctx context.Context, userCouponID, orderID uuid.UUID) error
	Restore(ctx context.Context, userCouponID, orderID uuid.UUID) error
	ListMine(ctx context.Context, userID uuid.UUID, status db_models.UserCouponStatus) ([]db_models.UserCoupon, error)
	ExpireStale(ctx context.Context) (int64, error)
}

type CouponService struct {
	repo  repositories.CouponRepository
	clock utils.Clock
	log   *zap.Logger
}

func NewCouponService(repo repositories.CouponRepository, clock utils.Clock, log *zap.Logger) CouponServiceInterface {
	return &CouponService{
		repo:  repo,
		clock: clock,
		log:   log.Named("coupons"),
	}
}

func (s *CouponService) Create(ctx context.Context, req request_models.CreateCouponRequest) (*db_models.Coupon, error) {
	value, err := decimal.NewFromString(req.Value)
	if err != nil || !value.IsPositive() {
		return nil, fmt.Errorf("coupon value %q: %w", req.Value, utils.ErrInvalidAmount)
	}
	couponType := db_models.CouponType(req.Type)
	switch couponType {
	case db_models.CouponTypeFixed:
		if !value.Equal(value.Truncate(0)) {
			return nil, fmt.Errorf("fixed coupon value must be whole fen: %w", utils.ErrInvalidAmount)
		}
	case db_models.CouponTypePercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("percentage above 100: %w", utils.ErrInvalidAmount)
		}
	default:
		return nil, fmt.Errorf("unknown coupon type %q: %w", req.Type, utils.ErrInvalidAmount)
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && *req.ValidUntil < *req.ValidFrom {
		return nil, fmt.Errorf("valid_until before valid_from: %w", utils.ErrInvalidAmount)
	}

	usageLimit := db_models.UnlimitedUsage
	if req.UsageLimit != nil {
		usageLimit = *req.UsageLimit
	}
	perUser := 1
	if req.PerUserLimit != nil {
		perUser = *req.PerUserLimit
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock.Now().Unix()
	coupon := &db_models.Coupon{
		BaseModel:      db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Code:           strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:           req.Name,
		Type:           couponType,
		Value:          value,
		MaxDiscount:    req.MaxDiscount,
		MinOrderAmount: req.MinOrderAmount,
		Applicable: datatypes.NewJSONType(db_models.ProductScope{
			ProductTypes: req.ProductTypes,
			ProductIDs:   req.ProductIDs,
		}),
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
		UsageLimit:   usageLimit,
		PerUserLimit: perUser,
		IsActive:     active,
	}
	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		return nil, err
	}
	s.log.Info("coupon created", zap.String("code", coupon.Code), zap.String("type", string(coupon.Type)))
	return coupon, nil
}

// Claim issues one instance of the coupon to the user. The global counter increment and the
// per-user check run in one transaction so a rejected per-user claim does not consume stock.
func (s *CouponService) Claim(ctx context.Context, userID uuid.UUID, code string) (*db_models.UserCoupon, error) {
	coupon, err := s.repo.FindByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, utils.ErrCouponNotFound
	}
	now := s.clock.Now().Unix()
	if err := checkClaimable(coupon, now); err != nil {
		return nil, err
	}

	var uc *db_models.UserCoupon
	err = s.repo.Transaction(ctx, func(repo repositories.CouponRepository) error {
		ok, err := repo.IncrementUsage(ctx, coupon.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return utils.ErrCouponExhausted
		}
		if coupon.PerUserLimit > 0 {
			claimed, err := repo.CountUserClaims(ctx, userID, coupon.ID)
			if err != nil {
				return err
			}
			if claimed >= int64(coupon.PerUserLimit) {
				return utils.ErrCouponAlreadyClaimed
			}
		}
		uc = &db_models.UserCoupon{
			BaseModel:  db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			UserID:     userID,
			CouponID:   coupon.ID,
			Status:     db_models.UserCouponAvailable,
			ReceivedAt: now,
			ExpiresAt:  coupon.ValidUntil,
		}
		return repo.InsertUserCoupon(ctx, uc)
	})
	if err != nil {
		return nil, err
	}
	uc.Coupon = *coupon
	return uc, nil
}

func checkClaimable(coupon *db_models.Coupon, now int64) error {
	if !coupon.IsActive {
		return utils.ErrCouponInactive
	}
	started, notExpired := coupon.InWindow(now)
	if !started {
		return utils.ErrCouponNotStarted
	}
	if !notExpired {
		return utils.ErrCouponExpired
	}
	if coupon.UsageLimit != db_models.UnlimitedUsage && coupon.UsedCount >= coupon.UsageLimit {
		return utils.ErrCouponExhausted
	}
	return nil
}

// Validate checks the coupon against an order and picks the user's oldest available instance.
func (s *CouponService) Validate(ctx context.Context, userID uuid.UUID, code string, orderAmount int64, productType, productID string) (*CouponQuote, error) {
	coupon, err := s.repo.FindByCode(ctx, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, utils.ErrCouponNotFound
	}
	if !coupon.IsActive {
		return nil, utils.ErrCouponInactive
	}
	now := s.clock.Now().Unix()
	started, notExpired := coupon.InWindow(now)
	if !started {
		return nil, utils.ErrCouponNotStarted
	}
	if !notExpired {
		return nil, utils.ErrCouponExpired
	}
	if !coupon.Applicable.Data().Allows(productType, productID) {
		return nil, utils.ErrCouponNotApplicable
	}
	if orderAmount < coupon.MinOrderAmount {
		return nil, utils.ErrCouponMinimumNotMet
	}

	instances, err := s.repo.ListUserCouponsFor(ctx, userID, coupon.ID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		if coupon.UsageLimit != db_models.UnlimitedUsage && coupon.UsedCount >= coupon.UsageLimit {
			return nil, utils.ErrCouponExhausted
		}
		return nil, utils.ErrCouponNotClaimed
	}
	var picked *db_models.UserCoupon
	for i := range instances {
		uc := &instances[i]
		if uc.Status != db_models.UserCouponAvailable {
			continue
		}
		if uc.ExpiresAt != nil && now > *uc.ExpiresAt {
			continue
		}
		picked = uc
		break
	}
	if picked == nil {
		return nil, utils.ErrCouponUnavailable
	}
	picked.Coupon = *coupon

	return &CouponQuote{
		Coupon:     coupon,
		UserCoupon: picked,
		Discount:   Discount(coupon, orderAmount),
	}, nil
}

// Discount computes the coupon's discount on amount in fen. The result never exceeds amount.
func Discount(coupon *db_models.Coupon, amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var d int64
	switch coupon.Type {
	case db_models.CouponTypeFixed:
		d = coupon.Value.Floor().IntPart()
	case db_models.CouponTypePercentage:
		d = utils.PercentOf(amount, coupon.Value)
		if coupon.MaxDiscount > 0 && d > coupon.MaxDiscount {
			d = coupon.MaxDiscount
		}
	}
	return min(max(d, 0), amount)
}

func (s *CouponService) Reserve(ctx context.Context, userCouponID, orderID uuid.UUID) error {
	now := s.clock.Now().Unix()
	ok, err := s.repo.TransitionUserCoupon(ctx, userCouponID,
		db_models.UserCouponAvailable, db_models.UserCouponReserved, nil,
		map[string]interface{}{"used_order_id": orderID, "updated_at": now})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	uc, err := s.repo.FindUserCoupon(ctx, userCouponID)
	if err != nil {
		return err
	}
	if uc == nil {
		return utils.ErrCouponNotFound
	}
	if uc.Status == db_models.UserCouponReserved && uc.UsedOrderID != nil && *uc.UsedOrderID == orderID {
		return nil
	}
	return utils.ErrCouponUnavailable
}

// Consume marks a reserved instance used by orderID. It is idempotent for the same order.
func (s *CouponService) Consume(ctx context.Context, userCouponID, orderID uuid.UUID) error {
	now := s.clock.Now().Unix()
	ok, err := s.repo.TransitionUserCoupon(ctx, userCouponID,
		db_models.UserCouponReserved, db_models.UserCouponUsed, &orderID,
		map[string]interface{}{"used_at": now, "updated_at": now})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	uc, err := s.repo.FindUserCoupon(ctx, userCouponID)
	if err != nil {
		return err
	}
	if uc == nil {
		return utils.ErrCouponNotFound
	}
	if uc.Status == db_models.UserCouponUsed && uc.UsedOrderID != nil && *uc.UsedOrderID == orderID {
		return nil
	}
	return fmt.Errorf("consume coupon %s for order %s in status %s: %w", userCouponID, orderID, uc.Status, utils.ErrCouponUnavailable)
}

// Restore returns an instance reserved by orderID to available. Anything else is left untouched.
func (s *CouponService) Restore(ctx context.Context, userCouponID, orderID uuid.UUID) error {
	now := s.clock.Now().Unix()
	_, err := s.repo.TransitionUserCoupon(ctx, userCouponID,
		db_models.UserCouponReserved, db_models.UserCouponAvailable, &orderID,
		map[string]interface{}{"used_order_id": nil, "updated_at": now})
	return err
}

// ListMine returns the user's coupons; available instances past their window read as expired
// until the sweeper persists it.
func (s *CouponService) ListMine(ctx context.Context, userID uuid.UUID, status db_models.UserCouponStatus) ([]db_models.UserCoupon, error) {
	stored := status
	if status == db_models.UserCouponAvailable || status == db_models.UserCouponExpired {
		// Lazily expired rows are still stored as available.
		stored = ""
	}
	ucs, err := s.repo.ListUserCoupons(ctx, userID, stored)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	out := ucs[:0]
	for _, uc := range ucs {
		if uc.Status == db_models.UserCouponAvailable && uc.ExpiresAt != nil && now > *uc.ExpiresAt {
			uc.Status = db_models.UserCouponExpired
		}
		if status != "" && uc.Status != status {
			continue
		}
		out = append(out, uc)
	}
	return out, nil
}

func (s *CouponService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireUserCoupons(ctx, s.clock.Now().Unix())
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("expire user coupons", zap.Error(err))
	}
	return n, err
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
