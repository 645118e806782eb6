package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"skillmart/internal/models/db_models"
)

type PointsRepository interface {
	// Transaction runs fn inside a DB transaction with a repository bound to it.
	Transaction(ctx context.Context, fn func(repo PointsRepository) error) error

	EnsureAccount(ctx context.Context, userID uuid.UUID, now int64) error
	FindAccount(ctx context.Context, userID uuid.UUID) (*db_models.PointsAccount, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*db_models.PointsAccount, error)
	// LockAccount selects the account row FOR UPDATE; all balance mutations go through it.
	LockAccount(ctx context.Context, accountID uuid.UUID) (*db_models.PointsAccount, error)
	SaveBalances(ctx context.Context, account *db_models.PointsAccount) error

	InsertTransaction(ctx context.Context, txn *db_models.PointsTransaction) error
	DedupKeyExists(ctx context.Context, key string) (bool, error)
	SumEarnedSince(ctx context.Context, accountID uuid.UUID, source string, since int64) (int64, error)
	SumLedger(ctx context.Context, accountID uuid.UUID) (earned, spent int64, err error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]db_models.PointsTransaction, int64, error)

	InsertLock(ctx context.Context, lock *db_models.PointsLock) error
	FindLock(ctx context.Context, lockID uuid.UUID) (*db_models.PointsLock, error)
	LockLockRow(ctx context.Context, lockID uuid.UUID) (*db_models.PointsLock, error)
	FindOpenLockForOrder(ctx context.Context, orderID uuid.UUID) (*db_models.PointsLock, error)
	ListOpenLocksForOrder(ctx context.Context, orderID uuid.UUID) ([]db_models.PointsLock, error)
	ResolveLock(ctx context.Context, lock *db_models.PointsLock) error
}

type pointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) PointsRepository {
	return &pointsRepository{db: db}
}

func (r *pointsRepository) Transaction(ctx context.Context, fn func(repo PointsRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pointsRepository{db: tx})
	})
}

func (r *pointsRepository) EnsureAccount(ctx context.Context, userID uuid.UUID, now int64) error {
	account := &db_models.PointsAccount{
		BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		UserID:    userID,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(account).Error
}

func (r *pointsRepository) FindAccount(ctx context.Context, userID uuid.UUID) (*db_models.PointsAccount, error) {
	var account db_models.PointsAccount
	err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *pointsRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*db_models.PointsAccount, error) {
	var account db_models.PointsAccount
	err := r.db.WithContext(ctx).First(&account, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *pointsRepository) LockAccount(ctx context.Context, accountID uuid.UUID) (*db_models.PointsAccount, error) {
	var account db_models.PointsAccount
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&account, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *pointsRepository) SaveBalances(ctx context.Context, account *db_models.PointsAccount) error {
	return r.db.WithContext(ctx).Model(&db_models.PointsAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"balance":      account.Balance,
			"locked":       account.Locked,
			"total_earned": account.TotalEarned,
			"total_spent":  account.TotalSpent,
			"updated_at":   account.UpdatedAt,
		}).Error
}

func (r *pointsRepository) InsertTransaction(ctx context.Context, txn *db_models.PointsTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *pointsRepository) DedupKeyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db_models.PointsTransaction{}).
		Where("dedup_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

func (r *pointsRepository) SumEarnedSince(ctx context.Context, accountID uuid.UUID, source string, since int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&db_models.PointsTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND type = ? AND source = ? AND created_at >= ?",
			accountID, db_models.PointsTxnEarn, source, since).
		Scan(&total).Error
	return total, err
}

func (r *pointsRepository) SumLedger(ctx context.Context, accountID uuid.UUID) (int64, int64, error) {
	var sums struct {
		Earned int64
		Spent  int64
	}
	err := r.db.WithContext(ctx).Model(&db_models.PointsTransaction{}).
		Select(`COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS earned,
			COALESCE(SUM(CASE WHEN type = ? THEN -amount ELSE 0 END), 0) AS spent`,
			db_models.PointsTxnEarn, db_models.PointsTxnSpend).
		Where("account_id = ?", accountID).
		Scan(&sums).Error
	return sums.Earned, sums.Spent, err
}

func (r *pointsRepository) ListTransactions(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]db_models.PointsTransaction, int64, error) {
	var (
		txns  []db_models.PointsTransaction
		total int64
	)
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&db_models.PointsTransaction{}).Where("account_id = ?", accountID)
	}
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := scope().Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&txns).Error
	return txns, total, err
}

func (r *pointsRepository) InsertLock(ctx context.Context, lock *db_models.PointsLock) error {
	return r.db.WithContext(ctx).Create(lock).Error
}

func (r *pointsRepository) FindLock(ctx context.Context, lockID uuid.UUID) (*db_models.PointsLock, error) {
	var lock db_models.PointsLock
	err := r.db.WithContext(ctx).First(&lock, "id = ?", lockID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

func (r *pointsRepository) LockLockRow(ctx context.Context, lockID uuid.UUID) (*db_models.PointsLock, error) {
	var lock db_models.PointsLock
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&lock, "id = ?", lockID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

func (r *pointsRepository) FindOpenLockForOrder(ctx context.Context, orderID uuid.UUID) (*db_models.PointsLock, error) {
	var lock db_models.PointsLock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, db_models.LockStatusLocked).
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lock, nil
}

func (r *pointsRepository) ListOpenLocksForOrder(ctx context.Context, orderID uuid.UUID) ([]db_models.PointsLock, error) {
	var locks []db_models.PointsLock
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, db_models.LockStatusLocked).
		Find(&locks).Error
	return locks, err
}

func (r *pointsRepository) ResolveLock(ctx context.Context, lock *db_models.PointsLock) error {
	return r.db.WithContext(ctx).Model(&db_models.PointsLock{}).
		Where("id = ?", lock.ID).
		Updates(map[string]interface{}{
			"status":      lock.Status,
			"resolved_at": lock.ResolvedAt,
			"updated_at":  lock.UpdatedAt,
		}).Error
}
