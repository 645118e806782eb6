package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"skillmart/internal/models/db_models"
	"skillmart/internal/repositories"
	"skillmart/pkg/utils"
)

const (
	PointsSourceOrder  = "order"
	PointsSourceRefund = "refund"
	PointsSourceAdmin  = "admin"
)

type PointsServiceInterface interface {
	Earn(ctx context.Context, userID uuid.UUID, amount int64, source, referenceID string) (*db_models.PointsTransaction, error)
	Spend(ctx context.Context, userID uuid.UUID, amount int64, purpose, referenceID string) (*db_models.PointsTransaction, error)
	Lock(ctx context.Context, userID, orderID uuid.UUID, amount int64) (uuid.UUID, error)
	Confirm(ctx context.Context, lockID uuid.UUID) error
	Release(ctx context.Context, lockID uuid.UUID) error
	ReleaseOrder(ctx context.Context, orderID uuid.UUID) error
	Balance(ctx context.Context, userID uuid.UUID) (*db_models.PointsAccount, error)
	Transactions(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]db_models.PointsTransaction, int64, error)
	Verify(ctx context.Context, userID uuid.UUID) error
}

type PointsService struct {
	repo      repositories.PointsRepository
	clock     utils.Clock
	dailyCaps map[string]int64
	log       *zap.Logger
}

func NewPointsService(repo repositories.PointsRepository, clock utils.Clock, dailyCaps map[string]int64, log *zap.Logger) PointsServiceInterface {
	if dailyCaps == nil {
		dailyCaps = map[string]int64{}
	}
	return &PointsService{
		repo:      repo,
		clock:     clock,
		dailyCaps: dailyCaps,
		log:       log.Named("points"),
	}
}

// Earn credits points. A repeated (source, referenceID) for the same account is rejected with
// ErrDuplicateReference; a capped source is truncated to what is left of today's cap.
func (s *PointsService) Earn(ctx context.Context, userID uuid.UUID, amount int64, source, referenceID string) (*db_models.PointsTransaction, error) {
	if amount <= 0 {
		return nil, utils.ErrInvalidAmount
	}
	account, err := s.ensureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var txn *db_models.PointsTransaction
	err = s.repo.Transaction(ctx, func(repo repositories.PointsRepository) error {
		acct, err := repo.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return utils.ErrAccountNotFound
		}

		var dedup *string
		if referenceID != "" {
			key := fmt.Sprintf("earn:%s:%s:%s", acct.ID, source, referenceID)
			exists, err := repo.DedupKeyExists(ctx, key)
			if err != nil {
				return err
			}
			if exists {
				return utils.ErrDuplicateReference
			}
			dedup = &key
		}

		credit := amount
		if limit, capped := s.dailyCaps[source]; capped {
			now := s.clock.Now()
			earned, err := repo.SumEarnedSince(ctx, acct.ID, source, utils.StartOfDayCN(now))
			if err != nil {
				return err
			}
			if remaining := limit - earned; remaining < credit {
				credit = remaining
			}
			if credit <= 0 {
				return utils.ErrDailyCapExceeded
			}
		}

		now := s.clock.Now().Unix()
		acct.Balance += credit
		acct.TotalEarned += credit
		acct.UpdatedAt = now
		if err := repo.SaveBalances(ctx, acct); err != nil {
			return err
		}
		txn = &db_models.PointsTransaction{
			AccountID:    acct.ID,
			Type:         db_models.PointsTxnEarn,
			Amount:       credit,
			BalanceAfter: acct.Balance,
			Source:       source,
			ReferenceID:  referenceID,
			DedupKey:     dedup,
			CreatedAt:    now,
		}
		return repo.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *PointsService) Spend(ctx context.Context, userID uuid.UUID, amount int64, purpose, referenceID string) (*db_models.PointsTransaction, error) {
	if amount <= 0 {
		return nil, utils.ErrInvalidAmount
	}
	account, err := s.ensureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var txn *db_models.PointsTransaction
	err = s.repo.Transaction(ctx, func(repo repositories.PointsRepository) error {
		acct, err := repo.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return utils.ErrAccountNotFound
		}
		if acct.Available() < amount {
			return utils.ErrInsufficientBalance
		}

		now := s.clock.Now().Unix()
		acct.Balance -= amount
		acct.TotalSpent += amount
		acct.UpdatedAt = now
		if err := repo.SaveBalances(ctx, acct); err != nil {
			return err
		}
		txn = &db_models.PointsTransaction{
			AccountID:    acct.ID,
			Type:         db_models.PointsTxnSpend,
			Amount:       -amount,
			BalanceAfter: acct.Balance,
			Source:       purpose,
			ReferenceID:  referenceID,
			CreatedAt:    now,
		}
		return repo.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Lock reserves points for an order. An order holds at most one open lock; locking again for the
// same order returns the existing lock.
func (s *PointsService) Lock(ctx context.Context, userID, orderID uuid.UUID, amount int64) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, utils.ErrInvalidAmount
	}
	account, err := s.ensureAccount(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}

	var lockID uuid.UUID
	err = s.repo.Transaction(ctx, func(repo repositories.PointsRepository) error {
		acct, err := repo.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if acct == nil {
			return utils.ErrAccountNotFound
		}

		existing, err := repo.FindOpenLockForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Amount != amount {
				return fmt.Errorf("order %s already holds a lock of %d points: %w", orderID, existing.Amount, utils.ErrOrderStateConflict)
			}
			lockID = existing.ID
			return nil
		}

		if acct.Available() < amount {
			return utils.ErrInsufficientBalance
		}

		now := s.clock.Now().Unix()
		lock := &db_models.PointsLock{
			BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			AccountID: acct.ID,
			OrderID:   orderID,
			Amount:    amount,
			Status:    db_models.LockStatusLocked,
		}
		if err := repo.InsertLock(ctx, lock); err != nil {
			return err
		}
		acct.Locked += amount
		acct.UpdatedAt = now
		if err := repo.SaveBalances(ctx, acct); err != nil {
			return err
		}
		lockID = lock.ID
		return repo.InsertTransaction(ctx, &db_models.PointsTransaction{
			AccountID:    acct.ID,
			Type:         db_models.PointsTxnLock,
			Amount:       amount,
			BalanceAfter: acct.Balance,
			Source:       PointsSourceOrder,
			ReferenceID:  orderID.String(),
			CreatedAt:    now,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return lockID, nil
}

// Confirm turns a lock into a permanent spend. Confirming twice is a no-op; confirming a released
// lock is ErrLockAlreadyResolved.
func (s *PointsService) Confirm(ctx context.Context, lockID uuid.UUID) error {
	return s.resolve(ctx, lockID, db_models.LockStatusConfirmed)
}

// Release returns locked points to the available balance. Releasing a resolved lock is a no-op.
func (s *PointsService) Release(ctx context.Context, lockID uuid.UUID) error {
	return s.resolve(ctx, lockID, db_models.LockStatusReleased)
}

// ReleaseOrder releases whatever lock is still open for the order, if any.
func (s *PointsService) ReleaseOrder(ctx context.Context, orderID uuid.UUID) error {
	locks, err := s.repo.ListOpenLocksForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, lock := range locks {
		if err := s.Release(ctx, lock.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PointsService) resolve(ctx context.Context, lockID uuid.UUID, target db_models.LockStatus) error {
	peek, err := s.repo.FindLock(ctx, lockID)
	if err != nil {
		return err
	}
	if peek == nil {
		return utils.ErrLockNotFound
	}

	return s.repo.Transaction(ctx, func(repo repositories.PointsRepository) error {
		// Account row first, then the lock row: every path takes locks in this order.
		acct, err := repo.LockAccount(ctx, peek.AccountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return utils.ErrAccountNotFound
		}
		lock, err := repo.LockLockRow(ctx, lockID)
		if err != nil {
			return err
		}
		if lock == nil {
			return utils.ErrLockNotFound
		}

		switch lock.Status {
		case target:
			return nil
		case db_models.LockStatusReleased:
			// confirm after release
			return utils.ErrLockAlreadyResolved
		case db_models.LockStatusConfirmed:
			// release after confirm
			return nil
		}

		now := s.clock.Now().Unix()
		txn := &db_models.PointsTransaction{
			AccountID:   acct.ID,
			Source:      PointsSourceOrder,
			ReferenceID: lock.OrderID.String(),
			CreatedAt:   now,
		}
		acct.Locked -= lock.Amount
		if target == db_models.LockStatusConfirmed {
			acct.Balance -= lock.Amount
			acct.TotalSpent += lock.Amount
			key := "confirm:" + lock.ID.String()
			txn.Type = db_models.PointsTxnSpend
			txn.Amount = -lock.Amount
			txn.DedupKey = &key
		} else {
			txn.Type = db_models.PointsTxnUnlock
			txn.Amount = lock.Amount
		}
		txn.BalanceAfter = acct.Balance
		acct.UpdatedAt = now

		lock.Status = target
		lock.ResolvedAt = &now
		lock.UpdatedAt = now
		if err := repo.ResolveLock(ctx, lock); err != nil {
			return err
		}
		if err := repo.SaveBalances(ctx, acct); err != nil {
			return err
		}
		return repo.InsertTransaction(ctx, txn)
	})
}

// Balance returns the account, creating an empty one for first-time users.
func (s *PointsService) Balance(ctx context.Context, userID uuid.UUID) (*db_models.PointsAccount, error) {
	return s.ensureAccount(ctx, userID)
}

func (s *PointsService) Transactions(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]db_models.PointsTransaction, int64, error) {
	if page < 1 {
		return nil, 0, utils.ErrInvalidPage
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, 0, utils.ErrInvalidPageSize
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if account == nil {
		return []db_models.PointsTransaction{}, 0, nil
	}
	return s.repo.ListTransactions(ctx, account.ID, (page-1)*pageSize, pageSize)
}

// Verify replays the ledger and checks it against the account's derived balances.
func (s *PointsService) Verify(ctx context.Context, userID uuid.UUID) error {
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return err
	}
	if account == nil {
		return utils.ErrAccountNotFound
	}
	earned, spent, err := s.repo.SumLedger(ctx, account.ID)
	if err != nil {
		return err
	}
	switch {
	case earned != account.TotalEarned || spent != account.TotalSpent:
		err = fmt.Errorf("ledger sums earned=%d spent=%d, account has earned=%d spent=%d",
			earned, spent, account.TotalEarned, account.TotalSpent)
	case account.Balance != account.TotalEarned-account.TotalSpent:
		err = fmt.Errorf("balance %d != earned %d - spent %d", account.Balance, account.TotalEarned, account.TotalSpent)
	case account.Locked < 0 || account.Locked > account.Balance:
		err = fmt.Errorf("locked %d outside [0, %d]", account.Locked, account.Balance)
	}
	if err != nil {
		s.log.Error("points ledger inconsistent", zap.Stringer("user_id", userID), zap.Error(err))
	}
	return err
}

func (s *PointsService) ensureAccount(ctx context.Context, userID uuid.UUID) (*db_models.PointsAccount, error) {
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	if err := s.repo.EnsureAccount(ctx, userID, s.clock.Now().Unix()); err != nil {
		return nil, err
	}
	account, err = s.repo.FindAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, utils.ErrAccountNotFound
	}
	return account, nil
}
