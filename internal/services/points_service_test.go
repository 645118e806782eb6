package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

func TestPointsEarnSpendKeepsInvariant(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	txn, err := h.points.Earn(h.ctx, user, 300, PointsSourceAdmin, "grant-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), txn.BalanceAfter)

	_, err = h.points.Spend(h.ctx, user, 120, "gift", "gift-1")
	require.NoError(t, err)

	_, err = h.points.Spend(h.ctx, user, 500, "gift", "gift-2")
	require.ErrorIs(t, err, utils.ErrInsufficientBalance)

	acct := h.balance(user)
	require.Equal(t, int64(180), acct.Balance)
	require.Equal(t, int64(300), acct.TotalEarned)
	require.Equal(t, int64(120), acct.TotalSpent)
	require.Equal(t, acct.TotalEarned-acct.TotalSpent, acct.Balance)
	require.NoError(t, h.points.Verify(h.ctx, user))
}

func TestPointsRejectsNonPositiveAmounts(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	_, err := h.points.Earn(h.ctx, user, 0, PointsSourceAdmin, "x")
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
	_, err = h.points.Spend(h.ctx, user, -5, "gift", "x")
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
	_, err = h.points.Lock(h.ctx, user, uuid.New(), 0)
	require.ErrorIs(t, err, utils.ErrInvalidAmount)
}

func TestPointsEarnDuplicateReference(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	_, err := h.points.Earn(h.ctx, user, 50, "course_complete", "course-9")
	require.NoError(t, err)
	_, err = h.points.Earn(h.ctx, user, 50, "course_complete", "course-9")
	require.ErrorIs(t, err, utils.ErrDuplicateReference)

	// The same reference is independent per account.
	_, err = h.points.Earn(h.ctx, uuid.New(), 50, "course_complete", "course-9")
	require.NoError(t, err)

	require.Equal(t, int64(50), h.balance(user).Balance)
}

func TestPointsDailyCapTruncates(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	txn, err := h.points.Earn(h.ctx, user, 15, "checkin", "day-1-a")
	require.NoError(t, err)
	require.Equal(t, int64(15), txn.Amount)

	txn, err = h.points.Earn(h.ctx, user, 15, "checkin", "day-1-b")
	require.NoError(t, err)
	require.Equal(t, int64(5), txn.Amount)

	_, err = h.points.Earn(h.ctx, user, 15, "checkin", "day-1-c")
	require.ErrorIs(t, err, utils.ErrDailyCapExceeded)

	h.clock.Advance(24 * time.Hour)
	txn, err = h.points.Earn(h.ctx, user, 15, "checkin", "day-2-a")
	require.NoError(t, err)
	require.Equal(t, int64(15), txn.Amount)

	require.Equal(t, int64(35), h.balance(user).Balance)
	require.NoError(t, h.points.Verify(h.ctx, user))
}

func TestPointsLockConfirmRelease(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	h.seedPoints(user, 1000)

	orderA := uuid.New()
	lockA, err := h.points.Lock(h.ctx, user, orderA, 400)
	require.NoError(t, err)

	again, err := h.points.Lock(h.ctx, user, orderA, 400)
	require.NoError(t, err)
	require.Equal(t, lockA, again)

	_, err = h.points.Lock(h.ctx, user, orderA, 300)
	require.ErrorIs(t, err, utils.ErrOrderStateConflict)

	acct := h.balance(user)
	require.Equal(t, int64(1000), acct.Balance)
	require.Equal(t, int64(400), acct.Locked)
	require.Equal(t, int64(600), acct.Available())

	_, err = h.points.Lock(h.ctx, user, uuid.New(), 700)
	require.ErrorIs(t, err, utils.ErrInsufficientBalance)

	require.NoError(t, h.points.Confirm(h.ctx, lockA))
	require.NoError(t, h.points.Confirm(h.ctx, lockA))
	require.NoError(t, h.points.Release(h.ctx, lockA))

	acct = h.balance(user)
	require.Equal(t, int64(600), acct.Balance)
	require.Equal(t, int64(0), acct.Locked)
	require.Equal(t, int64(400), acct.TotalSpent)

	orderB := uuid.New()
	lockB, err := h.points.Lock(h.ctx, user, orderB, 200)
	require.NoError(t, err)
	require.NoError(t, h.points.ReleaseOrder(h.ctx, orderB))
	require.ErrorIs(t, h.points.Confirm(h.ctx, lockB), utils.ErrLockAlreadyResolved)
	require.NoError(t, h.points.ReleaseOrder(h.ctx, orderB))

	acct = h.balance(user)
	require.Equal(t, int64(600), acct.Balance)
	require.Equal(t, int64(0), acct.Locked)
	require.NoError(t, h.points.Verify(h.ctx, user))

	require.ErrorIs(t, h.points.Confirm(h.ctx, uuid.New()), utils.ErrLockNotFound)
}

func TestPointsTransactionsPaging(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	for i := 0; i < 5; i++ {
		h.seedPoints(user, 10)
		h.clock.Advance(time.Second)
	}

	page, total, err := h.points.Transactions(h.ctx, user, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	require.Equal(t, int64(50), page[0].BalanceAfter)

	page, _, err = h.points.Transactions(h.ctx, user, 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, db_models.PointsTxnEarn, page[0].Type)

	_, _, err = h.points.Transactions(h.ctx, user, 0, 2)
	require.ErrorIs(t, err, utils.ErrInvalidPage)
	_, _, err = h.points.Transactions(h.ctx, user, 1, 101)
	require.ErrorIs(t, err, utils.ErrInvalidPageSize)

	empty, total, err := h.points.Transactions(h.ctx, uuid.New(), 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, empty)
}

func TestPointsVerifyUnknownAccount(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.points.Verify(h.ctx, uuid.New()), utils.ErrAccountNotFound)
}
