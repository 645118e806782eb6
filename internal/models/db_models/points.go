package db_models

import "github.com/google/uuid"

// PointsAccount holds the derived balances of one user's points ledger.
// Invariant: Balance == TotalEarned - TotalSpent, 0 <= Locked <= Balance.
type PointsAccount struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance     int64     `gorm:"not null;default:0" json:"balance"`
	Locked      int64     `gorm:"not null;default:0" json:"locked"`
	TotalEarned int64     `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent  int64     `gorm:"not null;default:0" json:"total_spent"`
}

func (PointsAccount) TableName() string { return "points_accounts" }

func (a *PointsAccount) Available() int64 { return a.Balance - a.Locked }

type LockStatus string

const (
	LockStatusLocked    LockStatus = "locked"
	LockStatusConfirmed LockStatus = "confirmed"
	LockStatusReleased  LockStatus = "released"
)

// PointsLock reserves points against a pending order.
type PointsLock struct {
	BaseModel
	AccountID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"account_id"`
	OrderID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"order_id"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Status     LockStatus `gorm:"size:16;index;not null" json:"status"`
	ResolvedAt *int64     `json:"resolved_at,omitempty"`
}

func (PointsLock) TableName() string { return "points_locks" }

type PointsTxnType string

const (
	PointsTxnEarn   PointsTxnType = "earn"
	PointsTxnSpend  PointsTxnType = "spend"
	PointsTxnLock   PointsTxnType = "lock"
	PointsTxnUnlock PointsTxnType = "unlock"
)

// PointsTransaction is one append-only ledger row. Amount is signed: earn is positive, spend is
// negative; lock/unlock rows record the reserved amount but never move the balance.
type PointsTransaction struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID    uuid.UUID     `gorm:"type:uuid;index:idx_points_txn_account_created;not null" json:"account_id"`
	Type         PointsTxnType `gorm:"size:16;not null" json:"type"`
	Amount       int64         `gorm:"not null" json:"amount"`
	BalanceAfter int64         `gorm:"not null" json:"balance_after"`
	Source       string        `gorm:"size:64;not null" json:"source"`
	ReferenceID  string        `gorm:"size:128" json:"reference_id"`
	// DedupKey is unique when set; it makes earn-by-reference and lock confirmation exactly-once.
	DedupKey  *string `gorm:"size:200;uniqueIndex" json:"-"`
	CreatedAt int64   `gorm:"index:idx_points_txn_account_created;autoCreateTime:false" json:"created_at"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }
