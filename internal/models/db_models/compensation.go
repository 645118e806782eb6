package db_models

import "github.com/google/uuid"

type CompensationAction string

const (
	ActionReleasePoints     CompensationAction = "release_points"
	ActionRestoreCoupon     CompensationAction = "restore_coupon"
	ActionConfirmPoints     CompensationAction = "confirm_points"
	ActionConsumeCoupon     CompensationAction = "consume_coupon"
	ActionGrantEntitlement  CompensationAction = "grant_entitlement"
	ActionRefundPoints      CompensationAction = "refund_points"
	ActionRevokeEntitlement CompensationAction = "revoke_entitlement"
)

type CompensationStatus string

// Checkout writes armed records ahead of each step; they fire only if checkout fails and are
// discharged when the order row commits. Transitions write pending records that always fire.
// A record that keeps failing is parked as stuck and left to an operator.
const (
	CompensationArmed      CompensationStatus = "armed"
	CompensationPending    CompensationStatus = "pending"
	CompensationDone       CompensationStatus = "done"
	CompensationDischarged CompensationStatus = "discharged"
	CompensationStuck      CompensationStatus = "stuck"
)

// CompensationRecord is one replayable side effect owed by an order. Records are written before
// (or atomically with) the state change that needs them and executed afterwards.
type CompensationRecord struct {
	BaseModel
	OrderID   uuid.UUID          `gorm:"type:uuid;index;not null" json:"order_id"`
	Seq       int                `gorm:"not null" json:"seq"`
	Action    CompensationAction `gorm:"size:32;not null" json:"action"`
	RefID     uuid.UUID          `gorm:"type:uuid;not null" json:"ref_id"`
	Status    CompensationStatus `gorm:"size:16;index;not null" json:"status"`
	Attempts  int                `gorm:"not null;default:0" json:"attempts"`
	LastError string             `gorm:"size:512" json:"last_error,omitempty"`
	DoneAt    *int64             `json:"done_at,omitempty"`
}

func (CompensationRecord) TableName() string { return "compensation_records" }
