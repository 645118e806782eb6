package db_models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel carries the id and unix-second timestamps shared by every table. Rows are never
// deleted; terminal states are kept for audit.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt int64     `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt int64     `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// Hooks to manage int64 timestamps. Services stamp CreatedAt from their own clock; the hook only
// fills gaps.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().Unix()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	if b.UpdatedAt == 0 {
		b.UpdatedAt = b.CreatedAt
	}
	return nil
}
