package db_models

// Product is the read-only price list the order ledger prices against. Catalog management
// (courses, memberships) lives outside this service.
type Product struct {
	BaseModel
	Type     string `gorm:"size:32;uniqueIndex:idx_products_type_ref;not null" json:"type"`
	RefID    string `gorm:"size:64;uniqueIndex:idx_products_type_ref;not null" json:"ref_id"`
	Name     string `gorm:"size:128;not null" json:"name"`
	Price    int64  `gorm:"not null" json:"price"`
	IsActive bool   `gorm:"not null" json:"is_active"`
}

func (Product) TableName() string { return "products" }

// AllModels lists every table for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&PointsAccount{}, &PointsLock{}, &PointsTransaction{},
		&Coupon{}, &UserCoupon{},
		&Product{}, &Order{}, &Refund{},
		&CompensationRecord{},
	}
}
