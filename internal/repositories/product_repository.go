package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"skillmart/internal/models/db_models"
)

type IProductRepository interface {
	GetActiveProduct(ctx context.Context, productType, refID string) (*db_models.Product, error)
	UpsertProduct(ctx context.Context, product *db_models.Product) error
}

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) IProductRepository {
	return &ProductRepository{db: db}
}

func (p ProductRepository) GetActiveProduct(ctx context.Context, productType, refID string) (*db_models.Product, error) {
	var product db_models.Product
	err := p.db.WithContext(ctx).
		Where("type = ? AND ref_id = ? AND is_active = ?", productType, refID, true).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// UpsertProduct is used by the catalog sync and seeding; the price list is owned elsewhere.
func (p ProductRepository) UpsertProduct(ctx context.Context, product *db_models.Product) error {
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "ref_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "price", "is_active", "updated_at"}),
		}).
		Create(product).Error
}
