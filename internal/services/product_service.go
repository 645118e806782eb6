package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"skillmart/internal/models/db_models"
	"skillmart/internal/models/request_models"
	"skillmart/internal/repositories"
	"skillmart/pkg/utils"
)

// ProductServiceInterface maintains the price list orders are priced against. Products are
// synced from the catalog; this service never deletes them.
type ProductServiceInterface interface {
	Upsert(ctx context.Context, req request_models.UpsertProductRequest) (*db_models.Product, error)
	GetActive(ctx context.Context, productType, refID string) (*db_models.Product, error)
}

type ProductService struct {
	repo  repositories.IProductRepository
	clock utils.Clock
	log   *zap.Logger
}

func NewProductService(repo repositories.IProductRepository, clock utils.Clock, log *zap.Logger) ProductServiceInterface {
	return &ProductService{repo: repo, clock: clock, log: log.Named("products")}
}

func (s *ProductService) Upsert(ctx context.Context, req request_models.UpsertProductRequest) (*db_models.Product, error) {
	if req.Price < 0 {
		return nil, utils.ErrInvalidAmount
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := s.clock.Now().Unix()
	product := &db_models.Product{
		BaseModel: db_models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Type:      req.Type,
		RefID:     req.RefID,
		Name:      req.Name,
		Price:     req.Price,
		IsActive:  active,
	}
	if err := s.repo.UpsertProduct(ctx, product); err != nil {
		return nil, err
	}
	s.log.Info("product upserted", zap.String("type", req.Type), zap.String("ref_id", req.RefID), zap.Int64("price", req.Price))
	return product, nil
}

func (s *ProductService) GetActive(ctx context.Context, productType, refID string) (*db_models.Product, error) {
	product, err := s.repo.GetActiveProduct(ctx, productType, refID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, utils.ErrProductNotFound
	}
	return product, nil
}
