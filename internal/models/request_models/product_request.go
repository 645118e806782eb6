package request_models

type UpsertProductRequest struct {
	Type     string `json:"type" binding:"required,max=32"`
	RefID    string `json:"ref_id" binding:"required,max=64"`
	Name     string `json:"name" binding:"required,max=128"`
	Price    int64  `json:"price" binding:"gte=0"`
	IsActive *bool  `json:"is_active"`
}
