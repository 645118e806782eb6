package request_models

type EarnPointsRequest struct {
	UserID      string `json:"user_id" binding:"required,uuid"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Source      string `json:"source" binding:"required,max=64"`
	ReferenceID string `json:"reference_id" binding:"required,max=128"`
}

type PageQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}
