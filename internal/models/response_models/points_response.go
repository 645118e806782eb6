package response_models

import (
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

type PointsBalanceResponse struct {
	Balance     int64 `json:"balance"`
	Locked      int64 `json:"locked"`
	Available   int64 `json:"available"`
	TotalEarned int64 `json:"total_earned"`
	TotalSpent  int64 `json:"total_spent"`
}

func NewPointsBalanceResponse(a *db_models.PointsAccount) PointsBalanceResponse {
	return PointsBalanceResponse{
		Balance:     a.Balance,
		Locked:      a.Locked,
		Available:   a.Available(),
		TotalEarned: a.TotalEarned,
		TotalSpent:  a.TotalSpent,
	}
}

type PointsTransactionResponse struct {
	ID           string                  `json:"id"`
	Type         db_models.PointsTxnType `json:"type"`
	Amount       int64                   `json:"amount"`
	BalanceAfter int64                   `json:"balance_after"`
	Source       string                  `json:"source"`
	ReferenceID  string                  `json:"reference_id,omitempty"`
	CreatedAt    string                  `json:"created_at"`
}

func NewPointsTransactionResponse(t db_models.PointsTransaction) PointsTransactionResponse {
	return PointsTransactionResponse{
		ID:           t.ID.String(),
		Type:         t.Type,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Source:       t.Source,
		ReferenceID:  t.ReferenceID,
		CreatedAt:    utils.FormatUnixCN(t.CreatedAt),
	}
}
