package response_models

import (
	"skillmart/internal/gateway"
	"skillmart/internal/models/db_models"
)

type PaymentIntentResponse struct {
	OrderID  string `json:"order_id"`
	OrderNo  string `json:"order_no"`
	Amount   int64  `json:"amount"`
	Method   string `json:"method"`
	Channel  string `json:"channel"`
	CodeURL  string `json:"code_url,omitempty"`
	PrepayID string `json:"prepay_id,omitempty"`
	H5URL    string `json:"h5_url,omitempty"`
	PayURL   string `json:"pay_url,omitempty"`
	Form     string `json:"form,omitempty"`
}

type PaymentStatusResponse struct {
	OrderID       string                `json:"order_id"`
	OrderNo       string                `json:"order_no"`
	Status        db_models.OrderStatus `json:"status"`
	Paid          bool                  `json:"paid"`
	TransactionID string                `json:"transaction_id,omitempty"`
	FinalAmount   int64                 `json:"final_amount"`
}

func NewPaymentIntentResponse(o *db_models.Order, intent *gateway.Intent) PaymentIntentResponse {
	return PaymentIntentResponse{
		OrderID:  o.ID.String(),
		OrderNo:  o.OrderNo,
		Amount:   o.FinalAmount,
		Method:   intent.Method,
		Channel:  intent.Channel,
		CodeURL:  intent.CodeURL,
		PrepayID: intent.PrepayID,
		H5URL:    intent.H5URL,
		PayURL:   intent.PayURL,
		Form:     intent.Form,
	}
}

func NewPaymentStatusResponse(o *db_models.Order) PaymentStatusResponse {
	resp := PaymentStatusResponse{
		OrderID:     o.ID.String(),
		OrderNo:     o.OrderNo,
		Status:      o.Status,
		Paid:        o.PaidAt != nil,
		FinalAmount: o.FinalAmount,
	}
	if o.TransactionID != nil {
		resp.TransactionID = *o.TransactionID
	}
	return resp
}
