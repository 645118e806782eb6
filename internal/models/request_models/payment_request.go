package request_models

type CreatePaymentRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
	Method  string `json:"method" binding:"required,oneof=wechat alipay payos"`
	// Channel picks the client flavour: native|jsapi|h5 for wechat, page|wap for alipay, link for
	// payos. Empty means the method's default.
	Channel   string `json:"channel" binding:"omitempty,max=16"`
	OpenID    string `json:"openid"`
	ReturnURL string `json:"return_url" binding:"omitempty,url"`
}
