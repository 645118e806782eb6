package gateway

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smartwalle/alipay/v3"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	wxutils "github.com/wechatpay-apiv3/wechatpay-go/utils"
	"skillmart/internal/models/db_models"
	"skillmart/pkg/utils"
)

var errSandboxTradeNotFound = errors.New("sandbox: trade not found")

// SandboxWechatClient is an in-memory WeChat Pay used in sandbox mode and tests. Trades stay
// NOTPAY until MarkPaid is called.
type SandboxWechatClient struct {
	mu      sync.Mutex
	trades  map[string]*WechatTransaction
	refunds map[string]*WechatRefund
	// Err, when set, is returned by every call.
	Err error
	// RefundStatus is the status Refund reports; defaults to PROCESSING.
	RefundStatus string
}

func NewSandboxWechatClient() *SandboxWechatClient {
	return &SandboxWechatClient{
		trades:  make(map[string]*WechatTransaction),
		refunds: make(map[string]*WechatRefund),
	}
}

func (c *SandboxWechatClient) Prepay(ctx context.Context, req WechatPrepayRequest) (*WechatPrepayResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if _, ok := c.trades[req.OutTradeNo]; !ok {
		c.trades[req.OutTradeNo] = &WechatTransaction{
			OutTradeNo: req.OutTradeNo,
			TradeState: "NOTPAY",
			Amount:     WechatAmount{Total: req.Total, Currency: currencyCNY},
		}
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &WechatPrepayResponse{
		PrepayID: "wx" + token,
		CodeURL:  "weixin://wxpay/bizpayurl?pr=" + token[:12],
		H5URL:    "https://wx.tenpay.com/cgi-bin/mmpayweb-bin/checkmweb?prepay_id=wx" + token,
	}, nil
}

// MarkPaid settles a trade and returns its transaction id.
func (c *SandboxWechatClient) MarkPaid(outTradeNo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trade, ok := c.trades[outTradeNo]
	if !ok {
		return "", errSandboxTradeNotFound
	}
	if trade.TransactionID == "" {
		trade.TransactionID = "4200" + strconv.FormatInt(int64(len(c.trades)), 10) + outTradeNo
	}
	trade.TradeState = "SUCCESS"
	trade.Amount.PayerTotal = trade.Amount.Total
	return trade.TransactionID, nil
}

func (c *SandboxWechatClient) QueryByOutTradeNo(ctx context.Context, outTradeNo string) (*WechatTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	trade, ok := c.trades[outTradeNo]
	if !ok {
		return nil, errSandboxTradeNotFound
	}
	cp := *trade
	return &cp, nil
}

func (c *SandboxWechatClient) Refund(ctx context.Context, req WechatRefundRequest) (*WechatRefund, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if existing, ok := c.refunds[req.OutRefundNo]; ok {
		cp := *existing
		return &cp, nil
	}
	status := c.RefundStatus
	if status == "" {
		status = "PROCESSING"
	}
	refund := &WechatRefund{
		OutTradeNo:  req.OutTradeNo,
		OutRefundNo: req.OutRefundNo,
		RefundID:    "50" + strings.TrimPrefix(req.OutRefundNo, "R"),
		Status:      status,
		Amount:      WechatAmount{Refund: req.Refund, Total: req.Total, Currency: currencyCNY},
	}
	c.refunds[req.OutRefundNo] = refund
	cp := *refund
	return &cp, nil
}

func (c *SandboxWechatClient) Close(ctx context.Context, outTradeNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if trade, ok := c.trades[outTradeNo]; ok && trade.TradeState != "SUCCESS" {
		trade.TradeState = "CLOSED"
	}
	return nil
}

// SandboxAlipayClient is an in-memory Alipay. Refunds settle synchronously.
type SandboxAlipayClient struct {
	mu     sync.Mutex
	trades map[string]*AlipayTrade
	Err    error
}

func NewSandboxAlipayClient() *SandboxAlipayClient {
	return &SandboxAlipayClient{trades: make(map[string]*AlipayTrade)}
}

func (c *SandboxAlipayClient) PayURL(ctx context.Context, req AlipayTradeRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	if _, ok := c.trades[req.OutTradeNo]; !ok {
		c.trades[req.OutTradeNo] = &AlipayTrade{
			OutTradeNo:  req.OutTradeNo,
			TradeStatus: "WAIT_BUYER_PAY",
			TotalAmount: req.TotalAmount,
		}
	}
	q := url.Values{"out_trade_no": {req.OutTradeNo}, "total_amount": {req.TotalAmount}, "channel": {req.Channel}}
	return "https://openapi-sandbox.dl.alipaydev.com/gateway.do?" + q.Encode(), nil
}

func (c *SandboxAlipayClient) MarkPaid(outTradeNo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trade, ok := c.trades[outTradeNo]
	if !ok {
		return "", errSandboxTradeNotFound
	}
	if trade.TradeNo == "" {
		trade.TradeNo = "2026" + outTradeNo
	}
	trade.TradeStatus = "TRADE_SUCCESS"
	return trade.TradeNo, nil
}

func (c *SandboxAlipayClient) Query(ctx context.Context, outTradeNo string) (*AlipayTrade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	trade, ok := c.trades[outTradeNo]
	if !ok {
		return nil, errSandboxTradeNotFound
	}
	cp := *trade
	return &cp, nil
}

func (c *SandboxAlipayClient) Refund(ctx context.Context, outTradeNo, outRequestNo, amount, reason string) (*AlipayRefund, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	trade, ok := c.trades[outTradeNo]
	if !ok {
		return nil, errSandboxTradeNotFound
	}
	return &AlipayRefund{
		OutTradeNo:   outTradeNo,
		TradeNo:      trade.TradeNo,
		OutRequestNo: outRequestNo,
		FundChange:   "Y",
		RefundFee:    amount,
	}, nil
}

func (c *SandboxAlipayClient) Close(ctx context.Context, outTradeNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if trade, ok := c.trades[outTradeNo]; ok && trade.TradeStatus == "WAIT_BUYER_PAY" {
		trade.TradeStatus = "TRADE_CLOSED"
	}
	return nil
}

// WechatNotifyBuilder produces WeChat Pay v3 notifications the way the platform does: the
// resource sealed with the APIv3 key, the body signed with the platform certificate's key. Sandbox
// mode and tests feed them through the real notify path.
type WechatNotifyBuilder struct {
	Key      *rsa.PrivateKey
	Serial   string
	APIv3Key []byte
	// Clock stamps Wechatpay-Timestamp. Verification compares it with the wall clock.
	Clock utils.Clock
}

func (b WechatNotifyBuilder) Build(eventType string, resource any) ([]byte, http.Header, error) {
	plain, err := json.Marshal(resource)
	if err != nil {
		return nil, nil, err
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ciphertext, err := sealResource(b.APIv3Key, "transaction", nonce, plain)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(map[string]any{
		"id":            uuid.NewString(),
		"create_time":   b.Clock.Now().Format(time.RFC3339),
		"event_type":    eventType,
		"resource_type": "encrypt-resource",
		"summary":       "sandbox",
		"resource": map[string]string{
			"original_type":   "transaction",
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      ciphertext,
			"associated_data": "transaction",
			"nonce":           nonce,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	timestamp := strconv.FormatInt(b.Clock.Now().Unix(), 10)
	headerNonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	message := timestamp + "\n" + headerNonce + "\n" + string(body) + "\n"
	sig, err := wxutils.SignSHA256WithRSA(message, b.Key)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Request-Id", uuid.NewString())
	header.Set("Wechatpay-Timestamp", timestamp)
	header.Set("Wechatpay-Nonce", headerNonce)
	header.Set("Wechatpay-Signature", sig)
	header.Set("Wechatpay-Serial", b.Serial)
	return body, header, nil
}

// sealResource encrypts a notification resource with AEAD_AES_256_GCM.
func sealResource(key []byte, associatedData, nonce string, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	sealed := aead.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// SignAlipayNotify signs form params with RSA2 the way Alipay does and returns the urlencoded
// body. The signed string is every non-empty param except sign and sign_type, sorted by key.
func SignAlipayNotify(key *rsa.PrivateKey, params url.Values) ([]byte, error) {
	if params.Get("notify_id") == "" {
		params.Set("notify_id", uuid.NewString())
	}
	params.Del("sign")
	params.Set("sign_type", "RSA2")

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign_type" || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params.Get(k)
	}
	sig, err := wxutils.SignSHA256WithRSA(strings.Join(pairs, "&"), key)
	if err != nil {
		return nil, fmt.Errorf("sign alipay notify: %w", err)
	}
	params.Set("sign", sig)
	return []byte(params.Encode()), nil
}

// sandboxKey is shared by every sandbox in the process; 2048-bit generation is slow.
var sandboxKey = sync.OnceValues(func() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
})

// SandboxPlatform is a self-signed stand-in for the WeChat Pay platform certificate and the
// Alipay key pair.
type SandboxPlatform struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

func NewSandboxPlatform() (*SandboxPlatform, error) {
	key, err := sandboxKey()
	if err != nil {
		return nil, fmt.Errorf("generate sandbox key: %w", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: "Sandbox Wechatpay Platform", Organization: []string{"skillmart"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("sandbox certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &SandboxPlatform{Key: key, Cert: cert}, nil
}

// Serial is the certificate serial as WeChat Pay sends it in Wechatpay-Serial.
func (p *SandboxPlatform) Serial() string {
	return core.NewCertificateMapWithList([]*x509.Certificate{p.Cert}).GetNewestSerial(context.Background())
}

// AlipayDecoder returns an OpenAPI client that trusts the sandbox key as the Alipay public key.
func (p *SandboxPlatform) AlipayDecoder(appID string) (*alipay.Client, error) {
	appKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(p.Key)})
	pub, err := x509.MarshalPKIXPublicKey(&p.Key.PublicKey)
	if err != nil {
		return nil, err
	}
	return NewAlipaySDK(appID, appKey, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), false)
}

// SandboxKit holds the in-memory providers behind a sandbox Registry. Settle plays the part of
// the customer paying and returns the signed notification the provider would post back.
type SandboxKit struct {
	Wechat       *SandboxWechatClient
	WechatNotify WechatNotifyBuilder
	Alipay       *SandboxAlipayClient
	AlipayKey    *rsa.PrivateKey
	AlipayAppID  string
	clock        utils.Clock
}

// NewSandbox builds WeChat Pay and Alipay gateways backed by in-memory clients. Notifications are
// verified by the provider SDKs against a per-process sandbox platform key. clock stamps the
// business times inside notifications.
func NewSandbox(wechat WechatOptions, alipayOpts AlipayOptions, clock utils.Clock) (*Registry, *SandboxKit, error) {
	platform, err := NewSandboxPlatform()
	if err != nil {
		return nil, nil, err
	}
	apiV3Key := strings.ReplaceAll(uuid.NewString(), "-", "")
	if alipayOpts.AppID == "" {
		alipayOpts.AppID = "sandbox"
	}
	decoder, err := platform.AlipayDecoder(alipayOpts.AppID)
	if err != nil {
		return nil, nil, err
	}

	kit := &SandboxKit{
		Wechat: NewSandboxWechatClient(),
		WechatNotify: WechatNotifyBuilder{
			Key:      platform.Key,
			Serial:   platform.Serial(),
			APIv3Key: []byte(apiV3Key),
			Clock:    utils.SystemClock{},
		},
		Alipay:      NewSandboxAlipayClient(),
		AlipayKey:   platform.Key,
		AlipayAppID: alipayOpts.AppID,
		clock:       clock,
	}
	registry := NewRegistry(
		NewWechatGateway(kit.Wechat, NewWechatNotifyHandler(apiV3Key, platform.Cert), wechat),
		NewAlipayGateway(kit.Alipay, decoder, alipayOpts),
	)
	return registry, kit, nil
}

func (k *SandboxKit) Settle(order *db_models.Order) ([]byte, http.Header, error) {
	switch order.PaymentMethod {
	case MethodWechat:
		txnID, err := k.Wechat.MarkPaid(order.OrderNo)
		if err != nil {
			return nil, nil, err
		}
		return k.WechatNotify.Build("TRANSACTION.SUCCESS", WechatTransaction{
			OutTradeNo:    order.OrderNo,
			TransactionID: txnID,
			TradeState:    "SUCCESS",
			Amount:        WechatAmount{Total: order.FinalAmount, PayerTotal: order.FinalAmount, Currency: currencyCNY},
		})
	case MethodAlipay:
		tradeNo, err := k.Alipay.MarkPaid(order.OrderNo)
		if err != nil {
			return nil, nil, err
		}
		body, err := SignAlipayNotify(k.AlipayKey, url.Values{
			"app_id":       {k.AlipayAppID},
			"charset":      {"utf-8"},
			"notify_time":  {k.clock.Now().In(chinaTime).Format("2006-01-02 15:04:05")},
			"notify_type":  {"trade_status_sync"},
			"out_trade_no": {order.OrderNo},
			"trade_no":     {tradeNo},
			"total_amount": {utils.FormatYuan(order.FinalAmount)},
			"trade_status": {"TRADE_SUCCESS"},
			"version":      {"1.0"},
		})
		if err != nil {
			return nil, nil, err
		}
		header := http.Header{}
		header.Set("Content-Type", "application/x-www-form-urlencoded")
		return body, header, nil
	}
	return nil, nil, fmt.Errorf("sandbox settle %q: %w", order.PaymentMethod, utils.ErrUnsupportedMethod)
}

var chinaTime = time.FixedZone("CST", 8*3600)
