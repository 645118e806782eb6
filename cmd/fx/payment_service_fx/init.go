package payment_service_fx

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	wxutils "github.com/wechatpay-apiv3/wechatpay-go/utils"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"skillmart/internal/config"
	"skillmart/internal/gateway"
	"skillmart/internal/services"
	mem "skillmart/pkg/memcache"
	"skillmart/pkg/metrics"
	"skillmart/pkg/utils"
)

var Module = fx.Provide(
	provideGateways, providePaymentService,
)

// provideGateways builds the registry for GATEWAY_MODE. The sandbox kit is nil in live mode.
func provideGateways(cfg *config.Config, clock utils.Clock, log *zap.Logger) (*gateway.Registry, *gateway.SandboxKit, error) {
	wechatOpts := gateway.WechatOptions{
		AppID:     cfg.Wechat.AppID,
		MchID:     cfg.Wechat.MchID,
		NotifyURL: cfg.Wechat.NotifyURL,
	}
	alipayOpts := gateway.AlipayOptions{
		AppID:     cfg.Alipay.AppID,
		NotifyURL: cfg.Alipay.NotifyURL,
		ReturnURL: cfg.Alipay.ReturnURL,
	}

	var (
		registry *gateway.Registry
		kit      *gateway.SandboxKit
		err      error
	)
	if cfg.GatewayMode == "sandbox" {
		registry, kit, err = gateway.NewSandbox(wechatOpts, alipayOpts, clock)
		if err != nil {
			return nil, nil, err
		}
		log.Warn("payment gateways running in sandbox mode")
	} else {
		registry = gateway.NewRegistry()
		if cfg.Wechat.MchID != "" {
			wechat, err := liveWechat(cfg.Wechat, wechatOpts)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(wechat)
		}
		if cfg.Alipay.AppID != "" {
			alipay, err := liveAlipay(cfg.Alipay, alipayOpts)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(alipay)
		}
	}

	if cfg.PayOS.ClientID != "" {
		payos, err := gateway.NewPayOSGateway(gateway.PayOSOptions{
			ClientID:    cfg.PayOS.ClientID,
			APIKey:      cfg.PayOS.APIKey,
			ChecksumKey: cfg.PayOS.ChecksumKey,
			ReturnURL:   cfg.PayOS.ReturnURL,
			CancelURL:   cfg.PayOS.CancelURL,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(payos)
	}
	log.Info("payment gateways ready", zap.Strings("methods", registry.Methods()))
	return registry, kit, nil
}

func liveWechat(cfg config.WechatConfig, opts gateway.WechatOptions) (*gateway.WechatGateway, error) {
	key, err := wxutils.LoadPrivateKeyWithPath(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("wechat merchant key: %w", err)
	}
	cert, err := wxutils.LoadCertificateWithPath(cfg.PlatformCertPath)
	if err != nil {
		return nil, fmt.Errorf("wechat platform certificate: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := gateway.NewWechatSDKClient(ctx, cfg.MchID, cfg.SerialNo, key, []*x509.Certificate{cert})
	if err != nil {
		return nil, err
	}
	return gateway.NewWechatGateway(client, gateway.NewWechatNotifyHandler(cfg.APIv3Key, cert), opts), nil
}

func liveAlipay(cfg config.AlipayConfig, opts gateway.AlipayOptions) (*gateway.AlipayGateway, error) {
	appKey, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("alipay app key: %w", err)
	}
	publicKey, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	client, err := gateway.NewAlipaySDK(cfg.AppID, appKey, publicKey, cfg.Production)
	if err != nil {
		return nil, err
	}
	return gateway.NewAlipayGateway(gateway.NewAlipaySDKClient(client), client, opts), nil
}

func providePaymentService(
	gateways *gateway.Registry,
	kit *gateway.SandboxKit,
	orders services.OrderServiceInterface,
	dedup mem.Deduper,
	m *metrics.Metrics,
	log *zap.Logger,
) services.PaymentServiceInterface {
	return services.NewPaymentService(gateways, orders, dedup, kit, m, log)
}
