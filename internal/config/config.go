package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	HTTPPort string

	DBDriver    string
	DatabaseURL string
	AutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsURL     string
	NatsSubject string

	JWTSecret string
	JWTTTL    time.Duration

	OrderExpire   time.Duration
	PayingGrace   time.Duration
	RefundWindow  time.Duration
	PointsPerYuan int64
	// PointsDailyCaps maps an earn source to the most points it may credit per CST day.
	PointsDailyCaps map[string]int64

	SweepInterval    time.Duration
	SweepBatch       int
	SweepConcurrency int
	// RefundRecheck is how long a refund the provider accepted waits before it is asked again.
	RefundRecheck time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	GatewayMode string // "sandbox" or "live"
	Wechat      WechatConfig
	Alipay      AlipayConfig
	PayOS       PayOSConfig
}

type WechatConfig struct {
	AppID     string
	MchID     string
	APIv3Key  string
	NotifyURL string
	// SerialNo identifies the merchant certificate whose key signs requests.
	SerialNo         string
	PrivateKeyPath   string
	PlatformCertPath string
}

type AlipayConfig struct {
	AppID     string
	NotifyURL string
	ReturnURL string
	// Production selects the live OpenAPI gateway over the Alipay sandbox.
	Production     bool
	PrivateKeyPath string
	PublicKeyPath  string
}

type PayOSConfig struct {
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:      v.GetString("APP_ENV"),
		HTTPPort: v.GetString("PORT"),

		DBDriver:    v.GetString("DB_DRIVER"),
		DatabaseURL: v.GetString("POSTGRES_URL"),
		AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		NatsURL:     v.GetString("NATS_URL"),
		NatsSubject: v.GetString("NATS_SUBJECT_PREFIX"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTTTL:    v.GetDuration("JWT_TTL"),

		OrderExpire:   time.Duration(v.GetInt("ORDER_EXPIRE_MINUTES")) * time.Minute,
		PayingGrace:   time.Duration(v.GetInt("PAYING_GRACE_MINUTES")) * time.Minute,
		RefundWindow:  time.Duration(v.GetInt("REFUND_WINDOW_DAYS")) * 24 * time.Hour,
		PointsPerYuan: v.GetInt64("POINTS_PER_YUAN"),

		SweepInterval:    v.GetDuration("SWEEP_INTERVAL"),
		SweepBatch:       v.GetInt("SWEEP_BATCH"),
		SweepConcurrency: v.GetInt("SWEEP_CONCURRENCY"),
		RefundRecheck:    v.GetDuration("REFUND_RECHECK_INTERVAL"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		GatewayMode: v.GetString("GATEWAY_MODE"),
		Wechat: WechatConfig{
			AppID:     v.GetString("WECHAT_APP_ID"),
			MchID:     v.GetString("WECHAT_MCH_ID"),
			APIv3Key:  v.GetString("WECHAT_API_V3_KEY"),
			NotifyURL: v.GetString("WECHAT_NOTIFY_URL"),

			SerialNo:         v.GetString("WECHAT_SERIAL_NO"),
			PrivateKeyPath:   v.GetString("WECHAT_PRIVATE_KEY_PATH"),
			PlatformCertPath: v.GetString("WECHAT_PLATFORM_CERT_PATH"),
		},
		Alipay: AlipayConfig{
			AppID:      v.GetString("ALIPAY_APP_ID"),
			NotifyURL:  v.GetString("ALIPAY_NOTIFY_URL"),
			ReturnURL:  v.GetString("ALIPAY_RETURN_URL"),
			Production: v.GetBool("ALIPAY_PRODUCTION"),

			PrivateKeyPath: v.GetString("ALIPAY_PRIVATE_KEY_PATH"),
			PublicKeyPath:  v.GetString("ALIPAY_PUBLIC_KEY_PATH"),
		},
		PayOS: PayOSConfig{
			ClientID:    v.GetString("PAYOS_CLIENT_ID"),
			APIKey:      v.GetString("PAYOS_API_KEY"),
			ChecksumKey: v.GetString("CHECK_SUM_KEY"),
			ReturnURL:   v.GetString("PAYOS_RETURN_URL"),
			CancelURL:   v.GetString("PAYOS_CANCEL_URL"),
		},
	}

	caps, err := ParseDailyCaps(v.GetString("POINTS_DAILY_CAPS"))
	if err != nil {
		return nil, err
	}
	cfg.PointsDailyCaps = caps

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NATS_SUBJECT_PREFIX", "skillmart")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("ORDER_EXPIRE_MINUTES", 30)
	v.SetDefault("PAYING_GRACE_MINUTES", 5)
	v.SetDefault("REFUND_WINDOW_DAYS", 7)
	v.SetDefault("POINTS_PER_YUAN", 100)
	v.SetDefault("POINTS_DAILY_CAPS", "checkin:20,share:50")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH", 100)
	v.SetDefault("SWEEP_CONCURRENCY", 4)
	v.SetDefault("REFUND_RECHECK_INTERVAL", "10m")
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("GATEWAY_MODE", "sandbox")
	v.SetDefault("ALIPAY_PRODUCTION", true)
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing required env: POSTGRES_URL")
		}
	case "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q, must be 'postgres' or 'sqlite'", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("missing required env: JWT_SECRET")
	}
	if c.PointsPerYuan <= 0 {
		return fmt.Errorf("POINTS_PER_YUAN must be positive, got %d", c.PointsPerYuan)
	}
	if c.OrderExpire <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("ORDER_EXPIRE_MINUTES and SWEEP_INTERVAL must be positive")
	}
	if c.GatewayMode != "sandbox" && c.GatewayMode != "live" {
		return fmt.Errorf("invalid GATEWAY_MODE %q, must be 'sandbox' or 'live'", c.GatewayMode)
	}
	return nil
}

// IsProduction reports whether logging and gin should run in release mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseDailyCaps parses "source:cap,source:cap" into a map. Empty input yields an empty map.
func ParseDailyCaps(raw string) (map[string]int64, error) {
	caps := make(map[string]int64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		source, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid POINTS_DAILY_CAPS entry %q", part)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cap for source %q: %q", source, value)
		}
		caps[strings.TrimSpace(source)] = n
	}
	return caps, nil
}
