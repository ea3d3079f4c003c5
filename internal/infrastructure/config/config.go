// Package config reads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/gateway/vnpay"
)

const (
	EnvProd = "prod"

	defaultServiceName       = "storefront"
	defaultEnv               = "dev"
	defaultHTTPAddr          = ":8080"
	defaultDBPath            = "storefront.db"
	defaultLowStockThreshold = 5
	defaultTaskMaxAttempts   = 5
	defaultEmailTopic        = "storefront.email"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	DBPath      string
	LogLevel    string
	LogFile     string

	VNPay vnpay.Config

	RestoreStockOnPaymentFailure bool
	LowStockThreshold            int
	TaskMaxAttempts              int

	// Empty adapter addresses select the in-memory implementations.
	RedisAddr       string
	AMQPURL         string
	KafkaBrokers    string
	KafkaEmailTopic string
	OtelEndpoint    string

	ShutdownTimeout time.Duration
}

// Load reads the environment. It fails on malformed values and on unsafe combinations.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		ServiceName: p.str("SERVICE_NAME", defaultServiceName),
		Env:         p.str("ENV", defaultEnv),
		HTTPAddr:    p.str("HTTP_ADDR", defaultHTTPAddr),
		DBPath:      p.str("DB_PATH", defaultDBPath),
		LogLevel:    p.str("LOG_LEVEL", ""),
		LogFile:     p.str("LOG_FILE", ""),
		VNPay: vnpay.Config{
			TmnCode:       p.str("VNPAY_TMN_CODE", ""),
			HashSecret:    p.str("VNPAY_HASH_SECRET", ""),
			PayURL:        p.str("VNPAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:     p.str("VNPAY_RETURN_URL", "http://localhost:8080/payments/vnpay/return"),
			Version:       p.str("VNPAY_VERSION", "2.1.0"),
			Command:       p.str("VNPAY_COMMAND", "pay"),
			OrderType:     p.str("VNPAY_ORDER_TYPE", "other"),
			Locale:        p.str("VNPAY_LOCALE", "vn"),
			CurrCode:      p.str("VNPAY_CURRENCY", "VND"),
			SkipSignature: p.boolean("VNPAY_SKIP_SIGNATURE", false),
		},
		RestoreStockOnPaymentFailure: p.boolean("RESTORE_STOCK_ON_PAYMENT_FAILURE", true),
		LowStockThreshold:            p.integer("LOW_STOCK_THRESHOLD", defaultLowStockThreshold),
		TaskMaxAttempts:              p.integer("TASK_MAX_ATTEMPTS", defaultTaskMaxAttempts),
		RedisAddr:                    p.str("REDIS_ADDR", ""),
		AMQPURL:                      p.str("AMQP_URL", ""),
		KafkaBrokers:                 p.str("KAFKA_BROKERS", ""),
		KafkaEmailTopic:              p.str("KAFKA_EMAIL_TOPIC", defaultEmailTopic),
		OtelEndpoint:                 p.str("OTEL_ENDPOINT", ""),
		ShutdownTimeout:              10 * time.Second,
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.VNPay.SkipSignature && c.Env == EnvProd {
		errs = append(errs, errors.New("config: VNPAY_SKIP_SIGNATURE cannot be enabled when ENV=prod"))
	}
	if c.Env == EnvProd && (c.VNPay.TmnCode == "" || c.VNPay.HashSecret == "") {
		errs = append(errs, errors.New("config: VNPAY_TMN_CODE and VNPAY_HASH_SECRET are required when ENV=prod"))
	}
	if c.LowStockThreshold < 0 {
		errs = append(errs, fmt.Errorf("config: LOW_STOCK_THRESHOLD must not be negative, got %d", c.LowStockThreshold))
	}
	if c.TaskMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("config: TASK_MAX_ATTEMPTS must be at least 1, got %d", c.TaskMaxAttempts))
	}
	return errors.Join(errs...)
}

// PaymentsEnabled reports whether merchant credentials are present.
func (c *Config) PaymentsEnabled() bool {
	return c.VNPay.TmnCode != "" && c.VNPay.HashSecret != ""
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}
